package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"

	"github.com/maruel/balloonist/balloon"
)

// Dir is a Backend storing one file per document in
// <root>/<partition>/<name><ext>.
//
// Writes go to a temporary file renamed over the target so readers never see
// a partial document. Directories and files whose name starts with a dot are
// ignored, which leaves room for a .git directory.
type Dir struct {
	root   string
	codec  Codec
	logger *slog.Logger

	mu      sync.Mutex
	written map[string]string // path -> digest of the last write by this process, or deleted
}

// deleted marks in Dir.written a document removed by this process until the
// watcher sees its removal.
const deleted = "-"

// DirOption configures a Dir.
type DirOption func(*Dir)

// WithCodec sets the document codec. Defaults to JSON.
func WithCodec(c Codec) DirOption {
	return func(d *Dir) { d.codec = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) DirOption {
	return func(d *Dir) { d.logger = l }
}

// NewDir returns a Dir rooted at root, creating it if needed.
func NewDir(root string, opts ...DirOption) (*Dir, error) {
	d := &Dir{root: root, codec: JSON, logger: slog.Default(), written: make(map[string]string)}
	for _, opt := range opts {
		opt(d)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return d, nil
}

// Root returns the root directory.
func (d *Dir) Root() string {
	return d.root
}

// Codec returns the document codec.
func (d *Dir) Codec() Codec {
	return d.codec
}

// RelPath returns the path of a document relative to the root, using forward
// slashes.
func (d *Dir) RelPath(partition, name string) string {
	return partition + "/" + name + d.codec.Ext()
}

func (d *Dir) path(partition, name string) string {
	return filepath.Join(d.root, partition, name+d.codec.Ext())
}

// Write implements Backend.
func (d *Dir) Write(ctx context.Context, partition, name string, doc balloon.Document) error {
	if err := ValidateKey(partition, name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := d.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", partition, name, err)
	}
	dir := filepath.Join(d.root, partition)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create partition directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		return errors.Join(fmt.Errorf("failed to write temp file: %w", err), f.Close(), os.Remove(tmp))
	}
	if err := f.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close temp file: %w", err), os.Remove(tmp))
	}
	target := d.path(partition, name)
	d.mu.Lock()
	d.written[target] = digest(data)
	d.mu.Unlock()
	if err := os.Rename(tmp, target); err != nil {
		return errors.Join(fmt.Errorf("failed to rename document to final location: %w", err), os.Remove(tmp))
	}
	d.logger.DebugContext(ctx, "storage: wrote", "partition", partition, "name", name, "bytes", len(data))
	return nil
}

// Read implements Backend.
func (d *Dir) Read(ctx context.Context, partition, name string) (balloon.Document, error) {
	if err := ValidateKey(partition, name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.path(partition, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NotFound(partition, name)
		}
		return nil, fmt.Errorf("failed to read %s/%s: %w", partition, name, err)
	}
	doc, err := d.codec.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", partition, name, err)
	}
	return doc, nil
}

// Exists implements Backend.
func (d *Dir) Exists(ctx context.Context, partition, name string) (bool, error) {
	if err := ValidateKey(partition, name); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(d.path(partition, name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Delete implements Backend.
func (d *Dir) Delete(ctx context.Context, partition, name string) error {
	if err := ValidateKey(partition, name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p := d.path(partition, name)
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NotFound(partition, name)
		}
		return fmt.Errorf("failed to delete %s/%s: %w", partition, name, err)
	}
	d.mu.Lock()
	d.written[p] = deleted
	d.mu.Unlock()
	d.logger.DebugContext(ctx, "storage: deleted", "partition", partition, "name", name)
	return nil
}

// Names implements Backend.
func (d *Dir) Names(ctx context.Context, partition string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(d.root, partition))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list partition %s: %w", partition, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if name, ok := d.docName(e.Name()); ok && !e.IsDir() {
			names = append(names, name)
		}
	}
	return names, nil
}

// Partitions implements Backend.
func (d *Dir) Partitions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list data directory: %w", err)
	}
	var parts []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names, err := d.Names(ctx, e.Name())
		if err != nil {
			return nil, err
		}
		if len(names) != 0 {
			parts = append(parts, e.Name())
		}
	}
	return parts, nil
}

// Digest returns the blake3 digest of the stored bytes of a document.
func (d *Dir) Digest(partition, name string) (string, error) {
	data, err := os.ReadFile(d.path(partition, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", NotFound(partition, name)
		}
		return "", err
	}
	return digest(data), nil
}

// docName returns the document name of a file name if it is a document.
func (d *Dir) docName(file string) (string, bool) {
	if strings.HasPrefix(file, ".") {
		return "", false
	}
	name, ok := strings.CutSuffix(file, d.codec.Ext())
	return name, ok && name != ""
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChangeOp is the kind of an external change.
type ChangeOp int

// Change kinds.
const (
	Changed ChangeOp = iota + 1
	Removed
)

func (o ChangeOp) String() string {
	switch o {
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("ChangeOp(%d)", int(o))
	}
}

// Change describes a document modified outside this process.
type Change struct {
	Partition string
	Name      string
	Op        ChangeOp
}

// Watch calls fn for every document created, modified or removed by another
// process, until ctx is cancelled. Writes and deletes done through d are not
// reported.
func (d *Dir) Watch(ctx context.Context, fn func(Change)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			d.logger.WarnContext(ctx, "storage: failed to close watcher", "err", err)
		}
	}()
	if err := w.Add(d.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", d.root, err)
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return fmt.Errorf("failed to list data directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			if err := w.Add(filepath.Join(d.root, e.Name())); err != nil {
				return fmt.Errorf("failed to watch partition %s: %w", e.Name(), err)
			}
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			d.handleEvent(ctx, w, event, fn)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.logger.WarnContext(ctx, "storage: watcher error", "err", err)
		}
	}
}

func (d *Dir) handleEvent(ctx context.Context, w *fsnotify.Watcher, event fsnotify.Event, fn func(Change)) {
	rel, err := filepath.Rel(d.root, event.Name)
	if err != nil {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 1 {
		if event.Has(fsnotify.Create) && !strings.HasPrefix(parts[0], ".") {
			if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
				if err := w.Add(event.Name); err != nil {
					d.logger.WarnContext(ctx, "storage: failed to watch partition", "partition", parts[0], "err", err)
				}
			}
		}
		return
	}
	if len(parts) != 2 || strings.HasPrefix(parts[0], ".") {
		return
	}
	name, ok := d.docName(parts[1])
	if !ok {
		return
	}
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		d.mu.Lock()
		self := d.written[event.Name] == deleted
		delete(d.written, event.Name)
		d.mu.Unlock()
		if !self {
			fn(Change{Partition: parts[0], Name: name, Op: Removed})
		}
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		data, err := os.ReadFile(event.Name)
		if err != nil {
			return
		}
		sum := digest(data)
		d.mu.Lock()
		last := d.written[event.Name]
		if last == deleted {
			// Stale event of a document this process deleted since.
			d.mu.Unlock()
			return
		}
		self := last == sum
		d.written[event.Name] = sum
		d.mu.Unlock()
		if !self {
			fn(Change{Partition: parts[0], Name: name, Op: Changed})
		}
	}
}

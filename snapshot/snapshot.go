// Package snapshot exports and imports every document of a storage backend
// as a single zstd compressed JSONL stream.
//
// The first line is a header listing the partitions; each following line is
// one document. Documents are sorted by partition then name so that exports
// of equal contents are byte identical.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/klauspost/compress/zstd"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/storage"
)

// Version is the snapshot format version.
const Version = "1"

var (
	errVersion = errors.New("unsupported snapshot version")
	errHeader  = errors.New("snapshot has no header")
)

// Header is the first line of a snapshot.
type Header struct {
	Version    string   `json:"version"`
	Partitions []string `json:"partitions"`
}

// Entry is one document line.
type Entry struct {
	Partition string           `json:"partition"`
	Name      string           `json:"name"`
	Document  balloon.Document `json:"document"`
}

// Export writes every document of b to w and returns the number of documents.
func Export(ctx context.Context, w io.Writer, b storage.Backend) (int, error) {
	parts, err := b.Partitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list partitions: %w", err)
	}
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return 0, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	bw := bufio.NewWriter(zw)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Header{Version: Version, Partitions: parts}); err != nil {
		_ = zw.Close()
		return 0, fmt.Errorf("failed to write header: %w", err)
	}
	n := 0
	for _, part := range parts {
		names, err := b.Names(ctx, part)
		if err != nil {
			_ = zw.Close()
			return n, fmt.Errorf("failed to list %s: %w", part, err)
		}
		for _, name := range names {
			doc, err := b.Read(ctx, part, name)
			if err != nil {
				_ = zw.Close()
				return n, fmt.Errorf("failed to read %s/%s: %w", part, name, err)
			}
			if err := enc.Encode(Entry{Partition: part, Name: name, Document: doc}); err != nil {
				_ = zw.Close()
				return n, fmt.Errorf("failed to write %s/%s: %w", part, name, err)
			}
			n++
		}
	}
	if err := bw.Flush(); err != nil {
		_ = zw.Close()
		return n, fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("failed to finish snapshot: %w", err)
	}
	return n, nil
}

// Import writes every document of the snapshot read from r to b, overwriting
// existing documents, and returns the number of documents written.
func Import(ctx context.Context, r io.Reader, b storage.Backend) (int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer zr.Close()
	dec := json.NewDecoder(zr)
	dec.UseNumber()

	var h Header
	if err := dec.Decode(&h); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, errHeader
		}
		return 0, fmt.Errorf("failed to read header: %w", err)
	}
	if h.Version != Version {
		return 0, fmt.Errorf("%w: %q", errVersion, h.Version)
	}
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var e Entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("failed to read entry %d: %w", n+1, err)
		}
		if !slices.Contains(h.Partitions, e.Partition) {
			return n, fmt.Errorf("entry %s/%s: partition not listed in header", e.Partition, e.Name)
		}
		if e.Document == nil {
			return n, fmt.Errorf("entry %s/%s: missing document", e.Partition, e.Name)
		}
		if err := b.Write(ctx, e.Partition, e.Name, e.Document); err != nil {
			return n, fmt.Errorf("failed to write %s/%s: %w", e.Partition, e.Name, err)
		}
		n++
	}
}

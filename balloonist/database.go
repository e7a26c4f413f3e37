package balloonist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/storage"
)

var (
	errNoRegistry = errors.New("balloonist: registry and backend are required")
	errNotFrozen  = errors.New("balloonist: registry must be frozen before opening a database")
)

type options struct {
	noOverwrite bool
	strict      bool
	cascade     bool
	logger      *slog.Logger
}

// Option configures a Database.
type Option func(*options)

// WithNoOverwrite makes Store and Track fail with balloon.ErrDuplicateName
// when a different instance already exists under the name.
func WithNoOverwrite() Option {
	return func(o *options) { o.noOverwrite = true }
}

// WithStrict rejects stored documents carrying fields unknown to their type.
func WithStrict() Option {
	return func(o *options) { o.strict = true }
}

// WithCascade makes Store also store the named structs referenced by the
// instance that are not stored yet. Referenced names already present in the
// backend are left untouched.
func WithCascade() Option {
	return func(o *options) { o.cascade = true }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// entry is a cached named instance.
type entry struct {
	n balloon.NamedStruct
	// stored is false for instances only registered with Track.
	stored bool
}

// Database holds one Partition per named base type of a registry, all backed
// by the same storage.Backend.
//
// Instances returned by Get are cached so that every reference to a name
// resolves to the same instance. A Database is safe for concurrent use.
type Database struct {
	reg        *balloon.Registry
	backend    storage.Backend
	opts       options
	log        *slog.Logger
	partitions map[string]*Partition

	mu    sync.RWMutex
	cache map[balloon.Reference]*entry

	locks keyLocks
	loads singleflight.Group
	refs  refIndex
}

// Open returns a Database over backend. reg must be frozen.
func Open(reg *balloon.Registry, backend storage.Backend, opts ...Option) (*Database, error) {
	if reg == nil || backend == nil {
		return nil, errNoRegistry
	}
	if !reg.Frozen() {
		return nil, errNotFrozen
	}
	db := &Database{
		reg:        reg,
		backend:    backend,
		partitions: map[string]*Partition{},
		cache:      map[balloon.Reference]*entry{},
	}
	for _, opt := range opts {
		opt(&db.opts)
	}
	db.log = db.opts.logger
	if db.log == nil {
		db.log = slog.Default()
	}
	for _, id := range reg.NamedBases() {
		db.partitions[id] = &Partition{db: db, id: id}
	}
	return db, nil
}

// Registry returns the registry the database was opened with.
func (db *Database) Registry() *balloon.Registry {
	return db.reg
}

// Backend returns the storage backend.
func (db *Database) Backend() storage.Backend {
	return db.backend
}

// Partition returns the partition of base type typeID.
func (db *Database) Partition(typeID string) (*Partition, error) {
	p, ok := db.partitions[typeID]
	if !ok {
		return nil, balloon.Errorf(balloon.ErrUnresolvedType, "no partition for type %q", typeID).WithDetail("type", typeID)
	}
	return p, nil
}

// Partitions returns the partition type IDs, sorted.
func (db *Database) Partitions() []string {
	out := make([]string, 0, len(db.partitions))
	for id := range db.partitions {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Resolve implements balloon.Resolver.
func (db *Database) Resolve(ctx context.Context, typeID, name string) (balloon.NamedStruct, error) {
	if _, err := db.Partition(typeID); err != nil {
		return nil, err
	}
	return db.get(ctx, balloon.Reference{Type: typeID, Name: name})
}

// Referrers returns the stored documents referencing typeID/name, sorted.
func (db *Database) Referrers(ctx context.Context, typeID, name string) ([]balloon.Reference, error) {
	if err := db.refs.ensureBuilt(db.scanner(ctx)); err != nil {
		return nil, fmt.Errorf("failed to index references: %w", err)
	}
	return db.refs.referrers(balloon.Reference{Type: typeID, Name: name}), nil
}

// Invalidate drops the cached instance of partition/name, or of the whole
// partition when name is empty. Call it when documents are modified outside
// of this Database.
func (db *Database) Invalidate(partition, name string) {
	db.mu.Lock()
	for key, e := range db.cache {
		if key.Type == partition && (name == "" || key.Name == name) && e.stored {
			delete(db.cache, key)
		}
	}
	db.mu.Unlock()
	db.refs.reset()
	db.log.Debug("invalidated", "partition", partition, "name", name)
}

// Problem is a stored document that cannot be loaded.
type Problem struct {
	Partition string
	Name      string
	Err       error
}

func (p Problem) String() string {
	return fmt.Sprintf("%s/%s: %v", p.Partition, p.Name, p.Err)
}

// Check inflates every stored document, bypassing the cache, and returns the
// ones that fail. Backend partitions without a registered type are reported
// with an empty Name.
func (db *Database) Check(ctx context.Context) ([]Problem, error) {
	parts, err := db.backend.Partitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	var out []Problem
	for _, part := range parts {
		if _, err := db.Partition(part); err != nil {
			out = append(out, Problem{Partition: part, Err: err})
			continue
		}
		names, err := db.backend.Names(ctx, part)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", part, err)
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s := db.newSession(true)
			if _, err := s.Resolve(ctx, part, name); err != nil {
				out = append(out, Problem{Partition: part, Name: name, Err: err})
			}
		}
	}
	db.log.Debug("checked", "partitions", len(parts), "problems", len(out))
	return out, nil
}

// lookup returns the cached instance of key, if any.
func (db *Database) lookup(key balloon.Reference) *entry {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.cache[key]
}

// get is the top-level load of key. Concurrent loads of one key share the
// same flight; nested references go through the session instead.
func (db *Database) get(ctx context.Context, key balloon.Reference) (balloon.NamedStruct, error) {
	if e := db.lookup(key); e != nil {
		return e.n, nil
	}
	v, err, _ := db.loads.Do(key.String(), func() (any, error) {
		if e := db.lookup(key); e != nil {
			return e.n, nil
		}
		s := db.newSession(false)
		if _, err := s.Resolve(ctx, key.Type, key.Name); err != nil {
			return nil, err
		}
		return db.commit(s.loaded, key), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(balloon.NamedStruct), nil
}

// commit caches the instances of a successful session and returns the cached
// instance of key. Instances cached concurrently take precedence.
func (db *Database) commit(loaded map[balloon.Reference]balloon.NamedStruct, key balloon.Reference) balloon.NamedStruct {
	db.mu.Lock()
	defer db.mu.Unlock()
	for k, n := range loaded {
		if _, ok := db.cache[k]; !ok {
			db.cache[k] = &entry{n: n, stored: true}
		}
	}
	return db.cache[key].n
}

// store deflates and writes n. visited guards cascading stores against
// reference cycles.
func (db *Database) store(ctx context.Context, n balloon.NamedStruct, visited map[balloon.Reference]bool) error {
	key := balloon.Reference{Type: n.BalloonType(), Name: n.Name()}
	visited[key] = true
	if e := db.lookup(key); e != nil && e.stored && sameInstance(e.n, n) {
		return nil
	}
	if db.opts.noOverwrite {
		if err := db.checkOverwrite(ctx, key, n); err != nil {
			return err
		}
	}
	var refs []balloon.NamedStruct
	d := balloon.Deflator{Registry: db.reg, OnReference: func(r balloon.NamedStruct) error {
		refs = append(refs, r)
		return nil
	}}
	doc, err := d.Deflate(n)
	if err != nil {
		return err
	}
	if db.opts.cascade {
		for _, r := range refs {
			rk := balloon.Reference{Type: r.BalloonType(), Name: r.Name()}
			if visited[rk] {
				continue
			}
			visited[rk] = true
			found, err := db.persisted(ctx, rk)
			if err != nil {
				return err
			}
			if found {
				continue
			}
			if err := db.store(ctx, r, visited); err != nil {
				return err
			}
		}
	}

	unlock := db.locks.lock(key)
	defer unlock()
	if db.opts.noOverwrite {
		if err := db.checkOverwrite(ctx, key, n); err != nil {
			return err
		}
	}
	if err := db.backend.Write(ctx, key.Type, key.Name, doc); err != nil {
		return err
	}
	db.mu.Lock()
	db.cache[key] = &entry{n: n, stored: true}
	db.mu.Unlock()
	db.refs.update(key, balloon.DocumentReferences(doc))
	db.log.DebugContext(ctx, "stored", "partition", key.Type, "name", key.Name, "references", len(refs))
	return nil
}

// persisted reports whether key is stored, either through this database or
// in the backend.
func (db *Database) persisted(ctx context.Context, key balloon.Reference) (bool, error) {
	if e := db.lookup(key); e != nil && e.stored {
		return true, nil
	}
	return db.backend.Exists(ctx, key.Type, key.Name)
}

// checkOverwrite returns balloon.ErrDuplicateName if a different instance
// already exists under key.
func (db *Database) checkOverwrite(ctx context.Context, key balloon.Reference, n balloon.NamedStruct) error {
	if e := db.lookup(key); e != nil {
		if sameInstance(e.n, n) {
			return nil
		}
		return duplicate(key)
	}
	found, err := db.backend.Exists(ctx, key.Type, key.Name)
	if err != nil {
		return err
	}
	if found {
		return duplicate(key)
	}
	return nil
}

func (db *Database) track(n balloon.NamedStruct) error {
	key := balloon.Reference{Type: n.BalloonType(), Name: n.Name()}
	db.mu.Lock()
	defer db.mu.Unlock()
	if e, ok := db.cache[key]; ok {
		if sameInstance(e.n, n) {
			return nil
		}
		if db.opts.noOverwrite {
			return duplicate(key)
		}
	}
	db.cache[key] = &entry{n: n}
	return nil
}

func (db *Database) delete(ctx context.Context, key balloon.Reference, force bool) error {
	unlock := db.locks.lock(key)
	defer unlock()
	if !force {
		refs, err := db.Referrers(ctx, key.Type, key.Name)
		if err != nil {
			return err
		}
		refs = slices.DeleteFunc(refs, func(r balloon.Reference) bool { return r == key })
		if len(refs) != 0 {
			names := make([]string, len(refs))
			for i, r := range refs {
				names[i] = r.String()
			}
			return balloon.Errorf(balloon.ErrReferenced, "%s is referenced by %d document(s)", key, len(refs)).
				WithDetail("referrers", names)
		}
	}
	e := db.lookup(key)
	if err := db.backend.Delete(ctx, key.Type, key.Name); err != nil {
		if !errors.Is(err, balloon.ErrNotFound) || e == nil || e.stored {
			return err
		}
	}
	db.mu.Lock()
	delete(db.cache, key)
	db.mu.Unlock()
	db.refs.remove(key)
	db.log.DebugContext(ctx, "deleted", "partition", key.Type, "name", key.Name, "force", force)
	return nil
}

// scanner returns a scanFunc reading every stored document.
func (db *Database) scanner(ctx context.Context) scanFunc {
	return func(fn func(balloon.Reference, balloon.Document)) error {
		parts, err := db.backend.Partitions(ctx)
		if err != nil {
			return err
		}
		for _, part := range parts {
			names, err := db.backend.Names(ctx, part)
			if err != nil {
				return err
			}
			for _, name := range names {
				doc, err := db.backend.Read(ctx, part, name)
				if err != nil {
					if errors.Is(err, balloon.ErrNotFound) {
						continue
					}
					return err
				}
				fn(balloon.Reference{Type: part, Name: name}, doc)
			}
		}
		return nil
	}
}

func duplicate(key balloon.Reference) error {
	return balloon.Errorf(balloon.ErrDuplicateName, "%s/%s already exists", key.Type, key.Name).
		WithDetail("partition", key.Type).
		WithDetail("name", key.Name)
}

// sameInstance reports whether a and b are the same in-memory instance.
func sameInstance(a, b balloon.NamedStruct) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
		return false
	}
	return va.Equal(vb)
}

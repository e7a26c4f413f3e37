package balloonist

import (
	"context"

	"github.com/maruel/balloonist/balloon"
)

// Balloonist is the typed view of a Partition whose named variant produces
// *balloon.Named[T] values.
type Balloonist[T balloon.Struct] struct {
	p *Partition
}

// For returns the typed view of the partition of base type typeID.
func For[T balloon.Struct](db *Database, typeID string) (*Balloonist[T], error) {
	p, err := db.Partition(typeID)
	if err != nil {
		return nil, err
	}
	return &Balloonist[T]{p: p}, nil
}

// Partition returns the untyped partition.
func (b *Balloonist[T]) Partition() *Partition {
	return b.p
}

// Store writes v under its name.
func (b *Balloonist[T]) Store(ctx context.Context, v *balloon.Named[T]) error {
	if v == nil {
		return balloon.NewError(balloon.ErrNotNamed, "cannot store a nil instance")
	}
	return b.p.Store(ctx, v)
}

// StoreNew names v with a fresh k-sortable name and stores it.
func (b *Balloonist[T]) StoreNew(ctx context.Context, v T) (*balloon.Named[T], error) {
	n := balloon.Promote(v, balloon.NewName())
	if err := b.p.Store(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Get returns the instance stored under name.
func (b *Balloonist[T]) Get(ctx context.Context, name string) (*balloon.Named[T], error) {
	n, err := b.p.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	v, ok := n.(*balloon.Named[T])
	if !ok {
		return nil, balloon.Errorf(balloon.ErrTypeMismatch, "%s/%s is a %T, not a %T", b.p.id, name, n, v)
	}
	return v, nil
}

// Track registers v for reference resolution without writing it.
func (b *Balloonist[T]) Track(v *balloon.Named[T]) error {
	if v == nil {
		return balloon.NewError(balloon.ErrNotNamed, "cannot track a nil instance")
	}
	return b.p.Track(v)
}

// Exists reports whether name is stored or tracked.
func (b *Balloonist[T]) Exists(ctx context.Context, name string) (bool, error) {
	return b.p.Exists(ctx, name)
}

// Names returns the stored and tracked names, sorted.
func (b *Balloonist[T]) Names(ctx context.Context) ([]string, error) {
	return b.p.Names(ctx)
}

// Delete removes name; see Partition.Delete.
func (b *Balloonist[T]) Delete(ctx context.Context, name string, force bool) error {
	return b.p.Delete(ctx, name, force)
}

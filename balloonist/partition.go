package balloonist

import (
	"context"
	"slices"

	"github.com/maruel/balloonist/balloon"
)

// Partition stores the named instances of one base type.
type Partition struct {
	db *Database
	id string
}

// TypeID returns the base type ID of the partition.
func (p *Partition) TypeID() string {
	return p.id
}

// Database returns the database owning the partition.
func (p *Partition) Database() *Database {
	return p.db
}

// Store deflates v and writes it under its name.
//
// Referenced named structs are written as references; with WithCascade the
// ones not stored yet are stored first.
func (p *Partition) Store(ctx context.Context, v balloon.Struct) error {
	n, err := p.check(v)
	if err != nil {
		return err
	}
	return p.db.store(ctx, n, map[balloon.Reference]bool{})
}

// Get returns the instance stored under name.
//
// Every reference to one name resolves to the same instance.
func (p *Partition) Get(ctx context.Context, name string) (balloon.NamedStruct, error) {
	if err := balloon.ValidateName(name); err != nil {
		return nil, err
	}
	return p.db.get(ctx, p.key(name))
}

// Track registers v for reference resolution without writing it.
func (p *Partition) Track(v balloon.Struct) error {
	n, err := p.check(v)
	if err != nil {
		return err
	}
	return p.db.track(n)
}

// Exists reports whether name is stored or tracked.
func (p *Partition) Exists(ctx context.Context, name string) (bool, error) {
	if p.db.lookup(p.key(name)) != nil {
		return true, nil
	}
	return p.db.backend.Exists(ctx, p.id, name)
}

// Names returns the stored and tracked names, sorted.
func (p *Partition) Names(ctx context.Context) ([]string, error) {
	names, err := p.db.backend.Names(ctx, p.id)
	if err != nil {
		return nil, err
	}
	p.db.mu.RLock()
	for key := range p.db.cache {
		if key.Type == p.id {
			names = append(names, key.Name)
		}
	}
	p.db.mu.RUnlock()
	slices.Sort(names)
	return slices.Compact(names), nil
}

// Delete removes name. Unless force is set, it fails with
// balloon.ErrReferenced while other stored documents reference it.
func (p *Partition) Delete(ctx context.Context, name string, force bool) error {
	if err := balloon.ValidateName(name); err != nil {
		return err
	}
	return p.db.delete(ctx, p.key(name), force)
}

func (p *Partition) key(name string) balloon.Reference {
	return balloon.Reference{Type: p.id, Name: name}
}

func (p *Partition) check(v balloon.Struct) (balloon.NamedStruct, error) {
	n, ok := balloon.AsNamed(v)
	if !ok {
		typ := "<nil>"
		if v != nil {
			typ = v.BalloonType()
		}
		return nil, balloon.Errorf(balloon.ErrNotNamed, "cannot store anonymous %s; promote it to a named struct first", typ)
	}
	if n.BalloonType() != p.id {
		return nil, balloon.Errorf(balloon.ErrTypeMismatch, "%s(%s) does not belong to partition %s", n.BalloonType(), n.Name(), p.id).
			WithDetail("type", n.BalloonType())
	}
	if err := balloon.ValidateName(n.Name()); err != nil {
		return nil, err
	}
	return n, nil
}

package balloonist

import (
	"context"

	"github.com/maruel/balloonist/balloon"
)

// session resolves the references of one top-level load.
//
// It memoizes every instance it inflates so that all references to a name
// within one call graph share the same instance, and tracks the keys being
// inflated to report resolution cycles instead of recursing forever. A
// session is used by a single goroutine.
type session struct {
	db *Database
	// fresh bypasses the database cache.
	fresh    bool
	inflight map[balloon.Reference]bool
	loaded   map[balloon.Reference]balloon.NamedStruct
}

func (db *Database) newSession(fresh bool) *session {
	return &session{
		db:       db,
		fresh:    fresh,
		inflight: map[balloon.Reference]bool{},
		loaded:   map[balloon.Reference]balloon.NamedStruct{},
	}
}

// Resolve implements balloon.Resolver.
func (s *session) Resolve(ctx context.Context, typeID, name string) (balloon.NamedStruct, error) {
	if _, err := s.db.Partition(typeID); err != nil {
		return nil, err
	}
	key := balloon.Reference{Type: typeID, Name: name}
	if n, ok := s.loaded[key]; ok {
		return n, nil
	}
	if !s.fresh {
		if e := s.db.lookup(key); e != nil {
			return e.n, nil
		}
	}
	if s.inflight[key] {
		return nil, balloon.Errorf(balloon.ErrResolutionCycle, "resolving %s requires itself", key).
			WithDetail("reference", key.String())
	}
	s.inflight[key] = true
	defer delete(s.inflight, key)

	doc, err := s.db.backend.Read(ctx, typeID, name)
	if err != nil {
		return nil, err
	}
	in := balloon.Inflator{Registry: s.db.reg, Resolver: s, Strict: s.db.opts.strict}
	n, err := in.InflateNamed(ctx, doc, typeID, name)
	if err != nil {
		return nil, err
	}
	s.loaded[key] = n
	s.db.log.DebugContext(ctx, "loaded", "partition", typeID, "name", name)
	return n, nil
}

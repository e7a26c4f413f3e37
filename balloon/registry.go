package balloon

import (
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Registry maps type IDs to descriptors and base types to their named variants.
//
// Registration is explicit and happens once at setup; Freeze validates the
// registered schemas and makes the registry read-only. Callers guarantee type
// IDs are globally unique.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]*TypeDescriptor
	named  map[string]string
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*TypeDescriptor),
		named: make(map[string]string),
	}
}

// Register adds desc. Registering the same descriptor twice is a no-op.
func (r *Registry) Register(desc *TypeDescriptor) error {
	if desc == nil {
		return NewError(ErrInvalidIdentifier, "nil type descriptor")
	}
	if err := validateIdentifier("type ID", desc.ID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return Errorf(ErrFrozen, "cannot register %q: registry is frozen", desc.ID)
	}
	if existing, ok := r.types[desc.ID]; ok {
		if existing == desc {
			return nil
		}
		return Errorf(ErrDuplicateType, "type %q is already registered", desc.ID)
	}
	seen := make(map[string]bool, len(desc.Fields))
	for _, f := range desc.Fields {
		if f.Name == "" {
			return Errorf(ErrInvalidIdentifier, "type %q has a field without a name", desc.ID)
		}
		if seen[f.Name] {
			return Errorf(ErrInvalidIdentifier, "type %q declares field %q twice", desc.ID, f.Name)
		}
		seen[f.Name] = true
	}
	switch {
	case desc.Base != "":
		if desc.Wrap == nil {
			return Errorf(ErrConstruction, "named variant %q has no Wrap function", desc.ID)
		}
		if other, ok := r.named[desc.Base]; ok {
			return Errorf(ErrDuplicateType, "type %q already has named variant %q", desc.Base, other)
		}
		r.named[desc.Base] = desc.ID
	case desc.Abstract:
		if len(desc.Fields) != 0 {
			return Errorf(ErrConstruction, "abstract type %q cannot declare fields", desc.ID)
		}
	default:
		if desc.New == nil || desc.Unpack == nil {
			return Errorf(ErrConstruction, "type %q needs both New and Unpack", desc.ID)
		}
	}
	r.types[desc.ID] = desc
	return nil
}

// MustRegister registers every descriptor and panics on failure. It is meant
// for package-level setup.
func (r *Registry) MustRegister(descs ...*TypeDescriptor) *Registry {
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Freeze validates cross-type references and makes the registry read-only.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil
	}
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		desc := r.types[id]
		for _, f := range desc.Fields {
			for _, target := range f.Type.structTargets(nil) {
				if _, ok := r.types[target]; !ok {
					return Errorf(ErrUnknownType, "field %s.%s references unknown type %q", id, f.Name, target)
				}
			}
			if err := validateKeys(f.Type); err != nil {
				return Errorf(ErrInvalidIdentifier, "field %s.%s: %v", id, f.Name, err)
			}
		}
		for _, iface := range desc.Implements {
			if _, ok := r.types[iface]; !ok {
				return Errorf(ErrUnknownType, "type %q implements unknown type %q", id, iface)
			}
		}
		if desc.Base != "" {
			base, ok := r.types[desc.Base]
			if !ok {
				return Errorf(ErrUnknownType, "named variant %q promotes unknown type %q", id, desc.Base)
			}
			if base.Abstract || base.Base != "" {
				return Errorf(ErrInvalidIdentifier, "named variant %q must promote a concrete anonymous type", id)
			}
		}
	}
	r.frozen = true
	return nil
}

func validateKeys(f FieldType) error {
	switch f.Kind {
	case KindList, KindOptional:
		return validateKeys(*f.Elem)
	case KindMap:
		if f.Key.Kind != KindString && f.Key.Kind != KindStruct {
			return Errorf(ErrInvalidIdentifier, "map key must be string or a struct type, got %s", f.Key)
		}
		return validateKeys(*f.Elem)
	case KindEnum:
		if len(f.Values) == 0 {
			return Errorf(ErrInvalidIdentifier, "enum without values")
		}
	}
	return nil
}

// Frozen reports whether Freeze succeeded.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Resolve returns the descriptor registered under id.
func (r *Registry) Resolve(id string) (*TypeDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.types[id]
	if !ok {
		return nil, Errorf(ErrUnknownType, "unknown type %q", id).WithDetail("type", id)
	}
	return desc, nil
}

// NamedVariantOf returns the ID of the named variant of base.
func (r *Registry) NamedVariantOf(base string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.named[base]
	if !ok {
		return "", Errorf(ErrNoNamedVariant, "type %q has no named variant", base).WithDetail("type", base)
	}
	return id, nil
}

// IsA reports whether values of type id are accepted where target is expected.
// An empty target accepts every type.
func (r *Registry) IsA(id, target string) bool {
	if target == "" || id == target {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isA(id, target, map[string]bool{})
}

func (r *Registry) isA(id, target string, seen map[string]bool) bool {
	if id == target {
		return true
	}
	if seen[id] {
		return false
	}
	seen[id] = true
	desc, ok := r.types[id]
	if !ok {
		return false
	}
	return slices.ContainsFunc(desc.Implements, func(iface string) bool {
		return r.isA(iface, target, seen)
	})
}

// Types returns all registered type IDs, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NamedBases returns the IDs of base types that have a named variant, sorted.
func (r *Registry) NamedBases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.named))
	for id := range r.named {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Equal reports whether a and b are structurally equal: same type and equal
// fields. Named structs must also share their name. Nested named structs are
// compared by reference.
func (r *Registry) Equal(a, b Struct) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	na, aNamed := AsNamed(a)
	nb, bNamed := AsNamed(b)
	if aNamed != bNamed {
		return false
	}
	if aNamed {
		if na.Name() != nb.Name() {
			return false
		}
		a, b = na.Anonymous(), nb.Anonymous()
	}
	if a.BalloonType() != b.BalloonType() {
		return false
	}
	d := &Deflator{Registry: r}
	ta, err := d.DeflateValue(a, AnyStruct)
	if err != nil {
		return false
	}
	tb, err := d.DeflateValue(b, AnyStruct)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(ta, tb)
}

func validateIdentifier(what, s string) error {
	if s == "" {
		return Errorf(ErrInvalidIdentifier, "%s is empty", what)
	}
	if strings.ContainsRune(s, ':') {
		return Errorf(ErrInvalidIdentifier, "%s %q contains ':'", what, s).WithDetail("value", s)
	}
	return nil
}

// ValidateName returns an error if name cannot identify a named struct.
func ValidateName(name string) error {
	return validateIdentifier("name", name)
}

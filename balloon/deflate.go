package balloon

import (
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Document is a stored top-level value tree: field name to value, without
// type wrapper nor name, both implied by the storage location.
type Document = map[string]any

// Deflator converts structs into value trees.
//
// A Deflator holds no mutable state and is safe for concurrent use.
type Deflator struct {
	Registry *Registry
	// OnReference, if set, is called for every named struct emitted as a
	// reference token. Returning an error aborts the deflation.
	OnReference func(NamedStruct) error
}

// Deflate converts a named struct into a document. Referenced named structs
// are emitted as reference tokens and never inlined.
func (d *Deflator) Deflate(s Struct) (Document, error) {
	n, ok := AsNamed(s)
	if !ok {
		typ := "<nil>"
		if s != nil {
			typ = s.BalloonType()
		}
		return nil, Errorf(ErrNotNamed, "cannot store anonymous %s; promote it to a named struct first", typ)
	}
	if err := ValidateName(n.Name()); err != nil {
		return nil, err
	}
	if _, err := d.Registry.NamedVariantOf(n.BalloonType()); err != nil {
		return nil, err
	}
	desc, err := d.Registry.Resolve(n.BalloonType())
	if err != nil {
		return nil, err
	}
	w := deflation{d: d, active: map[any]bool{}}
	return w.fields("", desc, n.Anonymous())
}

// DeflateValue converts a single field value of type ft into a value tree.
func (d *Deflator) DeflateValue(v any, ft FieldType) (any, error) {
	w := deflation{d: d, active: map[any]bool{}}
	return w.value("", v, ft)
}

// EncodeStructKey returns the mapping key form of s: a reference token for
// named structs and a:<type>:<canonical JSON of fields> for anonymous ones.
func (d *Deflator) EncodeStructKey(s Struct) (string, error) {
	w := deflation{d: d, active: map[any]bool{}}
	return w.structKey("", s)
}

// maxDepth bounds the nesting of anonymous structs. Value-typed structs have
// no identity, so a cycle through them is only detected by its depth.
const maxDepth = 1000

// deflation carries the active recursion path of one Deflate call.
type deflation struct {
	d      *Deflator
	active map[any]bool
	depth  int
}

func (w *deflation) fields(path string, desc *TypeDescriptor, s Struct) (map[string]any, error) {
	if desc.Abstract || desc.Unpack == nil {
		return nil, pathError(ErrTypeMismatch, path, "type %q cannot be instantiated", desc.ID)
	}
	if id, ok := identity(s); ok {
		if w.active[id] {
			return nil, pathError(ErrCyclicReference, path, "%s instance is its own ancestor", desc.ID)
		}
		w.active[id] = true
		defer delete(w.active, id)
	}
	if w.depth >= maxDepth {
		return nil, pathError(ErrCyclicReference, path, "%s nested deeper than %d levels", desc.ID, maxDepth)
	}
	w.depth++
	defer func() { w.depth-- }()
	values := desc.Unpack(s)
	out := make(map[string]any, len(desc.Fields))
	for _, f := range desc.Fields {
		p := joinPath(path, f.Name)
		v, ok := values[f.Name]
		if !ok && !f.Type.IsOptional() {
			return nil, pathError(ErrMissingField, p, "%s has no value for required field", desc.ID)
		}
		tree, err := w.value(p, v, f.Type)
		if err != nil {
			return nil, err
		}
		out[f.Name] = tree
	}
	return out, nil
}

func (w *deflation) value(path string, v any, ft FieldType) (any, error) {
	if ft.Kind == KindOptional {
		if isNil(v) {
			return nil, nil
		}
		return w.value(path, v, *ft.Elem)
	}
	rv := reflect.ValueOf(v)
	if isNil(v) {
		// A nil slice or map is an empty collection.
		switch {
		case ft.Kind == KindList && rv.Kind() == reflect.Slice:
			return []any{}, nil
		case ft.Kind == KindMap && rv.Kind() == reflect.Map:
			return map[string]any{}, nil
		}
		return nil, pathError(ErrTypeMismatch, path, "null value for %s", ft)
	}
	switch ft.Kind {
	case KindBool:
		if rv.Kind() == reflect.Bool {
			return rv.Bool(), nil
		}
	case KindInt:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return rv.Int(), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			if rv.Uint() > math.MaxInt64 {
				return nil, pathError(ErrTypeMismatch, path, "%d overflows int", rv.Uint())
			}
			return int64(rv.Uint()), nil
		}
	case KindFloat:
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64:
			return rv.Float(), nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return float64(rv.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return float64(rv.Uint()), nil
		}
	case KindString:
		if rv.Kind() == reflect.String {
			return rv.String(), nil
		}
	case KindEnum:
		if rv.Kind() == reflect.String {
			if !ft.allows(rv.String()) {
				return nil, pathError(ErrTypeMismatch, path, "%q is not one of %s", rv.String(), ft)
			}
			return rv.String(), nil
		}
	case KindStruct:
		if s, ok := v.(Struct); ok {
			return w.structValue(path, s, ft)
		}
	case KindList:
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			out := make([]any, rv.Len())
			for i := range rv.Len() {
				e, err := w.value(path+"["+strconv.Itoa(i)+"]", rv.Index(i).Interface(), *ft.Elem)
				if err != nil {
					return nil, err
				}
				out[i] = e
			}
			return out, nil
		}
	case KindMap:
		if rv.Kind() == reflect.Map {
			return w.mapping(path, rv, ft)
		}
	}
	return nil, pathError(ErrTypeMismatch, path, "%T is not a valid %s", v, ft)
}

func (w *deflation) structValue(path string, s Struct, ft FieldType) (any, error) {
	if !w.d.Registry.IsA(s.BalloonType(), ft.Type) {
		return nil, pathError(ErrTypeMismatch, path, "%s is not a %s", s.BalloonType(), ft.Type)
	}
	if n, ok := AsNamed(s); ok {
		return w.reference(path, n)
	}
	desc, err := w.d.Registry.Resolve(s.BalloonType())
	if err != nil {
		return nil, err
	}
	fields, err := w.fields(path, desc, s)
	if err != nil {
		return nil, err
	}
	return map[string]any{"type": desc.ID, "fields": fields}, nil
}

func (w *deflation) reference(path string, n NamedStruct) (string, error) {
	tok, err := EncodeReference(n.BalloonType(), n.Name())
	if err != nil {
		return "", err
	}
	if _, err := w.d.Registry.NamedVariantOf(n.BalloonType()); err != nil {
		return "", err
	}
	if w.d.OnReference != nil {
		if err := w.d.OnReference(n); err != nil {
			return "", err
		}
	}
	return tok, nil
}

func (w *deflation) mapping(path string, rv reflect.Value, ft FieldType) (map[string]any, error) {
	out := make(map[string]any, rv.Len())
	keys := rv.MapKeys()
	encoded := make([]string, len(keys))
	for i, k := range keys {
		if ft.Key.Kind == KindString {
			if k.Kind() != reflect.String {
				return nil, pathError(ErrTypeMismatch, path, "map key %v is not a string", k.Interface())
			}
			encoded[i] = k.String()
			continue
		}
		s, ok := k.Interface().(Struct)
		if !ok {
			return nil, pathError(ErrTypeMismatch, path, "map key %T is not a struct", k.Interface())
		}
		if !w.d.Registry.IsA(s.BalloonType(), ft.Key.Type) {
			return nil, pathError(ErrTypeMismatch, path, "map key %s is not a %s", s.BalloonType(), ft.Key.Type)
		}
		key, err := w.structKey(path, s)
		if err != nil {
			return nil, err
		}
		encoded[i] = key
	}
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return encoded[order[a]] < encoded[order[b]] })
	for _, i := range order {
		key := encoded[i]
		if _, dup := out[key]; dup {
			return nil, pathError(ErrMalformedKey, path, "two keys encode to %q", key)
		}
		v, err := w.value(path+"["+key+"]", rv.MapIndex(keys[i]).Interface(), *ft.Elem)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (w *deflation) structKey(path string, s Struct) (string, error) {
	if n, ok := AsNamed(s); ok {
		return w.reference(path, n)
	}
	desc, err := w.d.Registry.Resolve(s.BalloonType())
	if err != nil {
		return "", err
	}
	fields, err := w.fields(path, desc, s)
	if err != nil {
		return "", err
	}
	payload, err := canonicalJSON(fields)
	if err != nil {
		return "", pathError(ErrMalformedKey, path, "cannot encode %s key", desc.ID).Wrap(err)
	}
	return anonPrefix + desc.ID + ":" + payload, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

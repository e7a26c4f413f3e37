package balloon

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Resolver maps a reference to a named struct during inflation.
//
// Implementations return an error wrapping ErrNotFound when the name does not
// exist and ErrResolutionCycle when resolving it requires itself.
type Resolver interface {
	Resolve(ctx context.Context, typeID, name string) (NamedStruct, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, typeID, name string) (NamedStruct, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, typeID, name string) (NamedStruct, error) {
	return f(ctx, typeID, name)
}

// Inflator reconstructs structs from value trees.
//
// Unknown fields are ignored unless Strict is set. An Inflator holds no
// mutable state; cycle detection across references is the Resolver's job.
type Inflator struct {
	Registry *Registry
	Resolver Resolver
	Strict   bool
}

// Inflate reconstructs an anonymous struct of type typeID from its fields.
func (in *Inflator) Inflate(ctx context.Context, doc Document, typeID string) (Struct, error) {
	desc, err := in.Registry.Resolve(typeID)
	if err != nil {
		return nil, err
	}
	return in.fields(ctx, "", desc, doc)
}

// InflateNamed reconstructs the named struct name of base type baseID.
func (in *Inflator) InflateNamed(ctx context.Context, doc Document, baseID, name string) (NamedStruct, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	variantID, err := in.Registry.NamedVariantOf(baseID)
	if err != nil {
		return nil, err
	}
	variant, err := in.Registry.Resolve(variantID)
	if err != nil {
		return nil, err
	}
	base, err := in.Inflate(ctx, doc, baseID)
	if err != nil {
		return nil, err
	}
	n, err := variant.Wrap(name, base)
	if err != nil {
		return nil, Errorf(ErrConstruction, "cannot promote %s to %s", baseID, variantID).Wrap(err)
	}
	return n, nil
}

// InflateValue reconstructs a single field value of type ft.
func (in *Inflator) InflateValue(ctx context.Context, tree any, ft FieldType) (any, error) {
	return in.value(ctx, "", tree, ft)
}

// DecodeStructKey reconstructs a mapping key produced by
// Deflator.EncodeStructKey.
func (in *Inflator) DecodeStructKey(ctx context.Context, key string, ft FieldType) (Struct, error) {
	return in.structKey(ctx, "", key, ft)
}

func (in *Inflator) fields(ctx context.Context, path string, desc *TypeDescriptor, doc map[string]any) (Struct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if desc.Abstract || desc.New == nil {
		return nil, pathError(ErrTypeMismatch, path, "type %q cannot be instantiated", desc.ID)
	}
	values := make(Values, len(desc.Fields))
	for _, f := range desc.Fields {
		p := joinPath(path, f.Name)
		raw, ok := doc[f.Name]
		if !ok {
			if f.Type.IsOptional() {
				values[f.Name] = nil
				continue
			}
			return nil, pathError(ErrMissingField, p, "missing required field of %s", desc.ID)
		}
		v, err := in.value(ctx, p, raw, f.Type)
		if err != nil {
			return nil, err
		}
		values[f.Name] = v
	}
	if in.Strict {
		extra := make([]string, 0)
		for k := range doc {
			if _, ok := desc.Field(k); !ok {
				extra = append(extra, k)
			}
		}
		if len(extra) != 0 {
			sort.Strings(extra)
			return nil, pathError(ErrUnexpectedField, joinPath(path, extra[0]), "%s has no such field", desc.ID).WithDetail("fields", extra)
		}
	}
	return construct(path, desc, values)
}

func construct(path string, desc *TypeDescriptor, values Values) (s Struct, err error) {
	defer func() {
		if r := recover(); r != nil {
			s = nil
			err = pathError(ErrConstruction, path, "%s constructor panicked: %v", desc.ID, r)
		}
	}()
	s, err = desc.New(values)
	if err != nil {
		return nil, pathError(ErrConstruction, path, "cannot construct %s", desc.ID).Wrap(err)
	}
	if s == nil || s.BalloonType() != desc.ID {
		return nil, pathError(ErrConstruction, path, "%s constructor returned %T", desc.ID, s)
	}
	return s, nil
}

func (in *Inflator) value(ctx context.Context, path string, raw any, ft FieldType) (any, error) {
	if ft.Kind == KindOptional {
		if raw == nil {
			return nil, nil
		}
		return in.value(ctx, path, raw, *ft.Elem)
	}
	if raw == nil {
		return nil, pathError(ErrTypeMismatch, path, "null value for %s", ft)
	}
	switch ft.Kind {
	case KindBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case KindInt:
		if i, ok := toInt64(raw); ok {
			return i, nil
		}
	case KindFloat:
		if f, ok := toFloat64(raw); ok {
			return f, nil
		}
	case KindString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case KindEnum:
		if s, ok := raw.(string); ok {
			if !ft.allows(s) {
				return nil, pathError(ErrTypeMismatch, path, "%q is not one of %s", s, ft)
			}
			return s, nil
		}
	case KindStruct:
		switch t := raw.(type) {
		case string:
			ref, ok := DecodeReference(t)
			if !ok {
				return nil, pathError(ErrTypeMismatch, path, "string %q is not a reference", t)
			}
			return in.reference(ctx, path, ref, ft)
		case map[string]any:
			return in.nested(ctx, path, t, ft)
		}
	case KindList:
		if l, ok := raw.([]any); ok {
			out := make([]any, len(l))
			for i, e := range l {
				v, err := in.value(ctx, path+"["+strconv.Itoa(i)+"]", e, *ft.Elem)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		}
	case KindMap:
		if m, ok := raw.(map[string]any); ok {
			return in.mapping(ctx, path, m, ft)
		}
	}
	return nil, pathError(ErrTypeMismatch, path, "%s expected, got %s", ft, describe(raw))
}

func (in *Inflator) nested(ctx context.Context, path string, node map[string]any, ft FieldType) (Struct, error) {
	typeID, ok := node["type"].(string)
	if !ok {
		return nil, pathError(ErrTypeMismatch, path, "nested struct without a type")
	}
	fields, ok := node["fields"].(map[string]any)
	if !ok {
		return nil, pathError(ErrTypeMismatch, path, "nested %s without fields", typeID)
	}
	desc, err := in.Registry.Resolve(typeID)
	if err != nil {
		return nil, err
	}
	if !in.Registry.IsA(typeID, ft.Type) {
		return nil, pathError(ErrTypeMismatch, path, "%s is not a %s", typeID, ft.Type)
	}
	return in.fields(ctx, path, desc, fields)
}

func (in *Inflator) reference(ctx context.Context, path string, ref Reference, ft FieldType) (NamedStruct, error) {
	if _, err := in.Registry.Resolve(ref.Type); err != nil {
		return nil, err
	}
	if !in.Registry.IsA(ref.Type, ft.Type) {
		return nil, pathError(ErrTypeMismatch, path, "%s is not a %s", ref, ft.Type)
	}
	if in.Resolver == nil {
		return nil, pathError(ErrDanglingReference, path, "no resolver for %s", ref)
	}
	n, err := in.Resolver.Resolve(ctx, ref.Type, ref.Name)
	if err != nil {
		if CodeOf(err) == ErrNotFound {
			// Not wrapped: a missing referent must not match ErrNotFound.
			return nil, pathError(ErrDanglingReference, path, "%s does not exist", ref).WithDetail("reference", ref.String())
		}
		return nil, err
	}
	if n.BalloonType() != ref.Type || n.Name() != ref.Name {
		return nil, pathError(ErrTypeMismatch, path, "resolver returned %s(%s) for %s", n.BalloonType(), n.Name(), ref)
	}
	return n, nil
}

func (in *Inflator) mapping(ctx context.Context, path string, m map[string]any, ft FieldType) (any, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if ft.Key.Kind == KindString {
		out := make(map[string]any, len(m))
		for _, k := range keys {
			v, err := in.value(ctx, path+"["+k+"]", m[k], *ft.Elem)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	out := make(map[Struct]any, len(m))
	for _, k := range keys {
		p := path + "[" + k + "]"
		s, err := in.structKey(ctx, p, k, *ft.Key)
		if err != nil {
			return nil, err
		}
		v, err := in.value(ctx, p, m[k], *ft.Elem)
		if err != nil {
			return nil, err
		}
		out[s] = v
	}
	return out, nil
}

func (in *Inflator) structKey(ctx context.Context, path, key string, ft FieldType) (Struct, error) {
	if ref, ok := DecodeReference(key); ok {
		return in.reference(ctx, path, ref, ft)
	}
	typeID, payload, ok := splitAnonymousKey(key)
	if !ok {
		return nil, pathError(ErrMalformedKey, path, "%q is neither a reference nor an anonymous struct key", key)
	}
	fields, err := decodeJSON(payload)
	if err != nil {
		return nil, pathError(ErrMalformedKey, path, "invalid %s key payload", typeID).Wrap(err)
	}
	desc, err := in.Registry.Resolve(typeID)
	if err != nil {
		return nil, pathError(ErrMalformedKey, path, "key of unknown type").Wrap(err)
	}
	if !in.Registry.IsA(typeID, ft.Type) {
		return nil, pathError(ErrTypeMismatch, path, "key %s is not a %s", typeID, ft.Type)
	}
	s, err := in.fields(ctx, path, desc, fields)
	if err != nil {
		return nil, err
	}
	if !reflect.TypeOf(s).Comparable() {
		return nil, pathError(ErrMalformedKey, path, "%s values cannot be map keys", typeID)
	}
	return s, nil
}

// toInt64 accepts the integer representations produced by JSON and CBOR decoders.
func toInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case uint32:
		return int64(v), true
	case float64:
		if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat64(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(raw); ok {
		return float64(i), true
	}
	return 0, false
}

func describe(raw any) string {
	switch raw.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	case json.Number, int64, int, int32, uint64, uint32, float64, float32:
		return "number"
	}
	return fmt.Sprintf("%T", raw)
}

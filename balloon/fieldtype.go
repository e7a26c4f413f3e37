package balloon

import (
	"fmt"
	"strings"
)

// Kind is the shape of a field value.
type Kind int

// Field kinds.
const (
	KindBool Kind = iota + 1
	KindInt
	KindFloat
	KindString
	KindEnum
	KindStruct
	KindList
	KindMap
	KindOptional
)

// FieldType describes the values a field accepts.
//
// Its textual form is: bool, int, float, string, enum(a|b), any, <TypeID>,
// []T, map[K]V and *T for optional values.
type FieldType struct {
	Kind Kind
	// Type is the target type ID for KindStruct. Empty accepts any struct.
	Type string
	// Values lists the accepted strings for KindEnum.
	Values []string
	// Key is the key type for KindMap; either String or a struct type.
	Key *FieldType
	// Elem is the element type for KindList, KindMap and KindOptional.
	Elem *FieldType
}

// Scalar field types.
var (
	Bool      = FieldType{Kind: KindBool}
	Int       = FieldType{Kind: KindInt}
	Float     = FieldType{Kind: KindFloat}
	String    = FieldType{Kind: KindString}
	AnyStruct = FieldType{Kind: KindStruct}
)

// StructOf returns a field type accepting structs of type id or implementing id.
func StructOf(id string) FieldType {
	return FieldType{Kind: KindStruct, Type: id}
}

// ListOf returns an ordered sequence field type.
func ListOf(elem FieldType) FieldType {
	return FieldType{Kind: KindList, Elem: &elem}
}

// MapOf returns a mapping field type. key must be String or a struct type.
func MapOf(key, elem FieldType) FieldType {
	return FieldType{Kind: KindMap, Key: &key, Elem: &elem}
}

// Optional returns a field type that also accepts null and absence.
func Optional(elem FieldType) FieldType {
	if elem.Kind == KindOptional {
		return elem
	}
	return FieldType{Kind: KindOptional, Elem: &elem}
}

// Enum returns a string field type restricted to values.
func Enum(values ...string) FieldType {
	return FieldType{Kind: KindEnum, Values: values}
}

// IsOptional reports whether a missing or null value is acceptable.
func (f FieldType) IsOptional() bool {
	return f.Kind == KindOptional
}

func (f FieldType) String() string {
	switch f.Kind {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindEnum:
		return "enum(" + strings.Join(f.Values, "|") + ")"
	case KindStruct:
		if f.Type == "" {
			return "any"
		}
		return f.Type
	case KindList:
		return "[]" + f.Elem.String()
	case KindMap:
		return "map[" + f.Key.String() + "]" + f.Elem.String()
	case KindOptional:
		return "*" + f.Elem.String()
	default:
		return fmt.Sprintf("kind(%d)", int(f.Kind))
	}
}

func (f FieldType) allows(value string) bool {
	for _, v := range f.Values {
		if v == value {
			return true
		}
	}
	return false
}

// structTargets appends every struct type ID referenced by f.
func (f FieldType) structTargets(out []string) []string {
	switch f.Kind {
	case KindStruct:
		if f.Type != "" {
			out = append(out, f.Type)
		}
	case KindList, KindOptional:
		out = f.Elem.structTargets(out)
	case KindMap:
		out = f.Key.structTargets(out)
		out = f.Elem.structTargets(out)
	}
	return out
}

// ParseFieldType parses the textual form of a field type.
func ParseFieldType(s string) (FieldType, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return FieldType{}, fmt.Errorf("empty field type")
	case s == "bool":
		return Bool, nil
	case s == "int":
		return Int, nil
	case s == "float":
		return Float, nil
	case s == "string":
		return String, nil
	case s == "any":
		return AnyStruct, nil
	case strings.HasPrefix(s, "*"):
		elem, err := ParseFieldType(s[1:])
		if err != nil {
			return FieldType{}, err
		}
		return Optional(elem), nil
	case strings.HasPrefix(s, "[]"):
		elem, err := ParseFieldType(s[2:])
		if err != nil {
			return FieldType{}, err
		}
		return ListOf(elem), nil
	case strings.HasPrefix(s, "map["):
		end := strings.IndexByte(s, ']')
		if end == -1 {
			return FieldType{}, fmt.Errorf("unterminated map key in %q", s)
		}
		key, err := ParseFieldType(s[len("map["):end])
		if err != nil {
			return FieldType{}, err
		}
		if key.Kind != KindString && key.Kind != KindStruct {
			return FieldType{}, fmt.Errorf("map key must be string or a struct type, got %s", key)
		}
		elem, err := ParseFieldType(s[end+1:])
		if err != nil {
			return FieldType{}, err
		}
		return MapOf(key, elem), nil
	case strings.HasPrefix(s, "enum(") && strings.HasSuffix(s, ")"):
		inner := s[len("enum(") : len(s)-1]
		if inner == "" {
			return FieldType{}, fmt.Errorf("enum without values")
		}
		values := strings.Split(inner, "|")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		return Enum(values...), nil
	default:
		if strings.ContainsAny(s, ":[]()*| \t") {
			return FieldType{}, fmt.Errorf("invalid type identifier %q", s)
		}
		return StructOf(s), nil
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f FieldType) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *FieldType) UnmarshalText(b []byte) error {
	v, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

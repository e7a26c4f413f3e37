package balloon

import (
	"fmt"
	"reflect"

	"github.com/maruel/ksid"
)

// Struct is an immutable record whose fields are described by the
// TypeDescriptor registered under BalloonType().
type Struct interface {
	BalloonType() string
}

// NamedStruct is a Struct with an identity unique within its base type's
// partition. BalloonType returns the base type ID.
type NamedStruct interface {
	Struct
	Name() string
	// Anonymous returns the struct without its identity.
	Anonymous() Struct
}

// AsNamed discriminates named structs from anonymous ones.
func AsNamed(s Struct) (NamedStruct, bool) {
	n, ok := s.(NamedStruct)
	return n, ok
}

// Named promotes an anonymous value of type T to a named struct.
type Named[T Struct] struct {
	name  string
	value T
}

// Promote returns value named name.
func Promote[T Struct](value T, name string) *Named[T] {
	return &Named[T]{name: name, value: value}
}

// BalloonType implements Struct.
func (n *Named[T]) BalloonType() string {
	return n.value.BalloonType()
}

// Name implements NamedStruct.
func (n *Named[T]) Name() string {
	return n.name
}

// Anonymous implements NamedStruct.
func (n *Named[T]) Anonymous() Struct {
	return n.value
}

// Value returns the anonymous value.
func (n *Named[T]) Value() T {
	return n.value
}

func (n *Named[T]) String() string {
	return fmt.Sprintf("%s(%s)", n.value.BalloonType(), n.name)
}

// NewName returns a fresh k-sortable instance name.
func NewName() string {
	return ksid.NewID().String()
}

// Field is one entry of a type's field schema.
type Field struct {
	Name string
	Type FieldType
}

// TypeDescriptor associates a type ID with its schema and constructor.
type TypeDescriptor struct {
	// ID is the caller-chosen, globally unique type identifier.
	ID string
	// Fields is the ordered field schema.
	Fields []Field
	// Implements lists abstract type IDs this type satisfies as a field target.
	Implements []string
	// Abstract types have no fields nor constructor and only serve as targets.
	Abstract bool
	// New builds an instance from inflated field values.
	New func(Values) (Struct, error)
	// Unpack returns the field values of an instance.
	Unpack func(Struct) Values

	// Base is set on named variants to the ID of the anonymous type they promote.
	Base string
	// Wrap promotes an instance of Base to a named struct.
	Wrap func(name string, base Struct) (NamedStruct, error)
}

// Field returns the schema entry for name.
func (d *TypeDescriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// NamedVariant returns the descriptor of the named variant of base, producing
// *Named[T] values.
func NamedVariant[T Struct](id, base string) *TypeDescriptor {
	return &TypeDescriptor{
		ID:   id,
		Base: base,
		Wrap: func(name string, s Struct) (NamedStruct, error) {
			v, ok := s.(T)
			if !ok {
				var zero T
				return nil, fmt.Errorf("expected %T, got %T", zero, s)
			}
			return Promote(v, name), nil
		},
	}
}

// Values holds field values by field name.
//
// Inflated values are normalized: int fields hold int64, float fields
// float64, enum and string fields string, lists []any, string-keyed maps
// map[string]any and struct-keyed maps map[Struct]any. Optional fields hold
// nil when absent.
type Values map[string]any

// Has reports whether name holds a non-nil value.
func (v Values) Has(name string) bool {
	return v[name] != nil
}

// String returns the string value of name.
func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

// Int returns the integer value of name.
func (v Values) Int(name string) int64 {
	i, _ := v[name].(int64)
	return i
}

// Float returns the float value of name.
func (v Values) Float(name string) float64 {
	f, _ := v[name].(float64)
	return f
}

// Bool returns the boolean value of name.
func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

// Struct returns the struct value of name.
func (v Values) Struct(name string) Struct {
	s, _ := v[name].(Struct)
	return s
}

// List returns the list value of name.
func (v Values) List(name string) []any {
	l, _ := v[name].([]any)
	return l
}

// StringMap returns the string-keyed map value of name.
func (v Values) StringMap(name string) map[string]any {
	m, _ := v[name].(map[string]any)
	return m
}

// StructMap returns the struct-keyed map value of name.
func (v Values) StructMap(name string) map[Struct]any {
	m, _ := v[name].(map[Struct]any)
	return m
}

// identity returns a key for pointer-backed structs, used to detect cycles.
func identity(s Struct) (any, bool) {
	rv := reflect.ValueOf(s)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, false
		}
		return struct {
			t reflect.Type
			p uintptr
		}{rv.Type(), rv.Pointer()}, true
	}
	return nil, false
}

package manifest

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/maruel/balloonist/balloon"
)

// Record is an instance of a type declared in a manifest. Its fields are held
// by name as normalized balloon.Values.
//
// Records are compared by identity; use balloon.Registry.Equal for
// structural equality.
type Record struct {
	typ    string
	values balloon.Values
}

// NewRecord returns a record of type typeID. values is copied.
func NewRecord(typeID string, values balloon.Values) *Record {
	return &Record{typ: typeID, values: maps.Clone(values)}
}

// BalloonType implements balloon.Struct.
func (r *Record) BalloonType() string {
	return r.typ
}

// Get returns the value of field name.
func (r *Record) Get(name string) any {
	return r.values[name]
}

// Values returns a copy of the field values.
func (r *Record) Values() balloon.Values {
	return maps.Clone(r.values)
}

func (r *Record) String() string {
	keys := slices.Sorted(maps.Keys(r.values))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, r.values[k])
	}
	return r.typ + "{" + strings.Join(parts, ", ") + "}"
}

func recordConstructor(typeID string) func(balloon.Values) (balloon.Struct, error) {
	return func(v balloon.Values) (balloon.Struct, error) {
		return &Record{typ: typeID, values: v}, nil
	}
}

func unpackRecord(s balloon.Struct) balloon.Values {
	r, ok := s.(*Record)
	if !ok {
		return balloon.Values{}
	}
	return r.values
}

package manifest

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/balloonist"
	"github.com/maruel/balloonist/internal/zoo"
	"github.com/maruel/balloonist/storage"
)

func TestParse(t *testing.T) {
	t.Parallel()
	m, err := Parse(filepath.Join("testdata", "zoo.yaml"))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(m.Types) != 4 {
		t.Fatalf("expected 4 types, got %d", len(m.Types))
	}
	cat := m.Types[2]
	if cat.ID != "Cat" || cat.Named != "Named.Cat" || !slices.Equal(cat.Implements, []string{"Animal"}) {
		t.Errorf("unexpected Cat: %+v", cat)
	}
	reg, err := m.Registry()
	if err != nil {
		t.Fatalf("Registry() failed: %v", err)
	}
	want := []string{"Animal", "Cat", "Named.Cat", "Named.Owner", "Owner", "Size"}
	if got := reg.Types(); !slices.Equal(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
	desc, err := reg.Resolve("Cat")
	if err != nil {
		t.Fatal(err)
	}
	if f, _ := desc.Field("purr_type"); f.Type.String() != "*enum(loud|soft)" {
		t.Errorf("purr_type = %s", f.Type)
	}
}

func TestParseBytes_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
	}{
		{"invalid version", "version: 2\ntypes: []"},
		{"unknown key", "version: 1\ntypes:\n  - id: A\n    colour: red"},
		{"missing id", "version: 1\ntypes:\n  - fields: [{name: a, type: int}]"},
		{"missing field name", "version: 1\ntypes:\n  - id: A\n    fields: [{type: int}]"},
		{"bad field type", "version: 1\ntypes:\n  - id: A\n    fields: [{name: a, type: \"map[int]int\"}]"},
		{"abstract with fields", "version: 1\ntypes:\n  - id: A\n    abstract: true\n    fields: [{name: a, type: int}]"},
		{"abstract named", "version: 1\ntypes:\n  - id: A\n    abstract: true\n    named: Named.A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseBytes([]byte(tt.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestRegistryErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		code balloon.ErrorCode
	}{
		{"unknown target", "version: 1\ntypes:\n  - id: A\n    fields: [{name: b, type: B}]", balloon.ErrUnknownType},
		{"duplicate", "version: 1\ntypes:\n  - id: A\n  - id: A", balloon.ErrDuplicateType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := ParseBytes([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("ParseBytes() failed: %v", err)
			}
			_, err = m.Registry()
			if got := balloon.CodeOf(err); got != tt.code {
				t.Errorf("Registry() = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestRecords(t *testing.T) {
	t.Parallel()
	m, err := Parse(filepath.Join("testdata", "zoo.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	reg, err := m.Registry()
	if err != nil {
		t.Fatal(err)
	}
	b := storage.NewMemory()
	abigail := balloon.Promote(NewRecord("Cat", balloon.Values{
		"size":      NewRecord("Size", balloon.Values{"height": int64(10), "weight": int64(5)}),
		"purr_type": "loud",
	}), "abigail")
	alice := balloon.Promote(NewRecord("Owner", balloon.Values{
		"pet_nicknames": map[balloon.Struct]any{abigail: "abby"},
		"tags":          []any{"cat person"},
	}), "alice")

	db, err := balloonist.Open(reg, b, balloonist.WithCascade())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	owners, err := balloonist.For[*Record](db, "Owner")
	if err != nil {
		t.Fatal(err)
	}
	if err := owners.Store(t.Context(), alice); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}

	db, err = balloonist.Open(reg, b, balloonist.WithStrict())
	if err != nil {
		t.Fatal(err)
	}
	owners, _ = balloonist.For[*Record](db, "Owner")
	got, err := owners.Get(t.Context(), "alice")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !reg.Equal(got, alice) {
		t.Errorf("Get() = %v, want %v", got, alice)
	}
	nicks := got.Value().Get("pet_nicknames").(map[balloon.Struct]any)
	for k, v := range nicks {
		cat, ok := k.(*balloon.Named[*Record])
		if !ok || cat.Name() != "abigail" || v != "abby" {
			t.Errorf("pet_nicknames = %v", nicks)
			continue
		}
		if size := cat.Value().Get("size").(*Record); size.Get("height") != int64(10) {
			t.Errorf("size = %v", size)
		}
	}

	bad := balloon.Promote(NewRecord("Cat", balloon.Values{
		"size":      NewRecord("Size", balloon.Values{"height": int64(1), "weight": int64(1)}),
		"purr_type": "silent",
	}), "zed")
	cats, _ := balloonist.For[*Record](db, "Cat")
	if err := cats.Store(t.Context(), bad); balloon.CodeOf(err) != balloon.ErrTypeMismatch {
		t.Errorf("Store() with an invalid enum = %v", err)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	m, err := Describe(zoo.Registry())
	if err != nil {
		t.Fatalf("Describe() failed: %v", err)
	}
	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if !strings.Contains(string(data), "named: Named.Cat") {
		t.Errorf("Marshal() = %s", data)
	}
	m2, err := ParseBytes(data)
	if err != nil {
		t.Fatalf("ParseBytes() failed: %v\n%s", err, data)
	}
	reg, err := m2.Registry()
	if err != nil {
		t.Fatalf("Registry() failed: %v", err)
	}
	if got, want := reg.Types(), zoo.Registry().Types(); !slices.Equal(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
	desc, err := reg.Resolve("Owner")
	if err != nil {
		t.Fatal(err)
	}
	if f, _ := desc.Field("pet_nicknames"); f.Type.String() != "map[Animal]string" {
		t.Errorf("pet_nicknames = %s", f.Type)
	}
}

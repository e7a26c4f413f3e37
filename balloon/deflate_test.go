package balloon_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/internal/zoo"
)

// node is a pointer-backed struct able to form cycles.
type node struct {
	next balloon.Struct
}

func (*node) BalloonType() string { return "Node" }

// link is a value-typed struct; its pointer only holds the next element.
type link struct {
	child *link
}

func (link) BalloonType() string { return "Link" }

// chart maps anonymous Size keys to labels.
type chart struct {
	labels map[balloon.Struct]string
}

func (chart) BalloonType() string { return "Chart" }

func testRegistry(t *testing.T) *balloon.Registry {
	t.Helper()
	r := balloon.NewRegistry().MustRegister(
		zoo.AnimalType, zoo.SizeType, zoo.CatType, zoo.DogType, zoo.OwnerType,
		zoo.FoodType, zoo.SimpleFoodType, zoo.CompositeFoodType,
		balloon.NamedVariant[zoo.Cat]("Named.Cat", "Cat"),
		balloon.NamedVariant[zoo.Dog]("Named.Dog", "Dog"),
		balloon.NamedVariant[zoo.Owner]("Named.Owner", "Owner"),
		balloon.NamedVariant[zoo.SimpleFood]("Named.SimpleFood", "SimpleFood"),
		balloon.NamedVariant[zoo.CompositeFood]("Named.CompositeFood", "CompositeFood"),
		&balloon.TypeDescriptor{
			ID:     "Node",
			Fields: []balloon.Field{{Name: "next", Type: balloon.Optional(balloon.StructOf("Node"))}},
			New: func(v balloon.Values) (balloon.Struct, error) {
				return &node{next: v.Struct("next")}, nil
			},
			Unpack: func(s balloon.Struct) balloon.Values {
				return balloon.Values{"next": s.(*node).next}
			},
		},
		balloon.NamedVariant[*node]("Named.Node", "Node"),
		&balloon.TypeDescriptor{
			ID:     "Link",
			Fields: []balloon.Field{{Name: "child", Type: balloon.Optional(balloon.StructOf("Link"))}},
			New: func(v balloon.Values) (balloon.Struct, error) {
				l := link{}
				if c, ok := v.Struct("child").(link); ok {
					l.child = &c
				}
				return l, nil
			},
			Unpack: func(s balloon.Struct) balloon.Values {
				l := s.(link)
				if l.child == nil {
					return balloon.Values{}
				}
				return balloon.Values{"child": *l.child}
			},
		},
		balloon.NamedVariant[link]("Named.Link", "Link"),
		&balloon.TypeDescriptor{
			ID:     "Chart",
			Fields: []balloon.Field{{Name: "labels", Type: balloon.MapOf(balloon.StructOf("Size"), balloon.String)}},
			New: func(v balloon.Values) (balloon.Struct, error) {
				m := map[balloon.Struct]string{}
				for k, l := range v.StructMap("labels") {
					m[k] = l.(string)
				}
				return chart{labels: m}, nil
			},
			Unpack: func(s balloon.Struct) balloon.Values {
				return balloon.Values{"labels": s.(chart).labels}
			},
		},
		balloon.NamedVariant[chart]("Named.Chart", "Chart"),
	)
	if err := r.Freeze(); err != nil {
		t.Fatalf("Freeze() failed: %v", err)
	}
	return r
}

// mapResolver resolves references from a fixed set of instances.
type mapResolver map[balloon.Reference]balloon.NamedStruct

func newMapResolver(items ...balloon.NamedStruct) mapResolver {
	m := mapResolver{}
	for _, n := range items {
		m[balloon.Reference{Type: n.BalloonType(), Name: n.Name()}] = n
	}
	return m
}

func (m mapResolver) Resolve(ctx context.Context, typeID, name string) (balloon.NamedStruct, error) {
	n, ok := m[balloon.Reference{Type: typeID, Name: name}]
	if !ok {
		return nil, balloon.Errorf(balloon.ErrNotFound, "%s/%s not found", typeID, name)
	}
	return n, nil
}

func TestDeflate(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	t.Run("scenarios", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name string
			in   balloon.Struct
			want balloon.Document
		}{
			{
				"cat",
				zoo.Abigail,
				balloon.Document{
					"size":      map[string]any{"type": "Size", "fields": map[string]any{"height": int64(10), "weight": int64(5)}},
					"purr_type": "loud",
				},
			},
			{
				"optional nil",
				zoo.Charlotte,
				balloon.Document{
					"size":      map[string]any{"type": "Size", "fields": map[string]any{"height": int64(12), "weight": int64(7)}},
					"purr_type": nil,
				},
			},
			{
				"named keys",
				zoo.Alice,
				balloon.Document{"pet_nicknames": map[string]any{"n:Cat:abigail": "abby", "n:Dog:alex": "ale"}},
			},
			{
				"named list",
				zoo.FruitAndVegetableSalad,
				balloon.Document{"ingredients": []any{"n:CompositeFood:fruit-salad", "n:CompositeFood:vegetable-salad"}},
			},
			{
				"anonymous keys",
				balloon.Promote(chart{labels: map[balloon.Struct]string{zoo.Size{Height: 1, Weight: 2}: "small"}}, "c"),
				balloon.Document{"labels": map[string]any{`a:Size:{"height":1,"weight":2}`: "small"}},
			},
			{
				"nil list",
				balloon.Promote(zoo.CompositeFood{}, "empty"),
				balloon.Document{"ingredients": []any{}},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				d := &balloon.Deflator{Registry: r}
				got, err := d.Deflate(tt.in)
				if err != nil {
					t.Fatalf("Deflate() failed: %v", err)
				}
				if !reflect.DeepEqual(got, tt.want) {
					t.Errorf("Deflate() =\n%#v\nwant\n%#v", got, tt.want)
				}
			})
		}
	})
	t.Run("references", func(t *testing.T) {
		t.Parallel()
		var seen []string
		d := &balloon.Deflator{Registry: r, OnReference: func(n balloon.NamedStruct) error {
			seen = append(seen, n.Name())
			return nil
		}}
		if _, err := d.Deflate(zoo.FruitSalad); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(seen, []string{"apple", "banana"}) {
			t.Errorf("OnReference saw %v", seen)
		}
		boom := errors.New("boom")
		d.OnReference = func(balloon.NamedStruct) error { return boom }
		if _, err := d.Deflate(zoo.FruitSalad); !errors.Is(err, boom) {
			t.Errorf("Deflate() = %v, want boom", err)
		}
	})
	t.Run("errors", func(t *testing.T) {
		t.Parallel()
		loop := &node{}
		loop.next = &node{next: loop}
		chain := &link{}
		chain.child = chain
		broken := &node{}
		broken.next = balloon.Promote(&node{next: broken}, "other")
		tests := []struct {
			name string
			in   balloon.Struct
			want error
		}{
			{"anonymous", zoo.Size{Height: 1}, balloon.ErrNotNamed},
			{"nil", nil, balloon.ErrNotNamed},
			{"empty name", balloon.Promote(zoo.Size{}, ""), balloon.ErrInvalidIdentifier},
			{"colon name", balloon.Promote(zoo.SimpleFood{}, "a:b"), balloon.ErrInvalidIdentifier},
			{"no named variant", balloon.Promote(zoo.Size{}, "s"), balloon.ErrNoNamedVariant},
			{"cycle", balloon.Promote(loop, "loop"), balloon.ErrCyclicReference},
			{"value cycle", balloon.Promote(*chain, "chain"), balloon.ErrCyclicReference},
			{"wrong target", balloon.Promote(zoo.CompositeFood{Ingredients: []balloon.Struct{zoo.Abigail}}, "x"), balloon.ErrTypeMismatch},
			{"nil element", balloon.Promote(zoo.CompositeFood{Ingredients: []balloon.Struct{nil}}, "x"), balloon.ErrTypeMismatch},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				d := &balloon.Deflator{Registry: r}
				if _, err := d.Deflate(tt.in); !errors.Is(err, tt.want) {
					t.Errorf("Deflate() = %v, want %v", err, tt.want)
				}
			})
		}
		t.Run("finite value chain", func(t *testing.T) {
			d := &balloon.Deflator{Registry: r}
			got, err := d.Deflate(balloon.Promote(link{child: &link{child: &link{}}}, "short"))
			if err != nil {
				t.Fatalf("Deflate() failed: %v", err)
			}
			want := balloon.Document{"child": map[string]any{"type": "Link", "fields": map[string]any{
				"child": map[string]any{"type": "Link", "fields": map[string]any{"child": nil}},
			}}}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Deflate() = %#v, want %#v", got, want)
			}
		})
		t.Run("named breaks cycle", func(t *testing.T) {
			d := &balloon.Deflator{Registry: r}
			got, err := d.Deflate(balloon.Promote(broken, "head"))
			if err != nil {
				t.Fatalf("Deflate() failed: %v", err)
			}
			if got["next"] != "n:Node:other" {
				t.Errorf("next = %v", got["next"])
			}
		})
	})
}

func TestEncodeStructKey(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	d := &balloon.Deflator{Registry: r}
	in := &balloon.Inflator{Registry: r, Resolver: newMapResolver(zoo.Abigail)}
	tests := []struct {
		name string
		key  balloon.Struct
		want string
	}{
		{"named", zoo.Abigail, "n:Cat:abigail"},
		{"anonymous", zoo.Size{Height: 3, Weight: 4}, `a:Size:{"height":3,"weight":4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.EncodeStructKey(tt.key)
			if err != nil {
				t.Fatalf("EncodeStructKey() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("EncodeStructKey() = %q, want %q", got, tt.want)
			}
			back, err := in.DecodeStructKey(t.Context(), got, balloon.AnyStruct)
			if err != nil {
				t.Fatalf("DecodeStructKey() failed: %v", err)
			}
			if !r.Equal(back, tt.key) {
				t.Errorf("DecodeStructKey() = %v, want %v", back, tt.key)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	resolver := newMapResolver(
		zoo.Abigail, zoo.Benjamin, zoo.Charlotte, zoo.Alex, zoo.Bella, zoo.Cody,
		zoo.Apple, zoo.Banana, zoo.Carrot, zoo.Date, zoo.FruitSalad, zoo.VegetableSalad,
	)
	all := []balloon.NamedStruct{
		zoo.Abigail, zoo.Benjamin, zoo.Charlotte, zoo.Alex, zoo.Bella, zoo.Cody,
		zoo.Alice, zoo.Bob, zoo.Carol,
		zoo.Apple, zoo.FruitSalad, zoo.FruitAndVegetableSalad,
		balloon.Promote(chart{labels: map[balloon.Struct]string{zoo.Size{Height: 1, Weight: 2}: "s", zoo.Size{Height: 9}: "l"}}, "c"),
	}
	for _, n := range all {
		t.Run(n.Name(), func(t *testing.T) {
			d := &balloon.Deflator{Registry: r}
			doc, err := d.Deflate(n)
			if err != nil {
				t.Fatalf("Deflate() failed: %v", err)
			}
			// Go through JSON, both with exact numbers and with float64.
			raw, err := json.Marshal(doc)
			if err != nil {
				t.Fatal(err)
			}
			var plain balloon.Document
			if err := json.Unmarshal(raw, &plain); err != nil {
				t.Fatal(err)
			}
			for _, tree := range []balloon.Document{doc, plain} {
				in := &balloon.Inflator{Registry: r, Resolver: resolver, Strict: true}
				got, err := in.InflateNamed(t.Context(), tree, n.BalloonType(), n.Name())
				if err != nil {
					t.Fatalf("InflateNamed() failed: %v", err)
				}
				if !r.Equal(got, n) {
					t.Errorf("InflateNamed() = %v, want %v", got, n)
				}
			}
		})
	}
}

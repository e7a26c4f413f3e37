package balloon_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/internal/zoo"
)

func catDoc() balloon.Document {
	return balloon.Document{
		"size":      map[string]any{"type": "Size", "fields": map[string]any{"height": json.Number("10"), "weight": json.Number("5")}},
		"purr_type": "loud",
	}
}

func TestInflate(t *testing.T) {
	t.Parallel()
	r := testRegistry(t)
	t.Run("cat", func(t *testing.T) {
		t.Parallel()
		in := &balloon.Inflator{Registry: r}
		got, err := in.InflateNamed(t.Context(), catDoc(), "Cat", "abigail")
		if err != nil {
			t.Fatalf("InflateNamed() failed: %v", err)
		}
		cat, ok := got.(*balloon.Named[zoo.Cat])
		if !ok {
			t.Fatalf("InflateNamed() returned %T", got)
		}
		if cat.Name() != "abigail" || cat.Value().Size.Height != 10 || *cat.Value().PurrType != "loud" {
			t.Errorf("unexpected cat %+v", cat.Value())
		}
		if !r.Equal(got, zoo.Abigail) {
			t.Error("inflated cat differs from fixture")
		}
	})
	t.Run("owner", func(t *testing.T) {
		t.Parallel()
		in := &balloon.Inflator{Registry: r, Resolver: newMapResolver(zoo.Abigail, zoo.Alex)}
		doc := balloon.Document{"pet_nicknames": map[string]any{"n:Cat:abigail": "abby", "n:Dog:alex": "ale"}}
		got, err := in.Inflate(t.Context(), doc, "Owner")
		if err != nil {
			t.Fatalf("Inflate() failed: %v", err)
		}
		nicks := got.(zoo.Owner).PetNicknames
		if nicks[zoo.Abigail] != "abby" || nicks[zoo.Alex] != "ale" || len(nicks) != 2 {
			t.Errorf("PetNicknames = %v", nicks)
		}
	})
	t.Run("shared identity", func(t *testing.T) {
		t.Parallel()
		in := &balloon.Inflator{Registry: r, Resolver: newMapResolver(zoo.Apple)}
		doc := balloon.Document{"ingredients": []any{"n:SimpleFood:apple", "n:SimpleFood:apple"}}
		got, err := in.Inflate(t.Context(), doc, "CompositeFood")
		if err != nil {
			t.Fatal(err)
		}
		ing := got.(zoo.CompositeFood).Ingredients
		if ing[0] != ing[1] || ing[0] != balloon.Struct(zoo.Apple) {
			t.Error("references to the same name did not share identity")
		}
	})
	t.Run("forward compatibility", func(t *testing.T) {
		t.Parallel()
		doc := catDoc()
		doc["whiskers"] = json.Number("12")
		lax := &balloon.Inflator{Registry: r}
		if _, err := lax.Inflate(t.Context(), doc, "Cat"); err != nil {
			t.Errorf("Inflate() with extra field failed: %v", err)
		}
		strict := &balloon.Inflator{Registry: r, Strict: true}
		_, err := strict.Inflate(t.Context(), doc, "Cat")
		if !errors.Is(err, balloon.ErrUnexpectedField) {
			t.Errorf("strict Inflate() = %v, want ErrUnexpectedField", err)
		}
	})
	t.Run("optional absent", func(t *testing.T) {
		t.Parallel()
		doc := catDoc()
		delete(doc, "purr_type")
		in := &balloon.Inflator{Registry: r}
		got, err := in.Inflate(t.Context(), doc, "Cat")
		if err != nil {
			t.Fatal(err)
		}
		if got.(zoo.Cat).PurrType != nil {
			t.Error("PurrType should be nil")
		}
	})
	t.Run("errors", func(t *testing.T) {
		t.Parallel()
		resolver := balloon.ResolverFunc(func(ctx context.Context, typeID, name string) (balloon.NamedStruct, error) {
			switch name {
			case "apple":
				return zoo.Apple, nil
			case "loop":
				return nil, balloon.NewError(balloon.ErrResolutionCycle, "loop")
			}
			return nil, balloon.NewError(balloon.ErrNotFound, "nope")
		})
		tests := []struct {
			name   string
			typeID string
			doc    balloon.Document
			want   error
			path   string
		}{
			{"unknown type", "Cow", balloon.Document{}, balloon.ErrUnknownType, ""},
			{"abstract", "Animal", balloon.Document{}, balloon.ErrTypeMismatch, ""},
			{"missing", "Cat", balloon.Document{"purr_type": "loud"}, balloon.ErrMissingField, "size"},
			{
				"scalar mismatch", "Size",
				balloon.Document{"height": "ten", "weight": json.Number("1")},
				balloon.ErrTypeMismatch, "height",
			},
			{
				"fractional int", "Size",
				balloon.Document{"height": 1.5, "weight": json.Number("1")},
				balloon.ErrTypeMismatch, "height",
			},
			{
				"null required", "Size",
				balloon.Document{"height": nil, "weight": json.Number("1")},
				balloon.ErrTypeMismatch, "height",
			},
			{
				"nested unknown type", "Cat",
				balloon.Document{"size": map[string]any{"type": "Cow", "fields": map[string]any{}}},
				balloon.ErrUnknownType, "",
			},
			{
				"nested wrong type", "Cat",
				balloon.Document{"size": map[string]any{"type": "SimpleFood", "fields": map[string]any{"calories": 1}}},
				balloon.ErrTypeMismatch, "size",
			},
			{
				"nested missing field", "Cat",
				balloon.Document{"size": map[string]any{"type": "Size", "fields": map[string]any{"height": 1}}},
				balloon.ErrMissingField, "size.weight",
			},
			{
				"plain string for struct", "Cat",
				balloon.Document{"size": "big"},
				balloon.ErrTypeMismatch, "size",
			},
			{
				"dangling", "CompositeFood",
				balloon.Document{"ingredients": []any{"n:SimpleFood:apple", "n:SimpleFood:pear"}},
				balloon.ErrDanglingReference, "ingredients[1]",
			},
			{
				"resolution cycle", "CompositeFood",
				balloon.Document{"ingredients": []any{"n:CompositeFood:loop"}},
				balloon.ErrResolutionCycle, "",
			},
			{
				"reference of wrong type", "Owner",
				balloon.Document{"pet_nicknames": map[string]any{"n:SimpleFood:apple": "crunchy"}},
				balloon.ErrTypeMismatch, "pet_nicknames[n:SimpleFood:apple]",
			},
			{
				"malformed key", "Owner",
				balloon.Document{"pet_nicknames": map[string]any{"abigail": "abby"}},
				balloon.ErrMalformedKey, "pet_nicknames[abigail]",
			},
			{
				"malformed anonymous key", "Chart",
				balloon.Document{"labels": map[string]any{"a:Size:{oops": "x"}},
				balloon.ErrMalformedKey, "labels[a:Size:{oops]",
			},
			{
				"construction", "Dog",
				balloon.Document{"size": map[string]any{"type": "Size", "fields": map[string]any{"height": 1, "weight": 1}}, "obedience": 2.0},
				balloon.ErrConstruction, "",
			},
			{
				"list expected", "CompositeFood",
				balloon.Document{"ingredients": map[string]any{}},
				balloon.ErrTypeMismatch, "ingredients",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				in := &balloon.Inflator{Registry: r, Resolver: resolver}
				got, err := in.Inflate(t.Context(), tt.doc, tt.typeID)
				if !errors.Is(err, tt.want) {
					t.Fatalf("Inflate() = %v, want %v", err, tt.want)
				}
				if got != nil {
					t.Errorf("Inflate() returned a partial value %v", got)
				}
				if tt.path != "" {
					var e *balloon.Error
					if !errors.As(err, &e) {
						t.Fatalf("%v is not a *balloon.Error", err)
					}
					if e.Details()["path"] != tt.path {
						t.Errorf("error %v path = %v, want %q", err, e.Details()["path"], tt.path)
					}
				}
			})
		}
	})
	t.Run("no resolver", func(t *testing.T) {
		t.Parallel()
		in := &balloon.Inflator{Registry: r}
		_, err := in.Inflate(t.Context(), balloon.Document{"ingredients": []any{"n:SimpleFood:apple"}}, "CompositeFood")
		if !errors.Is(err, balloon.ErrDanglingReference) {
			t.Errorf("Inflate() = %v, want ErrDanglingReference", err)
		}
	})
	t.Run("missing referent", func(t *testing.T) {
		t.Parallel()
		in := &balloon.Inflator{Registry: r, Resolver: newMapResolver()}
		_, err := in.Inflate(t.Context(), balloon.Document{"ingredients": []any{"n:SimpleFood:apple"}}, "CompositeFood")
		if !errors.Is(err, balloon.ErrDanglingReference) || errors.Is(err, balloon.ErrNotFound) {
			t.Errorf("Inflate() = %v, want ErrDanglingReference only", err)
		}
	})
	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		in := &balloon.Inflator{Registry: r}
		if _, err := in.Inflate(ctx, catDoc(), "Cat"); !errors.Is(err, context.Canceled) {
			t.Errorf("Inflate() = %v, want context.Canceled", err)
		}
	})
}

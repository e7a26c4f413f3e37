// Package docschema describes stored documents as JSON Schema.
//
// The schema of a partition matches the documents written by
// balloon.Deflator for its base type: scalars map to JSON types, named
// structs to reference token strings and anonymous structs to
// {"type", "fields"} nodes whose fields are described in $defs.
package docschema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/maruel/balloonist/balloon"
)

// Generate returns the JSON Schema of the documents of base type typeID.
// With strict, unknown fields are rejected.
func Generate(reg *balloon.Registry, typeID string, strict bool) (*jsonschema.Schema, error) {
	desc, err := reg.Resolve(typeID)
	if err != nil {
		return nil, err
	}
	if desc.Abstract || desc.Base != "" {
		return nil, balloon.Errorf(balloon.ErrTypeMismatch, "%q does not describe stored documents", typeID)
	}
	g := generator{reg: reg, strict: strict, defs: jsonschema.Definitions{}}
	root, err := g.object(desc)
	if err != nil {
		return nil, err
	}
	root.Version = jsonschema.Version
	root.Title = typeID
	if named, err := reg.NamedVariantOf(typeID); err == nil {
		root.Description = fmt.Sprintf("Document of a %s, stored under its name.", named)
	}
	if len(g.defs) != 0 {
		root.Definitions = g.defs
	}
	return root, nil
}

type generator struct {
	reg    *balloon.Registry
	strict bool
	defs   jsonschema.Definitions
}

// object returns the schema of the fields of desc.
func (g *generator) object(desc *balloon.TypeDescriptor) (*jsonschema.Schema, error) {
	s := &jsonschema.Schema{Type: "object", Properties: jsonschema.NewProperties()}
	for _, f := range desc.Fields {
		fs, err := g.field(f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", desc.ID, f.Name, err)
		}
		s.Properties.Set(f.Name, fs)
		if !f.Type.IsOptional() {
			s.Required = append(s.Required, f.Name)
		}
	}
	if g.strict {
		s.AdditionalProperties = jsonschema.FalseSchema
	}
	return s, nil
}

func (g *generator) field(ft balloon.FieldType) (*jsonschema.Schema, error) {
	switch ft.Kind {
	case balloon.KindBool:
		return &jsonschema.Schema{Type: "boolean"}, nil
	case balloon.KindInt:
		return &jsonschema.Schema{Type: "integer"}, nil
	case balloon.KindFloat:
		return &jsonschema.Schema{Type: "number"}, nil
	case balloon.KindString:
		return &jsonschema.Schema{Type: "string"}, nil
	case balloon.KindEnum:
		values := make([]any, len(ft.Values))
		for i, v := range ft.Values {
			values[i] = v
		}
		return &jsonschema.Schema{Type: "string", Enum: values}, nil
	case balloon.KindOptional:
		elem, err := g.field(*ft.Elem)
		if err != nil {
			return nil, err
		}
		return &jsonschema.Schema{AnyOf: []*jsonschema.Schema{elem, {Type: "null"}}}, nil
	case balloon.KindList:
		elem, err := g.field(*ft.Elem)
		if err != nil {
			return nil, err
		}
		return &jsonschema.Schema{Type: "array", Items: elem}, nil
	case balloon.KindMap:
		elem, err := g.field(*ft.Elem)
		if err != nil {
			return nil, err
		}
		if ft.Key.Kind == balloon.KindString {
			return &jsonschema.Schema{Type: "object", AdditionalProperties: elem}, nil
		}
		return &jsonschema.Schema{
			Type:                 "object",
			PatternProperties:    map[string]*jsonschema.Schema{g.keyPattern(ft.Key.Type): elem},
			AdditionalProperties: jsonschema.FalseSchema,
		}, nil
	case balloon.KindStruct:
		return g.structField(ft.Type)
	default:
		return nil, fmt.Errorf("unsupported field type %s", ft)
	}
}

// structField accepts a reference to a named struct or an anonymous node of
// any concrete type satisfying target.
func (g *generator) structField(target string) (*jsonschema.Schema, error) {
	var alts []*jsonschema.Schema
	if named := g.named(target); len(named) != 0 {
		alts = append(alts, &jsonschema.Schema{Type: "string", Pattern: "^n:" + alternation(named) + ":[^:]+$"})
	}
	for _, id := range g.concrete(target) {
		if err := g.define(id); err != nil {
			return nil, err
		}
		props := jsonschema.NewProperties()
		props.Set("type", &jsonschema.Schema{Const: id})
		props.Set("fields", &jsonschema.Schema{Ref: "#/$defs/" + id})
		alts = append(alts, &jsonschema.Schema{
			Type:                 "object",
			Properties:           props,
			Required:             []string{"type", "fields"},
			AdditionalProperties: jsonschema.FalseSchema,
		})
	}
	switch len(alts) {
	case 0:
		return nil, fmt.Errorf("no concrete type satisfies %q", target)
	case 1:
		return alts[0], nil
	}
	return &jsonschema.Schema{AnyOf: alts}, nil
}

// define adds the fields schema of id to $defs once.
func (g *generator) define(id string) error {
	if _, ok := g.defs[id]; ok {
		return nil
	}
	desc, err := g.reg.Resolve(id)
	if err != nil {
		return err
	}
	// Placeholder so recursive types terminate.
	g.defs[id] = &jsonschema.Schema{}
	s, err := g.object(desc)
	if err != nil {
		return err
	}
	s.Title = id
	g.defs[id] = s
	return nil
}

// keyPattern matches the mapping keys of struct type target.
func (g *generator) keyPattern(target string) string {
	var alts []string
	if named := g.named(target); len(named) != 0 {
		alts = append(alts, "^n:"+alternation(named)+":[^:]+$")
	}
	if concrete := g.concrete(target); len(concrete) != 0 {
		alts = append(alts, "^a:"+alternation(concrete)+":\\{")
	}
	return strings.Join(alts, "|")
}

// concrete returns the instantiable anonymous types satisfying target.
func (g *generator) concrete(target string) []string {
	var out []string
	for _, id := range g.reg.Types() {
		desc, err := g.reg.Resolve(id)
		if err != nil || desc.Abstract || desc.Base != "" || desc.New == nil {
			continue
		}
		if g.reg.IsA(id, target) {
			out = append(out, id)
		}
	}
	return out
}

// named returns the base types satisfying target that can be referenced.
func (g *generator) named(target string) []string {
	var out []string
	for _, id := range g.reg.NamedBases() {
		if g.reg.IsA(id, target) {
			out = append(out, id)
		}
	}
	return out
}

func alternation(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = regexp.QuoteMeta(id)
	}
	return "(" + strings.Join(quoted, "|") + ")"
}

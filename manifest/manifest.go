// Package manifest declares struct types in YAML and builds registries of
// dynamic Record values from them.
//
// A manifest looks like:
//
//	version: 1
//	types:
//	  - id: Animal
//	    abstract: true
//	  - id: Cat
//	    implements: [Animal]
//	    named: Named.Cat
//	    fields:
//	      - {name: size, type: Size}
//	      - {name: purr_type, type: "*string"}
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/maruel/balloonist/balloon"
)

// Version is the only manifest version understood.
const Version = 1

var errVersion = errors.New("unsupported manifest version")

// Manifest is the root of a manifest file.
type Manifest struct {
	Version int    `yaml:"version"`
	Types   []Type `yaml:"types"`
}

// Type declares one struct type.
type Type struct {
	ID         string   `yaml:"id"`
	Abstract   bool     `yaml:"abstract,omitempty"`
	Implements []string `yaml:"implements,omitempty,flow"`
	// Named is the ID of the named variant. Empty when instances of the type
	// are never stored on their own.
	Named  string  `yaml:"named,omitempty"`
	Fields []Field `yaml:"fields,omitempty"`
}

// Field declares one field in the FieldType text form.
type Field struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Parse reads and parses a manifest from a file.
// The path is provided by the CLI user, so file inclusion is expected.
func Parse(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-specified manifest path
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses a manifest from bytes. Unknown keys are rejected.
func ParseBytes(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Validate checks that the manifest is well formed. Registry level checks
// (unknown targets, duplicates) happen in Register.
func (m *Manifest) Validate() error {
	if m.Version != Version {
		return fmt.Errorf("%w: %d", errVersion, m.Version)
	}
	for i := range m.Types {
		t := &m.Types[i]
		if t.ID == "" {
			return fmt.Errorf("type %d: id is required", i)
		}
		if t.Abstract && len(t.Fields) != 0 {
			return fmt.Errorf("type %q: abstract types have no fields", t.ID)
		}
		if t.Abstract && t.Named != "" {
			return fmt.Errorf("type %q: abstract types have no named variant", t.ID)
		}
		for j := range t.Fields {
			f := &t.Fields[j]
			if f.Name == "" {
				return fmt.Errorf("type %q, field %d: name is required", t.ID, j)
			}
			if _, err := balloon.ParseFieldType(f.Type); err != nil {
				return fmt.Errorf("type %q, field %q: %w", t.ID, f.Name, err)
			}
		}
	}
	return nil
}

// Register adds the declared types to reg, using Record for concrete types.
func (m *Manifest) Register(reg *balloon.Registry) error {
	for _, t := range m.Types {
		desc := &balloon.TypeDescriptor{
			ID:         t.ID,
			Abstract:   t.Abstract,
			Implements: t.Implements,
		}
		for _, f := range t.Fields {
			ft, err := balloon.ParseFieldType(f.Type)
			if err != nil {
				return fmt.Errorf("type %q field %q: %w", t.ID, f.Name, err)
			}
			desc.Fields = append(desc.Fields, balloon.Field{Name: f.Name, Type: ft})
		}
		if !t.Abstract {
			desc.New = recordConstructor(t.ID)
			desc.Unpack = unpackRecord
		}
		if err := reg.Register(desc); err != nil {
			return err
		}
		if t.Named != "" {
			if err := reg.Register(balloon.NamedVariant[*Record](t.Named, t.ID)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Registry returns a frozen registry holding the declared types.
func (m *Manifest) Registry() (*balloon.Registry, error) {
	reg := balloon.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	if err := reg.Freeze(); err != nil {
		return nil, err
	}
	return reg, nil
}

// Describe returns the manifest of the types registered in reg. Named
// variants are folded into their base type.
func Describe(reg *balloon.Registry) (*Manifest, error) {
	m := &Manifest{Version: Version}
	for _, id := range reg.Types() {
		desc, err := reg.Resolve(id)
		if err != nil {
			return nil, err
		}
		if desc.Base != "" {
			continue
		}
		t := Type{ID: id, Abstract: desc.Abstract, Implements: desc.Implements}
		if named, err := reg.NamedVariantOf(id); err == nil {
			t.Named = named
		}
		for _, f := range desc.Fields {
			t.Fields = append(t.Fields, Field{Name: f.Name, Type: f.Type.String()})
		}
		m.Types = append(m.Types, t)
	}
	return m, nil
}

// Marshal encodes the manifest as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

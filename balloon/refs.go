package balloon

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

const (
	refPrefix  = "n:"
	anonPrefix = "a:"
)

// Reference designates a named struct by base type and name.
type Reference struct {
	Type string
	Name string
}

// String returns the token form n:<Type>:<Name>.
func (r Reference) String() string {
	return refPrefix + r.Type + ":" + r.Name
}

// EncodeReference returns the reference token n:<typeID>:<name>.
func EncodeReference(typeID, name string) (string, error) {
	if err := validateIdentifier("type ID", typeID); err != nil {
		return "", err
	}
	if err := validateIdentifier("name", name); err != nil {
		return "", err
	}
	return Reference{Type: typeID, Name: name}.String(), nil
}

// DecodeReference parses a reference token. ok is false when s does not match
// n:<type>:<name>; such strings are plain values.
func DecodeReference(s string) (ref Reference, ok bool) {
	rest, found := strings.CutPrefix(s, refPrefix)
	if !found {
		return Reference{}, false
	}
	typeID, name, found := strings.Cut(rest, ":")
	if !found || typeID == "" || name == "" || strings.IndexByte(name, ':') != -1 {
		return Reference{}, false
	}
	return Reference{Type: typeID, Name: name}, true
}

// DocumentReferences returns the distinct references found in a value tree,
// sorted. Strings and mapping keys shaped like reference tokens count as
// references, including those nested in anonymous struct keys.
func DocumentReferences(tree any) []Reference {
	seen := map[Reference]bool{}
	collectReferences(tree, seen)
	out := make([]Reference, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func collectReferences(tree any, seen map[Reference]bool) {
	switch t := tree.(type) {
	case string:
		if r, ok := DecodeReference(t); ok {
			seen[r] = true
		}
	case []any:
		for _, e := range t {
			collectReferences(e, seen)
		}
	case map[string]any:
		for k, e := range t {
			if r, ok := DecodeReference(k); ok {
				seen[r] = true
			} else if _, payload, ok := splitAnonymousKey(k); ok {
				if fields, err := decodeJSON(payload); err == nil {
					collectReferences(fields, seen)
				}
			}
			collectReferences(e, seen)
		}
	}
}

// canonicalJSON encodes a deflated value with sorted keys and without HTML
// escaping so equal values always produce the same string.
func canonicalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// splitAnonymousKey splits a:<type>:<json> into its type and payload.
func splitAnonymousKey(key string) (typeID, payload string, ok bool) {
	rest, found := strings.CutPrefix(key, anonPrefix)
	if !found {
		return "", "", false
	}
	typeID, payload, found = strings.Cut(rest, ":")
	if !found || typeID == "" || payload == "" {
		return "", "", false
	}
	return typeID, payload, true
}

// decodeJSON decodes a canonical payload keeping numbers exact.
func decodeJSON(payload string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, NewError(ErrMalformedKey, "trailing data after key payload")
	}
	return m, nil
}

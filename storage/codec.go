package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/tidwall/jsonc"

	"github.com/maruel/balloonist/balloon"
)

// Codec encodes documents to bytes.
type Codec interface {
	// Name identifies the codec in configuration files.
	Name() string
	// Ext is the file extension, including the dot.
	Ext() string
	Marshal(doc balloon.Document) ([]byte, error)
	Unmarshal(data []byte) (balloon.Document, error)
}

// Codecs.
var (
	JSON Codec = jsonCodec{}
	CBOR Codec = cborCodec{}
)

// CodecByName returns the codec called name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Ext() string { return ".json" }

// Marshal writes the document indented by two spaces with a trailing newline.
func (jsonCodec) Marshal(doc balloon.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal accepts JSON with comments and trailing commas, as left by hand
// edits.
func (jsonCodec) Unmarshal(data []byte) (balloon.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()
	var doc balloon.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document is not an object")
	}
	return doc, nil
}

// cborEncMode uses Core Deterministic Encoding so equal documents produce
// identical bytes.
var cborEncMode cbor.EncMode

var cborDecMode cbor.DecMode

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Ext() string { return ".cbor" }

func (cborCodec) Marshal(doc balloon.Document) ([]byte, error) {
	return cborEncMode.Marshal(numbers(doc))
}

// numbers replaces json.Number values, which CBOR would encode as text, by
// int64 or float64.
func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return string(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = numbers(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = numbers(e)
		}
		return out
	}
	return v
}

func (cborCodec) Unmarshal(data []byte) (balloon.Document, error) {
	var doc balloon.Document
	if err := cborDecMode.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document is not a map")
	}
	return doc, nil
}

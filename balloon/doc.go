// Package balloon converts immutable structs into JSON-compatible documents
// and back.
//
// Named structs are stored once and referenced elsewhere by a token of the
// form n:<type>:<name>. Anonymous structs nested in a document take the shape
// {"type": <type>, "fields": {...}}. A stored document is the bare fields
// object of a named struct; its type and name come from where it is stored.
//
// Types are described by a TypeDescriptor and registered explicitly in a
// Registry which is frozen before use. Deflator and Inflator are stateless and
// safe for concurrent use once the registry is frozen.
package balloon

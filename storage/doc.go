// Package storage persists balloon documents keyed by (partition, name).
//
// # Backends
//
// [Backend] is the interface the balloonist package consumes. [Memory] keeps
// encoded documents in memory, [Dir] stores one file per document under
// <root>/<partition>/<name><ext>. Subpackages provide a git-versioned
// directory, SQLite and PostgreSQL.
//
// # Encoding
//
// A [Codec] turns documents into bytes. [JSON] writes indented JSON and reads
// JSON with comments; [CBOR] writes deterministic CBOR. Decoded numbers keep
// their exact value: JSON numbers decode as json.Number, CBOR integers as
// int64 or uint64.
//
// # Concurrency
//
// Backends are safe for concurrent use. Writes of a single document are
// atomic; there is no transaction spanning several documents. Concurrent
// writers of the same key from different processes are last-writer-wins.
package storage

// Package balloonist stores and loads named structs through a
// storage.Backend.
//
// A Database holds one Partition per base type with a named variant.
// Storing deflates an instance into a document; references to other named
// structs are written as reference tokens. Loading inflates the document and
// resolves its references through the other partitions, so a graph of named
// instances round trips with its identities preserved:
//
//	db, err := balloonist.Open(reg, storage.NewMemory())
//	cats, err := balloonist.For[Cat](db, "Cat")
//	err = cats.Store(ctx, balloon.Promote(Cat{...}, "abigail"))
//	abigail, err := cats.Get(ctx, "abigail")
//
// Stores of one document are serialized within a process; across processes
// the last writer wins.
package balloonist

package storage

import (
	"context"
	"strings"

	"github.com/maruel/balloonist/balloon"
)

// Backend persists documents keyed by partition and name.
//
// Read and Delete return an error wrapping balloon.ErrNotFound when the
// document does not exist.
type Backend interface {
	Write(ctx context.Context, partition, name string, doc balloon.Document) error
	Read(ctx context.Context, partition, name string) (balloon.Document, error)
	Exists(ctx context.Context, partition, name string) (bool, error)
	Delete(ctx context.Context, partition, name string) error
	// Names returns the sorted document names of a partition.
	Names(ctx context.Context, partition string) ([]string, error)
	// Partitions returns the sorted names of non-empty partitions.
	Partitions(ctx context.Context) ([]string, error)
}

// NotFound returns the error backends use for a missing document.
func NotFound(partition, name string) error {
	return balloon.Errorf(balloon.ErrNotFound, "%s/%s not found", partition, name).
		WithDetail("partition", partition).
		WithDetail("name", name)
}

// ValidateKey returns an error if partition or name cannot be stored.
//
// Both must be valid identifiers and safe to use as a single path element.
func ValidateKey(partition, name string) error {
	if err := balloon.ValidateName(partition); err != nil {
		return err
	}
	if err := balloon.ValidateName(name); err != nil {
		return err
	}
	for _, s := range []string{partition, name} {
		if s == "." || s == ".." || strings.HasPrefix(s, ".") || strings.ContainsAny(s, "/\\\x00") {
			return balloon.Errorf(balloon.ErrInvalidIdentifier, "%q is not a valid storage key", s)
		}
	}
	return nil
}

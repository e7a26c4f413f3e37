// Package storagetest checks that a storage.Backend honors its contract.
package storagetest

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/storage"
)

// Run exercises b. b must start empty.
func Run(t *testing.T, b storage.Backend) {
	t.Helper()
	ctx := t.Context()
	doc := balloon.Document{
		"size":      map[string]any{"type": "Size", "fields": map[string]any{"height": int64(10), "weight": int64(5)}},
		"purr_type": "loud",
		"tags":      []any{"n:Cat:benjamin", nil, true, 1.5},
	}

	t.Run("empty", func(t *testing.T) {
		parts, err := b.Partitions(ctx)
		if err != nil {
			t.Fatalf("Partitions() failed: %v", err)
		}
		if len(parts) != 0 {
			t.Errorf("Partitions() = %v, want none", parts)
		}
		names, err := b.Names(ctx, "Cat")
		if err != nil {
			t.Fatalf("Names() failed: %v", err)
		}
		if len(names) != 0 {
			t.Errorf("Names() = %v, want none", names)
		}
		if _, err := b.Read(ctx, "Cat", "abigail"); !errors.Is(err, balloon.ErrNotFound) {
			t.Errorf("Read() = %v, want ErrNotFound", err)
		}
		if err := b.Delete(ctx, "Cat", "abigail"); !errors.Is(err, balloon.ErrNotFound) {
			t.Errorf("Delete() = %v, want ErrNotFound", err)
		}
		ok, err := b.Exists(ctx, "Cat", "abigail")
		if err != nil || ok {
			t.Errorf("Exists() = %t, %v", ok, err)
		}
	})

	t.Run("write read", func(t *testing.T) {
		if err := b.Write(ctx, "Cat", "abigail", doc); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
		got, err := b.Read(ctx, "Cat", "abigail")
		if err != nil {
			t.Fatalf("Read() failed: %v", err)
		}
		if !sameTree(got, doc) {
			t.Errorf("Read() = %v, want %v", got, doc)
		}
		ok, err := b.Exists(ctx, "Cat", "abigail")
		if err != nil || !ok {
			t.Errorf("Exists() = %t, %v", ok, err)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		next := balloon.Document{"purr_type": "soft"}
		if err := b.Write(ctx, "Cat", "abigail", next); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
		got, err := b.Read(ctx, "Cat", "abigail")
		if err != nil {
			t.Fatalf("Read() failed: %v", err)
		}
		if !sameTree(got, next) {
			t.Errorf("Read() = %v, want %v", got, next)
		}
	})

	t.Run("isolation", func(t *testing.T) {
		got, err := b.Read(ctx, "Cat", "abigail")
		if err != nil {
			t.Fatal(err)
		}
		got["purr_type"] = "mutated"
		again, err := b.Read(ctx, "Cat", "abigail")
		if err != nil {
			t.Fatal(err)
		}
		if again["purr_type"] != "soft" {
			t.Error("mutating a read document changed the store")
		}
	})

	t.Run("listing", func(t *testing.T) {
		for _, k := range [][2]string{{"Cat", "benjamin"}, {"Dog", "alex"}, {"Cat", "charlotte"}} {
			if err := b.Write(ctx, k[0], k[1], doc); err != nil {
				t.Fatalf("Write(%s/%s) failed: %v", k[0], k[1], err)
			}
		}
		names, err := b.Names(ctx, "Cat")
		if err != nil {
			t.Fatal(err)
		}
		if want := []string{"abigail", "benjamin", "charlotte"}; !slices.Equal(names, want) {
			t.Errorf("Names() = %v, want %v", names, want)
		}
		parts, err := b.Partitions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if want := []string{"Cat", "Dog"}; !slices.Equal(parts, want) {
			t.Errorf("Partitions() = %v, want %v", parts, want)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := b.Delete(ctx, "Dog", "alex"); err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		if _, err := b.Read(ctx, "Dog", "alex"); !errors.Is(err, balloon.ErrNotFound) {
			t.Errorf("Read() after Delete = %v, want ErrNotFound", err)
		}
		parts, err := b.Partitions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if slices.Contains(parts, "Dog") {
			t.Errorf("Partitions() = %v, still lists the emptied partition", parts)
		}
	})

	t.Run("invalid keys", func(t *testing.T) {
		for _, k := range [][2]string{{"Cat", ""}, {"", "x"}, {"Cat", "a:b"}, {"Cat", "../x"}, {"..", "x"}} {
			if err := b.Write(ctx, k[0], k[1], doc); !errors.Is(err, balloon.ErrInvalidIdentifier) {
				t.Errorf("Write(%q, %q) = %v, want ErrInvalidIdentifier", k[0], k[1], err)
			}
		}
	})

	t.Run("concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				name := fmt.Sprintf("n%02d", i%4)
				if err := b.Write(ctx, "Concurrent", name, balloon.Document{"i": int64(i)}); err != nil {
					errs <- err
					return
				}
				if _, err := b.Read(ctx, "Concurrent", name); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
		names, err := b.Names(ctx, "Concurrent")
		if err != nil {
			t.Fatal(err)
		}
		if len(names) != 4 {
			t.Errorf("Names() = %v, want 4 names", names)
		}
	})
}

// sameTree compares value trees after normalizing numbers through JSON.
func sameTree(a, b any) bool {
	return normalize(a) == normalize(b)
}

func normalize(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	b, _ = json.Marshal(out)
	return string(b)
}

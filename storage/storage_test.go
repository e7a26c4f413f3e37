package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/storage"
	"github.com/maruel/balloonist/storage/storagetest"
)

func TestMemory(t *testing.T) {
	t.Parallel()
	storagetest.Run(t, storage.NewMemory())
}

func TestDir(t *testing.T) {
	t.Parallel()
	for _, c := range []storage.Codec{storage.JSON, storage.CBOR} {
		t.Run(c.Name(), func(t *testing.T) {
			t.Parallel()
			d, err := storage.NewDir(t.TempDir(), storage.WithCodec(c))
			if err != nil {
				t.Fatalf("NewDir() failed: %v", err)
			}
			storagetest.Run(t, d)
		})
	}
}

func TestDirLayout(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	d, err := storage.NewDir(root)
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()
	doc := balloon.Document{"purr_type": "loud", "size": map[string]any{"type": "Size", "fields": map[string]any{"height": int64(10), "weight": int64(5)}}}
	if err := d.Write(ctx, "Cat", "abigail", doc); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(root, "Cat", "abigail.json"))
	if err != nil {
		t.Fatalf("document not at the expected path: %v", err)
	}
	want := `{
  "purr_type": "loud",
  "size": {
    "fields": {
      "height": 10,
      "weight": 5
    },
    "type": "Size"
  }
}
`
	if string(got) != want {
		t.Errorf("file content =\n%s\nwant\n%s", got, want)
	}
	entries, err := os.ReadDir(filepath.Join(root, "Cat"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("partition holds %d files, want 1 (temp file left behind?)", len(entries))
	}
	if d.RelPath("Cat", "abigail") != "Cat/abigail.json" {
		t.Errorf("RelPath() = %q", d.RelPath("Cat", "abigail"))
	}
}

func TestDirJSONC(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	d, err := storage.NewDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "Cat"), 0o750); err != nil {
		t.Fatal(err)
	}
	edited := `{
  // set by hand
  "purr_type": "loud", /* trailing comma below */
  "height": 12345678901234567,
}
`
	if err := os.WriteFile(filepath.Join(root, "Cat", "abigail.json"), []byte(edited), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "Cat", "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := d.Read(t.Context(), "Cat", "abigail")
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if got["purr_type"] != "loud" {
		t.Errorf("purr_type = %v", got["purr_type"])
	}
	if got["height"] != json.Number("12345678901234567") {
		t.Errorf("height = %#v, want exact json.Number", got["height"])
	}
	names, err := d.Names(t.Context(), "Cat")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "abigail" {
		t.Errorf("Names() = %v", names)
	}
	if err := os.WriteFile(filepath.Join(root, "Cat", "broken.json"), []byte("[1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Read(t.Context(), "Cat", "broken"); err == nil || errors.Is(err, balloon.ErrNotFound) {
		t.Errorf("Read(broken) = %v, want a decode error", err)
	}
}

func TestDirDigest(t *testing.T) {
	t.Parallel()
	d, err := storage.NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()
	if _, err := d.Digest("Cat", "abigail"); !errors.Is(err, balloon.ErrNotFound) {
		t.Errorf("Digest() = %v, want ErrNotFound", err)
	}
	if err := d.Write(ctx, "Cat", "abigail", balloon.Document{"a": int64(1)}); err != nil {
		t.Fatal(err)
	}
	d1, err := d.Digest("Cat", "abigail")
	if err != nil {
		t.Fatal(err)
	}
	if len(d1) != 64 {
		t.Errorf("Digest() = %q, want 32 hex bytes", d1)
	}
	if err := d.Write(ctx, "Cat", "abigail", balloon.Document{"a": int64(2)}); err != nil {
		t.Fatal(err)
	}
	d2, err := d.Digest("Cat", "abigail")
	if err != nil {
		t.Fatal(err)
	}
	if d1 == d2 {
		t.Error("digest did not change with the content")
	}
}

func TestDirWatch(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	d, err := storage.NewDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "Cat"), 0o750); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	changes := make(chan storage.Change, 64)
	done := make(chan error, 1)
	go func() {
		done <- d.Watch(ctx, func(c storage.Change) { changes <- c })
	}()

	external := filepath.Join(root, "Cat", "external.json")
	// Keep editing until the watcher is up.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		if err := os.WriteFile(external, []byte(`{"i": `+strings.Repeat("1", i+1)+`}`), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case c := <-changes:
			if c.Partition != "Cat" || c.Name != "external" || c.Op != storage.Changed {
				t.Fatalf("unexpected change %+v", c)
			}
		case <-ticker.C:
			continue
		case <-ctx.Done():
			t.Fatal("watcher never reported the external edit")
		}
		break
	}
	// Drain duplicates of the first edit.
	for len(changes) > 0 {
		<-changes
	}

	if err := d.Write(ctx, "Cat", "self", balloon.Document{"a": int64(1)}); err != nil {
		t.Fatal(err)
	}
	if err := d.Delete(ctx, "Cat", "self"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(external); err != nil {
		t.Fatal(err)
	}
	for {
		select {
		case c := <-changes:
			if c.Name == "self" {
				t.Fatalf("own write reported: %+v", c)
			}
			if c.Name != "external" {
				continue
			}
			if c.Op != storage.Removed {
				// A late write event of the first edit.
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Watch() = %v", err)
			}
			return
		case <-ctx.Done():
			t.Fatal("watcher never reported the removal")
		}
	}
}

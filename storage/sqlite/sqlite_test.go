package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/maruel/balloonist/storage"
	"github.com/maruel/balloonist/storage/storagetest"
)

func TestStore(t *testing.T) {
	t.Parallel()
	for _, c := range []storage.Codec{storage.JSON, storage.CBOR} {
		t.Run(c.Name(), func(t *testing.T) {
			t.Parallel()
			s, err := Open(Config{Path: filepath.Join(t.TempDir(), "balloonist.db"), Codec: c})
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			t.Cleanup(func() {
				if err := s.Close(); err != nil {
					t.Errorf("Close() failed: %v", err)
				}
			})
			storagetest.Run(t, s)
		})
	}
}

func TestReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "balloonist.db")
	s, err := Open(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(t.Context(), "Cat", "abigail", map[string]any{"purr_type": "loud"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s, err = Open(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	doc, err := s.Read(t.Context(), "Cat", "abigail")
	if err != nil {
		t.Fatalf("Read() after reopen failed: %v", err)
	}
	if doc["purr_type"] != "loud" {
		t.Errorf("Read() = %v", doc)
	}
}

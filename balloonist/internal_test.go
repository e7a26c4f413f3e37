package balloonist

import (
	"slices"
	"sync"
	"testing"

	"github.com/maruel/balloonist/balloon"
	"github.com/maruel/balloonist/internal/zoo"
)

func ref(typ, name string) balloon.Reference {
	return balloon.Reference{Type: typ, Name: name}
}

func TestRefIndex(t *testing.T) {
	t.Parallel()
	docs := map[balloon.Reference]balloon.Document{
		ref("Owner", "alice"): {"pet_nicknames": map[string]any{"n:Cat:abigail": "abby", "n:Dog:alex": "ale"}},
		ref("Owner", "bob"):   {"pet_nicknames": map[string]any{"n:Cat:abigail": "abi"}},
		ref("Cat", "abigail"): {"size": map[string]any{"type": "Size", "fields": map[string]any{}}},
	}
	scans := 0
	scan := func(fn func(balloon.Reference, balloon.Document)) error {
		scans++
		for src, doc := range docs {
			fn(src, doc)
		}
		return nil
	}
	var c refIndex
	c.update(ref("Owner", "carol"), []balloon.Reference{ref("Cat", "abigail")})
	if err := c.ensureBuilt(scan); err != nil {
		t.Fatalf("ensureBuilt() failed: %v", err)
	}
	if err := c.ensureBuilt(scan); err != nil {
		t.Fatalf("ensureBuilt() failed: %v", err)
	}
	if scans != 1 {
		t.Errorf("scanned %d times", scans)
	}
	want := []balloon.Reference{ref("Owner", "alice"), ref("Owner", "bob")}
	if got := c.referrers(ref("Cat", "abigail")); !slices.Equal(got, want) {
		t.Errorf("referrers() = %v, want %v", got, want)
	}

	c.update(ref("Owner", "bob"), []balloon.Reference{ref("Dog", "alex")})
	if got := c.referrers(ref("Cat", "abigail")); !slices.Equal(got, want[:1]) {
		t.Errorf("referrers() after update = %v", got)
	}
	if got := c.referrers(ref("Dog", "alex")); !slices.Equal(got, want) {
		t.Errorf("referrers(alex) = %v, want %v", got, want)
	}

	c.remove(ref("Owner", "alice"))
	if got := c.referrers(ref("Cat", "abigail")); len(got) != 0 {
		t.Errorf("referrers() after remove = %v", got)
	}

	c.reset()
	if err := c.ensureBuilt(scan); err != nil {
		t.Fatal(err)
	}
	if scans != 2 {
		t.Errorf("reset() did not force a rebuild")
	}
}

func TestKeyLocks(t *testing.T) {
	t.Parallel()
	var k keyLocks
	key := ref("Cat", "abigail")
	counter := 0
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			unlock := k.lock(key)
			defer unlock()
			v := counter
			counter = v + 1
		})
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("counter = %d", counter)
	}
	if len(k.m) != 0 {
		t.Errorf("%d locks leaked", len(k.m))
	}
}

func TestSameInstance(t *testing.T) {
	t.Parallel()
	copied := balloon.Promote(zoo.Abigail.Value(), "abigail")
	if !sameInstance(zoo.Abigail, zoo.Abigail) {
		t.Error("instance differs from itself")
	}
	if sameInstance(zoo.Abigail, copied) {
		t.Error("equal copies are the same instance")
	}
	if sameInstance(zoo.Abigail, zoo.Alex) {
		t.Error("different types are the same instance")
	}
}

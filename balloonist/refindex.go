// In-memory bidirectional reference index for referrer queries.

package balloonist

import (
	"slices"
	"sync"

	"github.com/maruel/balloonist/balloon"
)

// refIndex maintains a bidirectional index of references between stored
// documents.
//
// It is lazily built on first access by scanning every stored document, then
// kept up-to-date incrementally as documents are stored or deleted.
//
// The forward map tracks source→targets so we can diff on update.
// The backward map tracks target→sources for referrer lookups.
type refIndex struct {
	mu       sync.RWMutex
	built    bool
	forward  map[balloon.Reference][]balloon.Reference
	backward map[balloon.Reference][]balloon.Reference
}

// scanFunc calls fn for every stored document.
type scanFunc func(fn func(src balloon.Reference, doc balloon.Document)) error

// buildLocked populates both maps. Caller must hold mu for writing.
func (c *refIndex) buildLocked(scan scanFunc) error {
	forward := map[balloon.Reference][]balloon.Reference{}
	backward := map[balloon.Reference][]balloon.Reference{}
	err := scan(func(src balloon.Reference, doc balloon.Document) {
		targets := balloon.DocumentReferences(doc)
		if len(targets) == 0 {
			return
		}
		forward[src] = targets
		for _, t := range targets {
			backward[t] = append(backward[t], src)
		}
	})
	if err != nil {
		return err
	}
	c.forward = forward
	c.backward = backward
	c.built = true
	return nil
}

// ensureBuilt lazily initializes the index on first access.
func (c *refIndex) ensureBuilt(scan scanFunc) error {
	c.mu.RLock()
	if c.built {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.built {
		return nil
	}
	return c.buildLocked(scan)
}

// update replaces the targets of src. Call after a document is written.
func (c *refIndex) update(src balloon.Reference, targets []balloon.Reference) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.built {
		return
	}
	for _, old := range c.forward[src] {
		c.removeBackwardLocked(old, src)
	}
	if len(targets) == 0 {
		delete(c.forward, src)
	} else {
		c.forward[src] = targets
	}
	for _, t := range targets {
		c.backward[t] = append(c.backward[t], src)
	}
}

// remove deletes all entries for a deleted document.
func (c *refIndex) remove(src balloon.Reference) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.built {
		return
	}
	for _, t := range c.forward[src] {
		c.removeBackwardLocked(t, src)
	}
	delete(c.forward, src)
}

// reset forces a rebuild on next access, after changes made behind our back.
func (c *refIndex) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built = false
	c.forward = nil
	c.backward = nil
}

// referrers returns the sorted sources referencing target.
// Must be called after ensureBuilt.
func (c *refIndex) referrers(target balloon.Reference) []balloon.Reference {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := slices.Clone(c.backward[target])
	slices.SortFunc(out, compareRefs)
	return out
}

// removeBackwardLocked removes src from the backward entry for target. Caller must hold mu for writing.
func (c *refIndex) removeBackwardLocked(target, src balloon.Reference) {
	srcs := c.backward[target]
	for i, s := range srcs {
		if s == src {
			c.backward[target] = append(srcs[:i], srcs[i+1:]...)
			if len(c.backward[target]) == 0 {
				delete(c.backward, target)
			}
			return
		}
	}
}

func compareRefs(a, b balloon.Reference) int {
	if a.Type != b.Type {
		if a.Type < b.Type {
			return -1
		}
		return 1
	}
	switch {
	case a.Name < b.Name:
		return -1
	case a.Name > b.Name:
		return 1
	}
	return 0
}

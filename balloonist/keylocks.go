package balloonist

import (
	"sync"

	"github.com/maruel/balloonist/balloon"
)

// keyLocks serializes writers of the same document.
//
// Entries are reference counted and dropped once unused.
type keyLocks struct {
	mu sync.Mutex
	m  map[balloon.Reference]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex of key and returns its release function.
func (k *keyLocks) lock(key balloon.Reference) func() {
	k.mu.Lock()
	if k.m == nil {
		k.m = map[balloon.Reference]*keyLock{}
	}
	l := k.m[key]
	if l == nil {
		l = &keyLock{}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}

package processor

import (
	"sync"

	"github.com/google/uuid"
)

// keyLock serializes work per document ID. Transitions for different
// documents proceed in parallel; two concurrent stage completions for the
// same document are forced through one mutex.
type keyLock struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[uuid.UUID]*lockEntry)}
}

// lock acquires the mutex for key and returns the unlock function.
func (k *keyLock) lock(key uuid.UUID) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

package processor

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	locks := newKeyLock()
	key := uuid.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(key)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("expected 100 serialized increments, got %d", counter)
	}
}

func TestKeyLock_ReleasesEntries(t *testing.T) {
	locks := newKeyLock()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		key := uuid.New()
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(key)
			unlock()
		}()
	}
	wg.Wait()

	locks.mu.Lock()
	remaining := len(locks.locks)
	locks.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected all lock entries to be released, %d remain", remaining)
	}
}

func TestKeyLock_IndependentKeysDoNotBlock(t *testing.T) {
	locks := newKeyLock()
	a, b := uuid.New(), uuid.New()

	unlockA := locks.lock(a)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.lock(b)
		unlockB()
		close(done)
	}()

	<-done
}

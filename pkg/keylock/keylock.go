// Package keylock provides per-key mutual exclusion.
package keylock

import (
	"context"
	"sync"
)

// Locker hands out exclusive locks by key. Entries are reference counted
// and dropped once no goroutine holds or waits for them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until key is held or ctx is done. The returned func releases
// the lock and is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, e, true) })
	}, nil
}

// LockAll acquires keys in the order given, skipping empty and repeated
// keys. Callers must pass keys in a consistent order to avoid deadlock.
// On error nothing is held.
func (l *Locker) LockAll(ctx context.Context, keys ...string) (func(), error) {
	var unlocks []func()
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		unlock, err := l.Lock(ctx, key)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return unlockAll, nil
}

func (l *Locker) release(key string, e *entry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Len returns the number of keys currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

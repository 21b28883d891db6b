// Package locks provides the per-key mutual exclusion used around wallet
// mutations. The registry is explicitly owned and reference counted so
// the key space (userId, currency) cannot grow without bound.
package locks

import (
	"context"
	"fmt"
	"sync"
)

type entry struct {
	ch   chan struct{} // capacity 1, holds the lock token
	refs int
}

// Arena is a registry of named locks. An entry exists only while at
// least one goroutine holds or waits for its lock.
type Arena struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewArena() *Arena {
	return &Arena{entries: make(map[string]*entry)}
}

// WalletKey builds the canonical lock key for a (user, currency) pair.
func WalletKey(userID, currency string) string {
	return fmt.Sprintf("wallet:%s:%s", userID, currency)
}

// OrderKey builds the lock key for a single exchange order.
func OrderKey(orderID string) string {
	return fmt.Sprintf("order:%s", orderID)
}

// Acquire blocks until the named lock is held or ctx is done. On success
// it returns a release function which must be called on every exit path.
func (a *Arena) Acquire(ctx context.Context, key string) (func(), error) {
	a.mu.Lock()
	e, ok := a.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		a.entries[key] = e
	}
	e.refs++
	a.mu.Unlock()

	select {
	case <-e.ch:
		return func() { a.release(key, e) }, nil
	case <-ctx.Done():
		a.drop(key, e)
		return nil, ctx.Err()
	}
}

// TryAcquire takes the lock without blocking; ok is false if it is held.
func (a *Arena) TryAcquire(key string) (func(), bool) {
	a.mu.Lock()
	e, ok := a.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		a.entries[key] = e
	}
	e.refs++
	a.mu.Unlock()

	select {
	case <-e.ch:
		return func() { a.release(key, e) }, true
	default:
		a.drop(key, e)
		return nil, false
	}
}

func (a *Arena) release(key string, e *entry) {
	e.ch <- struct{}{}
	a.drop(key, e)
}

func (a *Arena) drop(key string, e *entry) {
	a.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(a.entries, key)
	}
	a.mu.Unlock()
}

// Len reports the number of live entries; used by tests to prove the
// registry does not leak.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Package requests tracks in-flight operations keyed by target identity,
// with shared waiter lists and generation tokens for deadline timers.
package requests

import (
	"sync"
	"time"
)

// Registry owns one entry per key. Concurrent requests for the same key
// join the existing entry's waiter list; resolution removes the entry and
// hands every waiter back to the caller for fan-out, so a request is
// resolved at most once no matter which path (notification, deadline,
// shutdown) gets there first.
//
// Generic over key type so the root package can keep using its identity
// type without this package caring.
type Registry[K comparable] struct {
	mu        sync.Mutex
	entries   map[K]*entry
	nextToken uint64
}

// entry holds the waiters for one in-flight operation. The token is unique
// per entry lifetime; a deadline timer captures it and resolves the entry
// only while the token still matches, so a timer firing after resolution
// (or after the key was re-requested) is a no-op.
type entry struct {
	token   uint64
	waiters []func(error)
	timer   *time.Timer
}

func NewRegistry[K comparable]() *Registry[K] {
	return &Registry[K]{entries: map[K]*entry{}}
}

// Join registers callback as a waiter for key and returns the entry's
// token. It reports whether a new entry was created; only then does the
// caller issue the external command and arm a deadline timer.
func (registry *Registry[K]) Join(key K, callback func(error)) (created bool, token uint64) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	existing, ok := registry.entries[key]
	if ok {
		existing.waiters = append(existing.waiters, callback)
		return false, existing.token
	}

	registry.nextToken++
	registry.entries[key] = &entry{token: registry.nextToken, waiters: []func(error){callback}}
	return true, registry.nextToken
}

// Arm attaches the deadline timer to the entry for key. It reports false
// when the entry already resolved (or was replaced); the caller must stop
// the timer in that case.
func (registry *Registry[K]) Arm(key K, token uint64, timer *time.Timer) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	existing, ok := registry.entries[key]
	if !ok || existing.token != token {
		return false
	}
	existing.timer = timer
	return true
}

// Take removes the entry for key and returns its waiters, stopping any
// armed timer. A nil return means no one was waiting.
func (registry *Registry[K]) Take(key K) []func(error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.remove(key)
}

// TakeIfToken is the deadline path: it removes the entry only while its
// token still matches the one the timer captured.
func (registry *Registry[K]) TakeIfToken(key K, token uint64) []func(error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	existing, ok := registry.entries[key]
	if !ok || existing.token != token {
		return nil
	}
	return registry.remove(key)
}

// Drain removes every entry and returns all waiters, used at shutdown.
func (registry *Registry[K]) Drain() []func(error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	var waiters []func(error)
	for key, existing := range registry.entries {
		if existing.timer != nil {
			existing.timer.Stop()
		}
		waiters = append(waiters, existing.waiters...)
		delete(registry.entries, key)
	}
	return waiters
}

func (registry *Registry[K]) remove(key K) []func(error) {
	existing, ok := registry.entries[key]
	if !ok {
		return nil
	}
	if existing.timer != nil {
		existing.timer.Stop()
	}
	delete(registry.entries, key)
	return existing.waiters
}

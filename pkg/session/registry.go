// Package session is the process-local store for transient PVP state.
// Nothing in it survives a restart.
package session

import (
	"sync"
	"time"

	"github.com/sonastea/questbot/pkg/clock"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
	timer     clock.Timer
	gen       uint64
}

// Registry maps keys to values with optional per-entry expiry.
// Each entry owns at most one timer; replacing or touching an entry stops the
// previous timer, and a timer that fires for a replaced entry does nothing.
type Registry[K comparable, V any] struct {
	mu       sync.Mutex
	clock    clock.Clock
	entries  map[K]*entry[V]
	gen      uint64
	onExpire func(K, V)
}

func NewRegistry[K comparable, V any](c clock.Clock) *Registry[K, V] {
	if c == nil {
		c = clock.Real{}
	}
	return &Registry[K, V]{
		clock:   c,
		entries: make(map[K]*entry[V]),
	}
}

// OnExpire registers a callback run, outside the registry lock, after an entry
// is evicted by its timer. It is not called for Delete.
func (r *Registry[K, V]) OnExpire(fn func(K, V)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = fn
}

// Put stores value under key. A ttl of zero means the entry never expires.
func (r *Registry[K, V]) Put(key K, value V, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	e := &entry[V]{value: value}
	r.entries[key] = e
	r.arm(key, e, ttl)
}

// PutIfAbsent stores value only when key has no live entry. It reports whether it stored.
func (r *Registry[K, V]) PutIfAbsent(key K, value V, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[key]; ok {
		if !r.expired(old) {
			return false
		}
		if old.timer != nil {
			old.timer.Stop()
		}
	}
	e := &entry[V]{value: value}
	r.entries[key] = e
	r.arm(key, e, ttl)
	return true
}

// arm must be called with r.mu held.
func (r *Registry[K, V]) arm(key K, e *entry[V], ttl time.Duration) {
	r.gen++
	e.gen = r.gen
	e.timer = nil
	e.expiresAt = time.Time{}
	if ttl <= 0 {
		return
	}
	e.expiresAt = r.clock.Now().Add(ttl)
	gen := e.gen
	e.timer = r.clock.AfterFunc(ttl, func() { r.expire(key, gen) })
}

func (r *Registry[K, V]) expired(e *entry[V]) bool {
	return !e.expiresAt.IsZero() && !r.clock.Now().Before(e.expiresAt)
}

func (r *Registry[K, V]) expire(key K, gen uint64) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.gen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	fn := r.onExpire
	r.mu.Unlock()

	if fn != nil {
		fn(key, e.value)
	}
}

// Get returns the live value for key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero V
	e, ok := r.entries[key]
	if !ok || r.expired(e) {
		return zero, false
	}
	return e.value, true
}

// Touch pushes the expiry of key out to ttl from now. It reports whether key exists.
func (r *Registry[K, V]) Touch(key K, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || r.expired(e) {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	r.arm(key, e, ttl)
	return true
}

// Delete removes key and stops its timer. It returns the removed value.
func (r *Registry[K, V]) Delete(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero V
	e, ok := r.entries[key]
	if !ok {
		return zero, false
	}
	delete(r.entries, key)
	if e.timer != nil {
		e.timer.Stop()
	}
	if r.expired(e) {
		return zero, false
	}
	return e.value, true
}

// Find returns the first live entry matching pred. Iteration order is unspecified.
func (r *Registry[K, V]) Find(pred func(K, V) bool) (K, V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, e := range r.entries {
		if r.expired(e) {
			continue
		}
		if pred(k, e.value) {
			return k, e.value, true
		}
	}
	var zk K
	var zv V
	return zk, zv, false
}

// Values returns a snapshot of all live values.
func (r *Registry[K, V]) Values() []V {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]V, 0, len(r.entries))
	for _, e := range r.entries {
		if !r.expired(e) {
			out = append(out, e.value)
		}
	}
	return out
}

// Len counts live entries.
func (r *Registry[K, V]) Len() int {
	return len(r.Values())
}

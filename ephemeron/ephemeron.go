// Package ephemeron implements a live in-memory index whose entries do
// not themselves keep their values alive: a weak map. Go ships exactly
// this primitive natively as of 1.24: weak.Pointer, paired with
// runtime.AddCleanup, which is what this package is built on instead of
// hand-rolling reference counting with finalizers, the way older
// weak-map simulations have to.
//
// Table is sharded (fixed shard count, one RWMutex per shard) so that
// lookups on unrelated keys never contend.
package ephemeron

import (
	"runtime"
	"sync"
	"weak"
)

// Table maps a comparable key to a weakly-held value of type V. A value
// found live under GetOrCreate shares identity with every other lookup
// of the same key (structure sharing); once the last strong referent to
// that value is collected, its entry is pruned automatically.
type Table[K comparable, V any] struct {
	hash   func(K) uint64
	shards []shard[K, V]
}

type shard[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]weak.Pointer[V]
}

// New returns a Table with the given shard count (rounded up to at least
// 1) and a hash function used only to pick a shard, never for equality.
func New[K comparable, V any](shardCount int, hash func(K) uint64) *Table[K, V] {
	if shardCount < 1 {
		shardCount = 1
	}
	t := &Table[K, V]{
		hash:   hash,
		shards: make([]shard[K, V], shardCount),
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[K]weak.Pointer[V])
	}
	return t
}

func (t *Table[K, V]) shardFor(key K) *shard[K, V] {
	return &t.shards[t.hash(key)%uint64(len(t.shards))]
}

// Get returns the live value for key, if its ephemeron entry still
// resolves.
func (t *Table[K, V]) Get(key K) (*V, bool) {
	sh := t.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	wp, ok := sh.entries[key]
	if !ok {
		return nil, false
	}
	v := wp.Value()
	return v, v != nil
}

// GetOrCreate returns the live value for key if one exists, otherwise
// calls create, registers a cleanup that prunes the entry once the
// returned value becomes unreachable, and stores a weak reference to it.
// loaded reports whether an existing live entry was returned instead of a
// freshly created one.
func (t *Table[K, V]) GetOrCreate(key K, create func() *V) (v *V, loaded bool) {
	sh := t.shardFor(key)

	sh.mu.RLock()
	if wp, ok := sh.entries[key]; ok {
		if v := wp.Value(); v != nil {
			sh.mu.RUnlock()
			return v, true
		}
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if wp, ok := sh.entries[key]; ok {
		if v := wp.Value(); v != nil {
			return v, true
		}
	}
	v = create()
	sh.entries[key] = weak.Make(v)
	runtime.AddCleanup(v, sh.prune, key)
	return v, false
}

func (sh *shard[K, V]) prune(key K) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if wp, ok := sh.entries[key]; ok && wp.Value() == nil {
		delete(sh.entries, key)
	}
}

// Delete forcibly removes key's entry regardless of liveness, rather than
// waiting for its value to be collected.
func (t *Table[K, V]) Delete(key K) {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
}

// Range calls fn once for every currently-live entry, stopping early if fn
// returns false. Each shard is snapshotted under its RLock and fn is then
// called outside any lock, so fn may call back into the table (Get,
// GetOrCreate) without deadlocking; an entry created or pruned concurrently
// with a Range call may or may not be observed by it.
func (t *Table[K, V]) Range(fn func(K, *V) bool) {
	type liveEntry struct {
		key K
		val *V
	}
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.RLock()
		live := make([]liveEntry, 0, len(sh.entries))
		for k, wp := range sh.entries {
			if v := wp.Value(); v != nil {
				live = append(live, liveEntry{key: k, val: v})
			}
		}
		sh.mu.RUnlock()
		for _, e := range live {
			if !fn(e.key, e.val) {
				return
			}
		}
	}
}

// Len returns the number of entries currently indexed, live or not yet
// pruned. Intended for stats/diagnostics, not for correctness.
func (t *Table[K, V]) Len() int {
	n := 0
	for i := range t.shards {
		t.shards[i].mu.RLock()
		n += len(t.shards[i].entries)
		t.shards[i].mu.RUnlock()
	}
	return n
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"sync"

	"code.hybscloud.com/respdrive/internal/bo"
)

// commandCache holds pre-encoded, ready-to-write RESP command byte slices
// for repeated zero-argument commands (PING, etc.), keyed by the command
// token so a hot command never re-runs the writer's append logic; commands
// with arguments are not cached. Bounded FIFO eviction,
// default capacity 1000 (spec.md §4.6).
//
// The key hash folds the command bytes 8 bytes at a time using this
// machine's native byte order (internal/bo), the same package the codec's
// teacher uses to pick a byte order for local-transport framing — here
// repurposed from "which way to lay out a wire length prefix" to "which
// way to fold bytes into a hash", since within one process a cache key
// never crosses a machine boundary and paying for BigEndian's byte-swaps
// on a little-endian host would be pure waste.
type commandCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]cacheEntry
	order    []uint64 // FIFO eviction order of keys
}

type cacheEntry struct {
	key   []byte
	value []byte
}

func newCommandCache(capacity int) *commandCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &commandCache{
		capacity: capacity,
		entries:  make(map[uint64]cacheEntry, capacity),
	}
}

// size returns the current number of cached entries, for the pipeline's
// pre-encoded-cache-size gauge (spec.md §6).
func (c *commandCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// get returns the cached encoding for key (the command token, e.g.
// "PING"), or nil if absent or if the hash bucket is
// occupied by a different key (a collision simply misses — the cache is a
// speed optimization, not a correctness-bearing structure).
func (c *commandCache) get(key []byte) []byte {
	h := hashBytes(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[h]
	if !ok || !bytesEqual(e.key, key) {
		return nil
	}
	return e.value
}

// put stores encoded for key, evicting the oldest entry if at capacity.
func (c *commandCache) put(key, encoded []byte) {
	h := hashBytes(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[h]; !exists {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, h)
	}
	c.entries[h] = cacheEntry{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), encoded...),
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// hashBytes is an FNV-1a fold that consumes 8 bytes at a time in the
// machine's native byte order, falling back to a byte-at-a-time tail.
func hashBytes(b []byte) uint64 {
	const (
		offsetBasis = 14695981039346656037
		prime       = 1099511628211
	)
	order := bo.Native()
	h := uint64(offsetBasis)
	n := len(b)
	i := 0
	for ; i+8 <= n; i += 8 {
		word := order.Uint64(b[i : i+8])
		h ^= word
		h *= prime
	}
	for ; i < n; i++ {
		h ^= uint64(b[i])
		h *= prime
	}
	return h
}

// Copyright 2026 The VaultGate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

// DedupCache is the bounded, TTL-evicted idempotency cache backing
// /events/ingest. This is explicitly a "phase 1" design: it trades
// durability for simplicity, and documents its own overflow behavior
// rather than hiding it.
//
// TODO(durable-outbox): once the partitionlog plugin's on-disk segments are
// exposed for replay, back this cache with them instead of clearing
// wholesale on overflow.
type DedupCache struct {
	mu       sync.Mutex
	entries  map[string]time.Time // key -> expiry
	capacity int
	ttl      time.Duration
}

func NewDedupCache(capacity int, ttl time.Duration) *DedupCache {
	if capacity <= 0 {
		capacity = 4096
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DedupCache{entries: make(map[string]time.Time), capacity: capacity, ttl: ttl}
}

// SeenBefore records key if it hasn't been seen (within its TTL) and
// reports whether it was already present. Expired entries are evicted
// opportunistically on access.
func (c *DedupCache) SeenBefore(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if exp, ok := c.entries[key]; ok {
		if now.Before(exp) {
			return true
		}
		delete(c.entries, key)
	}

	if len(c.entries) >= c.capacity {
		// Overflow: clear wholesale rather than attempt fine-grained LRU
		// eviction. Documented phase-1 behavior — a request landing right
		// after this clear will not be deduplicated against older ones.
		slog.Warn("eventbus: idempotency cache at capacity, clearing wholesale",
			"capacity", c.capacity)
		c.entries = make(map[string]time.Time)
	}

	c.entries[key] = now.Add(c.ttl)
	return false
}

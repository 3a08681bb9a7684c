/*
Copyright 2026 The Hesiod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package preview caches copies of node outputs for the viewer. The cache is
bounded by the bytes it holds rather than its entry count, the least
recently used entries are evicted first.
*/
package preview

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"goarrg.com/debug"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("hesiod", "preview"),
}

func SetLogLevel(l uint32) {
	instance.logger.SetLevel(l)
}

const (
	DefaultMemoryLimitMB = 512
	bytesPerMB           = 1024 * 1024
	bytesPerFloat        = 4
)

type entry struct {
	data  []float32
	bytes int64
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Refreshes uint64
}

/*
Cache maps a node identity to a copy of its last computed values. Every
method holds the one mutex, it is safe for concurrent use.
*/
type Cache struct {
	mtx   sync.Mutex
	lru   *simplelru.LRU[string, entry]
	bytes int64
	limit int64
	stats Stats

	lastRetrieval time.Duration
}

func New(limitMB int) *Cache {
	c := &Cache{limit: int64(limitMB) * bytesPerMB}
	lru, err := simplelru.NewLRU[string, entry](math.MaxInt, func(_ string, e entry) {
		c.bytes -= e.bytes
	})
	if err != nil {
		panic(err)
	}
	c.lru = lru
	return c
}

// evict drops the least recently used entries until the cache fits its limit, a zero limit keeps nothing.
func (c *Cache) evict() {
	for c.lru.Len() > 0 && (c.bytes > c.limit || c.limit == 0) {
		key, _, _ := c.lru.RemoveOldest()
		c.stats.Evictions++
		instance.logger.VPrintf("Evicted %q, usage: %d/%d bytes", key, c.bytes, c.limit)
	}
}

// Store saves a copy of data under id and makes it the most recently used entry.
func (c *Cache) Store(id string, data []float32) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.lru.Remove(id)
	e := entry{data: slices.Clone(data), bytes: int64(len(data)) * bytesPerFloat}
	c.lru.Add(id, e)
	c.bytes += e.bytes
	c.evict()
}

// Retrieve returns a copy of the values stored under id and counts a hit or a miss.
func (c *Cache) Retrieve(id string) ([]float32, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	start := time.Now()
	e, ok := c.lru.Get(id)
	if !ok {
		c.stats.Misses++
		c.lastRetrieval = time.Since(start)
		return nil, false
	}
	c.stats.Hits++
	ret := slices.Clone(e.data)
	c.lastRetrieval = time.Since(start)
	return ret, true
}

// Has reports whether id is cached without touching the recency order or the counters.
func (c *Cache) Has(id string) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.lru.Contains(id)
}

func (c *Cache) Invalidate(id string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.lru.Remove(id)
}

// InvalidateChain drops id and every node downstream of it.
func (c *Cache) InvalidateChain(id string, downstream []string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.lru.Remove(id)
	for _, d := range downstream {
		c.lru.Remove(d)
	}
}

// ForceRefresh drops id so the next evaluation recomputes it, unlike Invalidate it is counted in Stats.
func (c *Cache) ForceRefresh(id string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.lru.Remove(id) {
		c.stats.Refreshes++
	}
}

// Clear drops every entry, the counters are kept.
func (c *Cache) Clear() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.lru.Purge()
}

func (c *Cache) ResetStats() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.stats = Stats{}
	c.lastRetrieval = 0
}

func (c *Cache) Stats() Stats {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.stats
}

// HitRate returns hits / (hits + misses) in percent, 0 before the first retrieval.
func (c *Cache) HitRate() float64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	total := c.stats.Hits + c.stats.Misses
	if total == 0 {
		return 0
	}
	return 100 * float64(c.stats.Hits) / float64(total)
}

func (c *Cache) MemoryUsageBytes() int64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.bytes
}

func (c *Cache) MemoryUsageMB() float64 {
	return float64(c.MemoryUsageBytes()) / bytesPerMB
}

// CachePercentage is the memory usage in percent of the limit.
func (c *Cache) CachePercentage() float64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.limit == 0 {
		return 0
	}
	return 100 * float64(c.bytes) / float64(c.limit)
}

func (c *Cache) MemoryLimitBytes() int64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.limit
}

func (c *Cache) SetMemoryLimitMB(mb int) {
	c.SetMemoryLimitBytes(int64(mb) * bytesPerMB)
}

// SetMemoryLimitBytes changes the limit and evicts right away when the cache no longer fits.
func (c *Cache) SetMemoryLimitBytes(limit int64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.limit = max(limit, 0)
	c.evict()
}

func (c *Cache) LastRetrievalTimeMS() float64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return float64(c.lastRetrieval) / float64(time.Millisecond)
}

func (c *Cache) Len() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.lru.Len()
}

// Keys returns the cached ids from the most to the least recently used.
func (c *Cache) Keys() []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	keys := c.lru.Keys()
	slices.Reverse(keys)
	return keys
}

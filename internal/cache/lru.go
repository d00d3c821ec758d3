package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/sharefs/sharefs/pkg/types"
)

// Resource is a cacheable network resource. The cache owns a resource once
// it is inserted and closes it on eviction.
type Resource interface {
	comparable
	io.Closer
}

// Config represents resource cache configuration
type Config struct {
	Name     string        `yaml:"name"`
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`

	Logger  *slog.Logger           `yaml:"-"`
	Metrics types.MetricsCollector `yaml:"-"`
}

type entry[V Resource] struct {
	value   V
	created time.Time
}

type victim[K comparable, V Resource] struct {
	key   K
	value V
}

// ResourceCache is a bounded, thread-safe LRU of closable resources.
// Eviction by capacity, expiry, Remove or Purge closes the evicted value
// outside the cache lock and before the evicting call returns, unless the
// value is pinned by Acquire. A pinned value leaves the cache as usual but is
// closed when its last pin is released.
type ResourceCache[K comparable, V Resource] struct {
	name     string
	capacity int
	ttl      time.Duration
	logger   *slog.Logger
	metrics  types.MetricsCollector
	now      func() time.Time

	mu       sync.Mutex
	lru      *simplelru.LRU
	victims  []victim[K, V]
	pins     map[V]int
	deferred map[V]K

	group singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a resource cache holding at most cfg.Capacity entries.
func New[K comparable, V Resource](cfg Config) (*ResourceCache[K, V], error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("cache %q: capacity must be greater than 0", cfg.Name)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &ResourceCache[K, V]{
		name:     cfg.Name,
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		logger:   cfg.Logger.With("component", "cache", "cache", cfg.Name),
		metrics:  cfg.Metrics,
		now:      time.Now,
		pins:     make(map[V]int),
		deferred: make(map[V]K),
	}

	lru, err := simplelru.NewLRU(cfg.Capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache %q: %w", cfg.Name, err)
	}
	c.lru = lru
	return c, nil
}

// onEvict runs under c.mu from inside simplelru.
func (c *ResourceCache[K, V]) onEvict(key interface{}, value interface{}) {
	c.victims = append(c.victims, victim[K, V]{key: key.(K), value: value.(*entry[V]).value})
}

// unlock releases c.mu and closes everything evicted while it was held.
// Pinned victims are parked in c.deferred instead.
func (c *ResourceCache[K, V]) unlock() {
	victims := c.victims
	c.victims = nil
	closing := victims[:0:0]
	for _, v := range victims {
		if c.pins[v.value] > 0 {
			c.deferred[v.value] = v.key
			continue
		}
		closing = append(closing, v)
	}
	c.mu.Unlock()

	for range victims {
		c.evictions.Add(1)
		if c.metrics != nil {
			c.metrics.RecordCacheEviction(c.name)
		}
	}
	for _, v := range closing {
		c.close(v.key, v.value)
	}
	if deferred := len(victims) - len(closing); deferred > 0 {
		c.logger.Debug("close of evicted resources deferred until released", "count", deferred)
	}
}

func (c *ResourceCache[K, V]) close(key K, value V) {
	if err := value.Close(); err != nil {
		c.logger.Warn("failed to close evicted resource", "key", fmt.Sprint(key), "error", err)
		return
	}
	c.logger.Debug("evicted resource", "key", fmt.Sprint(key))
}

func (c *ResourceCache[K, V]) expired(e *entry[V]) bool {
	return c.ttl > 0 && c.now().Sub(e.created) > c.ttl
}

// Get returns the cached value for key and marks it most recently used.
// Expired entries are evicted and reported as misses.
func (c *ResourceCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.unlock()
	return c.getLocked(key)
}

func (c *ResourceCache[K, V]) getLocked(key K) (V, bool) {
	var zero V
	raw, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	e := raw.(*entry[V])
	if c.expired(e) {
		c.lru.Remove(key)
		c.misses.Add(1)
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Put inserts or replaces the value for key. A replaced value and any value
// evicted to make room are closed before Put returns.
func (c *ResourceCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.unlock()

	if raw, ok := c.lru.Peek(key); ok {
		if old := raw.(*entry[V]).value; old != value {
			c.victims = append(c.victims, victim[K, V]{key: key, value: old})
		}
	}
	c.lru.Add(key, &entry[V]{value: value, created: c.now()})
}

// GetOrCreate returns the cached value for key, creating it with factory on
// a miss. Concurrent callers for the same key share one factory call.
func (c *ResourceCache[K, V]) GetOrCreate(ctx context.Context, key K, factory func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(fmt.Sprintf("%#v", key), func() (interface{}, error) {
		c.mu.Lock()
		if raw, ok := c.lru.Peek(key); ok && !c.expired(raw.(*entry[V])) {
			c.unlock()
			return raw.(*entry[V]).value, nil
		}
		c.unlock()

		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Acquire is GetOrCreate that also pins the returned value: it stays open,
// even if evicted, until the returned release func is called. Release is
// idempotent.
func (c *ResourceCache[K, V]) Acquire(ctx context.Context, key K, factory func(context.Context) (V, error)) (V, func(), error) {
	var zero V
	for {
		v, err := c.GetOrCreate(ctx, key, factory)
		if err != nil {
			return zero, nil, err
		}

		c.mu.Lock()
		raw, cached := c.lru.Peek(key)
		if (cached && raw.(*entry[V]).value == v) || c.pins[v] > 0 {
			c.pins[v]++
			c.mu.Unlock()
			return v, c.unpinFunc(v), nil
		}
		c.mu.Unlock()

		// v was evicted and closed between lookup and pin.
		if err := ctx.Err(); err != nil {
			return zero, nil, err
		}
	}
}

func (c *ResourceCache[K, V]) unpinFunc(v V) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.pins[v]--
			if c.pins[v] > 0 {
				c.mu.Unlock()
				return
			}
			delete(c.pins, v)
			key, evicted := c.deferred[v]
			delete(c.deferred, v)
			c.mu.Unlock()

			if evicted {
				c.close(key, v)
			}
		})
	}
}

// Remove evicts key, closing its value. It reports whether key was present.
func (c *ResourceCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.unlock()
	return c.lru.Remove(key)
}

// RemoveFunc evicts every entry whose key matches and returns how many were
// removed.
func (c *ResourceCache[K, V]) RemoveFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.unlock()

	removed := 0
	for _, raw := range c.lru.Keys() {
		key := raw.(K)
		if match(key) && c.lru.Remove(key) {
			removed++
		}
	}
	return removed
}

// Purge evicts and closes every entry.
func (c *ResourceCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.unlock()
	c.lru.Purge()
}

// Keys returns the cached keys from oldest to newest.
func (c *ResourceCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw := c.lru.Keys()
	keys := make([]K, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(K))
	}
	return keys
}

// Pinned returns the number of distinct values currently pinned, cached or
// not.
func (c *ResourceCache[K, V]) Pinned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pins)
}

// Len returns the number of cached entries.
func (c *ResourceCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns cache statistics
func (c *ResourceCache[K, V]) Stats() types.CacheStats {
	stats := types.CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
		Capacity:  c.capacity,
		Pinned:    c.Pinned(),
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

package buffer

import (
	"sort"
	"sync"
	"sync/atomic"
)

// BytePool recycles window buffers to reduce GC pressure from multi-megabyte
// chunks churned by the pipelines.
type BytePool struct {
	pools map[int]*sync.Pool
	sizes []int
	mu    sync.RWMutex

	outstanding atomic.Int64
}

var defaultSizes = []int{
	65536,    // 64KB
	262144,   // 256KB
	1048576,  // 1MB
	4194304,  // 4MB
	16777216, // 16MB
}

// NewBytePool creates a pool with the default size buckets plus any extra
// bucket sizes, typically the configured buffer size.
func NewBytePool(extra ...int) *BytePool {
	p := &BytePool{pools: make(map[int]*sync.Pool)}
	for _, size := range append(append([]int(nil), defaultSizes...), extra...) {
		p.addBucket(size)
	}
	return p
}

func (p *BytePool) addBucket(size int) {
	if size <= 0 {
		return
	}
	if _, exists := p.pools[size]; exists {
		return
	}
	p.pools[size] = &sync.Pool{
		New: func() interface{} {
			return make([]byte, size)
		},
	}
	p.sizes = append(p.sizes, size)
	sort.Ints(p.sizes)
}

// Get retrieves a byte slice of length size backed by the smallest bucket
// that fits.
func (p *BytePool) Get(size int) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, bucketSize := range p.sizes {
		if bucketSize >= size {
			buf := p.pools[bucketSize].Get().([]byte)
			p.outstanding.Add(1)
			return buf[:size]
		}
	}

	return make([]byte, size)
}

// Put returns a byte slice to the pool. Slices whose capacity does not match
// a bucket are left to the GC.
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if pool, exists := p.pools[cap(buf)]; exists {
		p.outstanding.Add(-1)
		// nolint:staticcheck // SA6002: sync.Pool.Put requires interface{}, slice allocation is expected
		pool.Put(buf[:cap(buf)])
	}
}

// PoolStats describes the configured buckets.
type PoolStats struct {
	PoolSizes     []int `json:"pool_sizes"`
	MaxBufferSize int   `json:"max_buffer_size"`
	MinBufferSize int   `json:"min_buffer_size"`
	Outstanding   int64 `json:"outstanding"`
}

// GetStats returns current pool statistics
func (p *BytePool) GetStats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{
		PoolSizes:   append([]int(nil), p.sizes...),
		Outstanding: p.outstanding.Load(),
	}
	if len(p.sizes) > 0 {
		stats.MinBufferSize = p.sizes[0]
		stats.MaxBufferSize = p.sizes[len(p.sizes)-1]
	}
	return stats
}

var defaultBytePool = NewBytePool()

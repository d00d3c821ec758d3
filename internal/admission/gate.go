// Package admission caps the number of concurrently open remote file
// operations and publishes which ones are open.
package admission

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

// DefaultCapacity is used when a non-positive capacity is configured.
const DefaultCapacity = 32

// Gate is a bounded set of in-flight operation keys shared by all
// connections. Keys are kept in admission order.
type Gate struct {
	capacity int
	sem      *semaphore.Weighted
	logger   *slog.Logger

	mu      sync.Mutex
	keys    []types.HandleKey
	subs    map[int]chan []types.HandleKey
	nextSub int
}

// New creates a gate admitting at most capacity operations at once.
func New(capacity int, logger *slog.Logger) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
		logger:   logger.With("component", "admission"),
		subs:     make(map[int]chan []types.HandleKey),
	}
}

// Acquire blocks until capacity is available or ctx is done, then records
// key as in flight.
func (g *Gate) Acquire(ctx context.Context, key types.HandleKey) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return errors.NewError(errors.CodeOf(err), "admission wait aborted").
			WithComponent("admission").
			WithOperation("acquire").
			WithContext("key", key.String()).
			WithCause(err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys = append(g.keys, key)
	g.publishLocked()
	g.logger.Debug("admitted", "key", key.String(), "in_flight", len(g.keys))
	return nil
}

// Release removes one occurrence of key and frees its slot. Releasing a key
// that is not in flight is logged and ignored.
func (g *Gate) Release(key types.HandleKey) {
	g.mu.Lock()
	idx := -1
	for i, k := range g.keys {
		if k == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		g.logger.Warn("release of unknown key", "key", key.String())
		return
	}
	g.keys = append(g.keys[:idx], g.keys[idx+1:]...)
	g.publishLocked()
	g.mu.Unlock()

	g.sem.Release(1)
}

// Admit acquires key and returns a release function that is safe to call
// more than once.
func (g *Gate) Admit(ctx context.Context, key types.HandleKey) (func(), error) {
	if err := g.Acquire(ctx, key); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { g.Release(key) }) }, nil
}

// Snapshot returns the in-flight keys in admission order.
func (g *Gate) Snapshot() []types.HandleKey {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]types.HandleKey(nil), g.keys...)
}

// InFlight returns the number of admitted operations.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}

// Capacity returns the configured limit.
func (g *Gate) Capacity() int {
	return g.capacity
}

// Subscribe returns a channel that receives the current snapshot immediately
// and again after every change. A slow subscriber only sees the latest
// snapshot. The returned cancel function closes the channel.
func (g *Gate) Subscribe() (<-chan []types.HandleKey, func()) {
	ch := make(chan []types.HandleKey, 1)

	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = ch
	ch <- append([]types.HandleKey(nil), g.keys...)
	g.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if _, ok := g.subs[id]; ok {
				delete(g.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close closes every subscription channel.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, ch := range g.subs {
		delete(g.subs, id)
		close(ch)
	}
}

func (g *Gate) publishLocked() {
	for _, ch := range g.subs {
		snap := append([]types.HandleKey(nil), g.keys...)
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

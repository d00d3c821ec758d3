package cache

//go:generate go run github.com/golang/mock/mockgen -package=cache -destination=mock_closer_test.go io Closer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharefs/sharefs/pkg/types"
)

func newTestCache[K comparable](t *testing.T, capacity int) *ResourceCache[K, *MockCloser] {
	t.Helper()
	c, err := New[K, *MockCloser](Config{Name: "test", Capacity: capacity})
	require.NoError(t, err)
	return c
}

func fakeIdentity(f *gofakeit.Faker) types.ConnectionIdentity {
	return types.ConnectionIdentity{
		Protocol: types.ProtocolSMB,
		Host:     f.DomainName(),
		Port:     f.IntRange(1, 65535),
		Username: f.Username(),
	}
}

func TestNew_InvalidCapacity(t *testing.T) {
	_, err := New[string, *MockCloser](Config{Name: "bad", Capacity: 0})
	assert.Error(t, err)
}

func TestResourceCache_EvictionClosesLeastRecentlyUsed(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := gofakeit.New(1)

	const capacity = 4
	c := newTestCache[types.ConnectionIdentity](t, capacity)

	ids := make([]types.ConnectionIdentity, capacity+1)
	values := make([]*MockCloser, capacity+1)
	for i := range ids {
		ids[i] = fakeIdentity(f)
		values[i] = NewMockCloser(ctrl)
	}

	// Only the least recently used value is closed, exactly once.
	values[0].EXPECT().Close().Return(nil).Times(1)

	for i := 0; i < capacity; i++ {
		c.Put(ids[i], values[i])
	}
	c.Put(ids[capacity], values[capacity])

	_, ok := c.Get(ids[0])
	assert.False(t, ok)
	for i := 1; i <= capacity; i++ {
		v, ok := c.Get(ids[i])
		require.True(t, ok)
		assert.Same(t, values[i], v)
	}
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestResourceCache_GetRefreshesRecency(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := newTestCache[string](t, 2)

	a, b, d := NewMockCloser(ctrl), NewMockCloser(ctrl), NewMockCloser(ctrl)
	b.EXPECT().Close().Return(nil)

	c.Put("a", a)
	c.Put("b", b)
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Put("d", d)

	assert.ElementsMatch(t, []string{"a", "d"}, c.Keys())
}

func TestResourceCache_ReplaceClosesOldValue(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := newTestCache[string](t, 2)

	old, replacement := NewMockCloser(ctrl), NewMockCloser(ctrl)
	old.EXPECT().Close().Return(nil)

	c.Put("k", old)
	c.Put("k", old) // same value: nothing closed
	c.Put("k", replacement)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Same(t, replacement, v)
}

func TestResourceCache_RemoveAndPurge(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := newTestCache[string](t, 10)

	a, b, d := NewMockCloser(ctrl), NewMockCloser(ctrl), NewMockCloser(ctrl)
	a.EXPECT().Close().Return(nil)
	b.EXPECT().Close().Return(errors.New("socket already closed"))
	d.EXPECT().Close().Return(nil)

	c.Put("a", a)
	c.Put("b", b)
	c.Put("d", d)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))

	c.Purge()
	assert.Zero(t, c.Len())
	assert.EqualValues(t, 3, c.Stats().Evictions, "close errors still count as evictions")
}

func TestResourceCache_AcquireDefersCloseUntilReleased(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := newTestCache[string](t, 1)
	ctx := context.Background()

	pinned, other := NewMockCloser(ctrl), NewMockCloser(ctrl)
	v, release, err := c.Acquire(ctx, "session-a", func(context.Context) (*MockCloser, error) {
		return pinned, nil
	})
	require.NoError(t, err)
	require.Same(t, pinned, v)
	assert.Equal(t, 1, c.Stats().Pinned)

	// Evicted by capacity and removed again: no Close while pinned.
	c.Put("session-b", other)
	assert.False(t, c.Remove("session-a"))
	_, ok := c.Get("session-a")
	assert.False(t, ok)

	pinned.EXPECT().Close().Return(nil).Times(1)
	release()
	release()
	assert.Zero(t, c.Stats().Pinned)

	other.EXPECT().Close().Return(nil)
	c.Purge()
}

func TestResourceCache_AcquireSharesPins(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := newTestCache[string](t, 4)
	ctx := context.Background()

	value := NewMockCloser(ctrl)
	factory := func(context.Context) (*MockCloser, error) { return value, nil }

	_, releaseA, err := c.Acquire(ctx, "k", factory)
	require.NoError(t, err)
	_, releaseB, err := c.Acquire(ctx, "k", factory)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Pinned())

	assert.True(t, c.Remove("k"))
	releaseA()

	value.EXPECT().Close().Return(nil).Times(1)
	releaseB()
}

func TestResourceCache_AcquireUnevictedValueStaysCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := newTestCache[string](t, 4)

	value := NewMockCloser(ctrl)
	_, release, err := c.Acquire(context.Background(), "k", func(context.Context) (*MockCloser, error) {
		return value, nil
	})
	require.NoError(t, err)
	release()

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Same(t, value, got)
	assert.Zero(t, c.Pinned())
}

func TestResourceCache_RemoveFunc(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := newTestCache[types.HandleKey](t, 10)

	f := gofakeit.New(2)
	idA, idB := fakeIdentity(f), fakeIdentity(f)
	shareA := types.ShareKey{Identity: idA, Share: "docs"}
	shareB := types.ShareKey{Identity: idB, Share: "docs"}

	for _, key := range []types.HandleKey{
		{Share: shareA, Path: "a.txt"},
		{Share: shareA, Path: "b.txt"},
		{Share: shareB, Path: "a.txt"},
	} {
		v := NewMockCloser(ctrl)
		if key.Share == shareA {
			v.EXPECT().Close().Return(nil)
		}
		c.Put(key, v)
	}

	removed := c.RemoveFunc(func(k types.HandleKey) bool { return k.Share.Identity == idA })
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())
}

func TestResourceCache_TTLExpiry(t *testing.T) {
	ctrl := gomock.NewController(t)
	c, err := New[string, *MockCloser](Config{Name: "handles", Capacity: 4, TTL: time.Minute})
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	v := NewMockCloser(ctrl)
	v.EXPECT().Close().Return(nil)
	c.Put("k", v)

	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestResourceCache_GetOrCreateDeduplicates(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := newTestCache[string](t, 4)

	shared := NewMockCloser(ctrl)
	var calls atomic.Int32
	release := make(chan struct{})

	factory := func(ctx context.Context) (*MockCloser, error) {
		calls.Add(1)
		<-release
		return shared, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*MockCloser, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCreate(context.Background(), "session", factory)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, v := range results {
		assert.Same(t, shared, v)
	}
}

func TestResourceCache_GetOrCreateError(t *testing.T) {
	c := newTestCache[string](t, 4)
	boom := errors.New("host unreachable")

	_, err := c.GetOrCreate(context.Background(), "k", func(ctx context.Context) (*MockCloser, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())
}

type evictionRecorder struct {
	types.MetricsCollector
	mu     sync.Mutex
	caches []string
}

func (r *evictionRecorder) RecordCacheEviction(cache string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches = append(r.caches, cache)
}

func TestResourceCache_RecordsEvictionMetric(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := &evictionRecorder{}
	c, err := New[string, *MockCloser](Config{Name: "sessions", Capacity: 1, Metrics: rec})
	require.NoError(t, err)

	first := NewMockCloser(ctrl)
	first.EXPECT().Close().Return(nil)
	c.Put("a", first)
	c.Put("b", NewMockCloser(ctrl))

	assert.Equal(t, []string{"sessions"}, rec.caches)
}

package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

func key(path string) types.HandleKey {
	return types.HandleKey{
		Share: types.ShareKey{
			Identity: types.ConnectionIdentity{Protocol: types.ProtocolSMB, Host: "fileserver"},
			Share:    "public",
		},
		Path: path,
	}
}

func TestNew_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0, nil).Capacity())
	assert.Equal(t, 4, New(4, nil).Capacity())
}

func TestGate_CapNeverExceeded(t *testing.T) {
	const capacity, attempts = 3, 20
	g := New(capacity, nil)

	var admitted, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := key(fmt.Sprintf("file-%d", i))
			if !assert.NoError(t, g.Acquire(context.Background(), k)) {
				return
			}
			defer g.Release(k)

			n := admitted.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			admitted.Add(-1)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(capacity))
	assert.Zero(t, g.InFlight())
}

func TestGate_BlocksUntilRelease(t *testing.T) {
	g := New(2, nil)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, key("a")))
	require.NoError(t, g.Acquire(ctx, key("b")))

	acquired := make(chan struct{})
	go func() {
		assert.NoError(t, g.Acquire(ctx, key("c")))
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should block while the gate is full")
	case <-time.After(30 * time.Millisecond):
	}

	g.Release(key("a"))
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire not admitted after release")
	}

	assert.Equal(t, []types.HandleKey{key("b"), key("c")}, g.Snapshot())
}

func TestGate_AcquireCancelled(t *testing.T) {
	g := New(1, nil)
	require.NoError(t, g.Acquire(context.Background(), key("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx, key("b"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTimeout))
	assert.Equal(t, []types.HandleKey{key("a")}, g.Snapshot())
}

func TestGate_DuplicateKeysAndUnknownRelease(t *testing.T) {
	g := New(4, nil)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx, key("same")))
	require.NoError(t, g.Acquire(ctx, key("same")))
	assert.Equal(t, 2, g.InFlight())

	g.Release(key("same"))
	assert.Equal(t, 1, g.InFlight())

	g.Release(key("never-acquired"))
	assert.Equal(t, 1, g.InFlight())

	g.Release(key("same"))
	assert.Zero(t, g.InFlight())
}

func TestGate_AdmitReleaseIsIdempotent(t *testing.T) {
	g := New(1, nil)
	release, err := g.Admit(context.Background(), key("a"))
	require.NoError(t, err)

	release()
	release()
	assert.Zero(t, g.InFlight())

	// The slot was returned exactly once.
	release2, err := g.Admit(context.Background(), key("b"))
	require.NoError(t, err)
	defer release2()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Admit(ctx, key("c"))
	assert.Error(t, err)
}

func TestGate_Subscribe(t *testing.T) {
	g := New(4, nil)
	ch, cancel := g.Subscribe()

	assert.Empty(t, <-ch)

	require.NoError(t, g.Acquire(context.Background(), key("a")))
	assert.Equal(t, []types.HandleKey{key("a")}, <-ch)

	require.NoError(t, g.Acquire(context.Background(), key("b")))
	g.Release(key("a"))

	// Only the latest snapshot is retained for a slow subscriber.
	assert.Equal(t, []types.HandleKey{key("b")}, <-ch)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

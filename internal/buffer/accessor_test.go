package buffer

import (
	"context"
	stderr "errors"
	"io"
	"math/rand"
	"sync"
	"time"
)

var errInjected = stderr.New("injected failure")

// memAccessor is an in-memory SequentialAccessor that records every call.
type memAccessor struct {
	mu sync.Mutex

	data     []byte
	maxChunk int // cap on bytes returned per ReadAt, 0 means unlimited
	failN    int // fail this many reads before succeeding
	failAll  bool
	block    bool // block reads until the context is cancelled
	delay    time.Duration

	readCalls   int
	readPos     []int64
	inflight    int
	maxInflight int
	writeErr    error
	flushes   []Window
	closed    int
}

func newMemAccessor(size int) *memAccessor {
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	return &memAccessor{data: data}
}

func (m *memAccessor) ReadAt(ctx context.Context, pos int64, buf []byte) (int, error) {
	m.mu.Lock()
	m.readCalls++
	m.readPos = append(m.readPos, pos)
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	block, delay := m.block, m.delay
	fail := m.failAll || m.failN > 0
	if m.failN > 0 {
		m.failN--
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if fail {
		return 0, errInjected
	}

	if pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	want := len(buf)
	if m.maxChunk > 0 && want > m.maxChunk {
		want = m.maxChunk
	}
	n := copy(buf[:want], m.data[pos:])
	if n < want {
		return n, io.EOF
	}
	return n, nil
}

func (m *memAccessor) WriteAt(ctx context.Context, pos int64, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.flushes = append(m.flushes, Window{Start: pos, Length: len(buf), Data: append([]byte(nil), buf...)})
	return len(buf), nil
}

func (m *memAccessor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *memAccessor) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// reads returns the positions of every ReadAt call and the largest number of
// calls that were running at once.
func (m *memAccessor) reads() ([]int64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.readPos...), m.maxInflight
}

func (m *memAccessor) flushed() []Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Window(nil), m.flushes...)
}

package buffer

import (
	"context"
	stderr "errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

// Default pipeline tuning.
const (
	DefaultBufferSize       = 1 << 20
	DefaultQueueCapacity    = 5
	DefaultMaxFetchFailures = 3
)

// Options configures a read-ahead or write-coalescing pipeline.
type Options struct {
	// BufferSize is the size of one sequential fetch or flush.
	BufferSize int
	// QueueCapacity bounds the windows in flight between producer and consumer.
	QueueCapacity int
	// MaxFetchFailures is the number of consecutive failed fetches at one
	// position before a read reports an I/O error.
	MaxFetchFailures int

	Logger  *slog.Logger
	Metrics types.MetricsCollector
	Pool    *BytePool
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.MaxFetchFailures <= 0 {
		o.MaxFetchFailures = DefaultMaxFetchFailures
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Pool == nil {
		o.Pool = defaultBytePool
	}
	return o
}

// fetch is one asynchronous sequential read issued by the cycle.
type fetch struct {
	pos    int64
	size   int
	gen    uint64
	cancel context.CancelFunc
	prev   <-chan struct{}
	done   chan struct{}

	// valid after done is closed
	window *Window
	eof    bool
	err    error
}

func (f *fetch) covers(p int64) bool {
	return f.pos <= p && p < f.pos+int64(f.size)
}

// ReadAheadPipeline turns random-offset reads into a bounded sequence of
// background sequential fetches from a SequentialAccessor.
//
// A single cycle goroutine produces windows in position order starting at the
// last requested reset position. Each fetch starts its accessor read only
// after the previous fetch finished, so the accessor sees one read at a time
// in increasing position. Readers consume windows from the queue; a read that
// the head window cannot serve requests a reset and never seeks the accessor
// itself.
type ReadAheadPipeline struct {
	accessor   types.SequentialAccessor
	streamSize int64
	opts       Options
	logger     *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	cycleDone chan struct{}
	closeOnce sync.Once

	queue   chan *fetch
	slots   chan struct{}
	resetCh chan struct{}
	parkCh  chan struct{}

	// generation+1 the cycle is parked at end of stream in, 0 when running
	parkedGen atomic.Uint64
	// done channel of the last fetch started, owned by the cycle
	lastDone <-chan struct{}

	mu            sync.Mutex
	resetPosition int64
	resetGen      uint64

	// consumer state, guarded by readMu
	readMu      sync.Mutex
	current     *Window
	currentEOF  bool
	failPos     int64
	failures    int
	lastFailure error

	fetches       atomic.Uint64
	fetchedBytes  atomic.Int64
	resets        atomic.Uint64
	failedFetches atomic.Uint64
}

// NewReadAheadPipeline starts a read-ahead cycle over a stream of streamSize
// bytes, fetching from position 0.
func NewReadAheadPipeline(accessor types.SequentialAccessor, streamSize int64, opts Options) *ReadAheadPipeline {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	p := &ReadAheadPipeline{
		accessor:   accessor,
		streamSize: streamSize,
		opts:       opts,
		logger:     opts.Logger.With("component", "readahead"),
		ctx:        ctx,
		cancel:     cancel,
		cycleDone:  make(chan struct{}),
		queue:      make(chan *fetch, opts.QueueCapacity),
		slots:      make(chan struct{}, opts.QueueCapacity),
		resetCh:    make(chan struct{}, 1),
		parkCh:     make(chan struct{}, 1),
	}
	done := make(chan struct{})
	close(done)
	p.lastDone = done

	go p.cycle()
	return p
}

// ReadBuffer copies up to len(out) bytes starting at pos into out. It returns
// 0 at or past the end of the stream and a short count only when the stream
// ends inside the requested range.
func (p *ReadAheadPipeline) ReadBuffer(ctx context.Context, pos int64, out []byte) (int, error) {
	if p.ctx.Err() != nil {
		return 0, closedError("readahead", "read")
	}
	if pos < 0 {
		return 0, errors.NewError(errors.ErrCodeIO, "negative read offset").
			WithComponent("readahead").WithOperation("read")
	}
	if pos >= p.streamSize || len(out) == 0 {
		return 0, nil
	}

	n := len(out)
	if remaining := p.streamSize - pos; int64(n) > remaining {
		n = int(remaining)
	}

	p.readMu.Lock()
	defer p.readMu.Unlock()

	copied := 0
	for copied < n {
		cur := pos + int64(copied)
		if w := p.current; w != nil && w.Covers(cur) {
			if cur < w.End() {
				copied += copy(out[copied:n], w.Data[cur-w.Start:])
				continue
			}
			if p.currentEOF {
				break
			}
		}

		if err := p.advance(ctx, cur); err != nil {
			if copied > 0 {
				return copied, nil
			}
			return 0, err
		}
	}

	return copied, nil
}

// advance replaces the current window with the queued window covering cur,
// requesting resets until the cycle produces one.
func (p *ReadAheadPipeline) advance(ctx context.Context, cur int64) error {
	for {
		// Nothing more is coming for this generation once the cycle has
		// parked and the queue is empty.
		if p.stalled() {
			p.requestReset(cur)
		}

		var f *fetch
		select {
		case f = <-p.queue:
			<-p.slots
		case <-p.parkCh:
			continue
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return closedError("readahead", "read")
		}

		if f.gen != p.generation() {
			p.discard(f)
			continue
		}

		select {
		case <-f.done:
		case <-ctx.Done():
			p.discard(f)
			return ctx.Err()
		case <-p.ctx.Done():
			p.discard(f)
			return closedError("readahead", "read")
		}

		if f.err != nil {
			if f.covers(cur) && p.recordFailure(cur, f.err) {
				return errors.NewError(errors.ErrCodeIO, "remote read failed").
					WithComponent("readahead").
					WithOperation("read").
					WithCause(p.lastFailure)
			}
			p.requestReset(cur)
			continue
		}

		w := f.window
		if !w.Covers(cur) {
			p.opts.Pool.Put(w.Data)
			p.requestReset(cur)
			continue
		}

		p.failures = 0
		p.setCurrent(w, f.eof)
		return nil
	}
}

// recordFailure counts consecutive failures at pos and reports whether the
// limit was reached. The counter is cleared once it trips so a later call
// retries from scratch.
func (p *ReadAheadPipeline) recordFailure(pos int64, err error) bool {
	if p.failures > 0 && p.failPos == pos {
		p.failures++
	} else {
		p.failPos = pos
		p.failures = 1
	}
	p.lastFailure = err

	if p.failures >= p.opts.MaxFetchFailures {
		p.failures = 0
		return true
	}
	return false
}

func (p *ReadAheadPipeline) setCurrent(w *Window, eof bool) {
	if p.current != nil {
		p.opts.Pool.Put(p.current.Data)
	}
	p.current = w
	p.currentEOF = eof
}

// stalled reports whether the cycle is parked in the current generation with
// nothing left in the queue. Only the consumer dequeues, and a parked cycle
// enqueues nothing, so the answer holds until the next reset.
func (p *ReadAheadPipeline) stalled() bool {
	return p.parkedGen.Load() == p.generation()+1 && len(p.queue) == 0
}

func (p *ReadAheadPipeline) generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resetGen
}

func (p *ReadAheadPipeline) loadReset() (int64, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resetPosition, p.resetGen
}

func (p *ReadAheadPipeline) requestReset(pos int64) {
	p.mu.Lock()
	p.resetPosition = pos
	p.resetGen++
	p.mu.Unlock()

	p.resets.Add(1)
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordPipelineReset()
	}
	p.logger.Debug("read-ahead reset", "position", pos)

	select {
	case p.resetCh <- struct{}{}:
	default:
	}
}

// cycle is the producer. It runs until the pipeline is closed.
func (p *ReadAheadPipeline) cycle() {
	defer close(p.cycleDone)

	pos, gen := p.loadReset()
	for {
		if p.ctx.Err() != nil {
			return
		}

		if rp, g := p.loadReset(); g != gen {
			p.drain()
			pos, gen = rp, g
		}

		// Park at end of stream until a reader repositions us.
		if pos >= p.streamSize {
			p.parkedGen.Store(gen + 1)
			select {
			case p.parkCh <- struct{}{}:
			default:
			}
			select {
			case <-p.resetCh:
				p.parkedGen.Store(0)
				continue
			case <-p.ctx.Done():
				return
			}
		}

		select {
		case p.slots <- struct{}{}:
		case <-p.resetCh:
			continue
		case <-p.ctx.Done():
			return
		}

		if _, g := p.loadReset(); g != gen {
			<-p.slots
			continue
		}

		size := int64(p.opts.BufferSize)
		if remaining := p.streamSize - pos; remaining < size {
			size = remaining
		}
		p.queue <- p.startFetch(pos, int(size), gen)
		pos += size
	}
}

// discard cancels f and returns its buffer to the pool once it finishes.
func (p *ReadAheadPipeline) discard(f *fetch) {
	f.cancel()
	go func() {
		<-f.done
		if f.window != nil {
			p.opts.Pool.Put(f.window.Data)
		}
	}()
}

// drain cancels and discards every queued fetch.
func (p *ReadAheadPipeline) drain() {
	for {
		select {
		case f := <-p.queue:
			p.discard(f)
			<-p.slots
		default:
			return
		}
	}
}

func (p *ReadAheadPipeline) startFetch(pos int64, size int, gen uint64) *fetch {
	ctx, cancel := context.WithCancel(p.ctx)
	f := &fetch{
		pos:    pos,
		size:   size,
		gen:    gen,
		cancel: cancel,
		prev:   p.lastDone,
		done:   make(chan struct{}),
	}
	p.lastDone = f.done
	go p.runFetch(ctx, f)
	return f
}

// runFetch waits for the previous fetch to finish, then performs one accessor
// read, plus exactly one follow-up read when the first returns short.
func (p *ReadAheadPipeline) runFetch(ctx context.Context, f *fetch) {
	defer close(f.done)

	// The previous fetch always finishes: it is either read to completion or
	// cancelled with its context.
	<-f.prev
	if ctx.Err() != nil {
		f.err = ctx.Err()
		return
	}
	p.fetches.Add(1)

	buf := p.opts.Pool.Get(f.size)
	n, err := p.accessor.ReadAt(ctx, f.pos, buf)
	if err == nil && n > 0 && n < f.size {
		var m int
		m, err = p.accessor.ReadAt(ctx, f.pos+int64(n), buf[n:])
		n += m
	}

	switch {
	case ctx.Err() != nil:
		f.err = ctx.Err()
		p.opts.Pool.Put(buf)
		return
	case stderr.Is(err, io.EOF), err == nil && n == 0:
		f.eof = true
	case err != nil:
		p.failedFetches.Add(1)
		p.logger.Warn("read-ahead fetch failed", "position", f.pos, "size", f.size, "error", err)
		f.err = err
		p.opts.Pool.Put(buf)
		return
	}

	p.fetchedBytes.Add(int64(n))
	f.window = &Window{Start: f.pos, Length: n, Data: buf[:n]}
}

// Stats returns a snapshot of pipeline counters.
func (p *ReadAheadPipeline) Stats() types.PipelineStats {
	return types.PipelineStats{
		Fetches:       p.fetches.Load(),
		FetchedBytes:  p.fetchedBytes.Load(),
		Resets:        p.resets.Load(),
		FailedFetches: p.failedFetches.Load(),
	}
}

// Close stops the cycle and discards all queued windows. It is idempotent.
func (p *ReadAheadPipeline) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		<-p.cycleDone
		p.drain()

		p.readMu.Lock()
		if p.current != nil {
			p.opts.Pool.Put(p.current.Data)
			p.current = nil
		}
		p.readMu.Unlock()
	})
	return nil
}

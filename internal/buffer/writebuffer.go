package buffer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

// pendingWrite is one queued window. done is set for windows that borrow the
// caller's buffer; the caller waits on it before returning.
type pendingWrite struct {
	window Window
	done   chan error
}

// WriteCoalescingPipeline accumulates sequential writes into chunks of
// BufferSize bytes and flushes them in order on a single drain goroutine.
type WriteCoalescingPipeline struct {
	accessor types.SequentialAccessor
	opts     Options
	logger   *slog.Logger
	ctx      context.Context

	mu      sync.Mutex
	current *Window
	closed  bool

	queue     chan *pendingWrite
	drained   chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error

	flushes      atomic.Uint64
	flushedBytes atomic.Int64
}

// NewWriteCoalescingPipeline starts the drain goroutine for accessor.
func NewWriteCoalescingPipeline(accessor types.SequentialAccessor, opts Options) *WriteCoalescingPipeline {
	opts = opts.withDefaults()

	p := &WriteCoalescingPipeline{
		accessor: accessor,
		opts:     opts,
		logger:   opts.Logger.With("component", "writebuffer"),
		ctx:      context.Background(),
		queue:    make(chan *pendingWrite, opts.QueueCapacity),
		drained:  make(chan struct{}),
	}

	go p.drain()
	return p
}

// WriteBuffer accepts data destined for pos. It returns once the data is
// queued or buffered; a failure of an earlier flush is reported here.
func (p *WriteCoalescingPipeline) WriteBuffer(pos int64, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, closedError("writebuffer", "write")
	}
	if err := p.failure(); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}

	if p.current != nil && pos != p.current.End() {
		p.pushCurrent()
	}

	if len(data) > p.opts.BufferSize {
		p.pushCurrent()
		done := make(chan error, 1)
		p.queue <- &pendingWrite{
			window: Window{Start: pos, Length: len(data), Data: data},
			done:   done,
		}
		if err := <-done; err != nil {
			return 0, err
		}
		return len(data), nil
	}

	written := 0
	for written < len(data) {
		if p.current == nil {
			buf := p.opts.Pool.Get(p.opts.BufferSize)
			p.current = &Window{Start: pos + int64(written), Data: buf[:0]}
		}
		room := p.opts.BufferSize - p.current.Length
		chunk := data[written:]
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		p.current.Data = append(p.current.Data, chunk...)
		p.current.Length = len(p.current.Data)
		written += len(chunk)

		if p.current.Length == p.opts.BufferSize {
			p.pushCurrent()
		}
	}

	return written, nil
}

// pushCurrent queues the current chunk. Blocks while the queue is saturated.
func (p *WriteCoalescingPipeline) pushCurrent() {
	if p.current == nil {
		return
	}
	p.queue <- &pendingWrite{window: *p.current}
	p.current = nil
}

func (p *WriteCoalescingPipeline) drain() {
	defer close(p.drained)

	for pw := range p.queue {
		if pw.window.isSentinel() {
			return
		}

		err := p.failure()
		if err == nil {
			err = p.flush(pw.window)
			if err != nil {
				p.logger.Error("flush failed", "position", pw.window.Start, "length", pw.window.Length, "error", err)
				p.setFailure(err)
			}
		}

		if pw.done != nil {
			pw.done <- err
		} else {
			p.opts.Pool.Put(pw.window.Data)
		}
	}
}

func (p *WriteCoalescingPipeline) flush(w Window) error {
	data := w.Data[:w.Length]
	pos := w.Start
	for len(data) > 0 {
		n, err := p.accessor.WriteAt(p.ctx, pos, data)
		if err != nil {
			return errors.Wrap(err, "remote write failed")
		}
		if n <= 0 {
			return errors.NewError(errors.ErrCodeIO, "remote write failed").
				WithComponent("writebuffer").WithCause(io.ErrShortWrite)
		}
		data = data[n:]
		pos += int64(n)
	}

	p.flushes.Add(1)
	p.flushedBytes.Add(int64(w.Length))
	return nil
}

func (p *WriteCoalescingPipeline) failure() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *WriteCoalescingPipeline) setFailure(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// Stats returns a snapshot of pipeline counters.
func (p *WriteCoalescingPipeline) Stats() types.PipelineStats {
	return types.PipelineStats{
		Flushes:      p.flushes.Load(),
		FlushedBytes: p.flushedBytes.Load(),
	}
}

// Close flushes the current chunk and blocks until every queued window has
// been written. It returns the first flush failure, if any, and is idempotent.
func (p *WriteCoalescingPipeline) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.pushCurrent()
		p.queue <- &pendingWrite{window: Window{Start: endOfData}}
		p.mu.Unlock()

		<-p.drained
	})
	return p.failure()
}

package filesystem

import (
	"context"
	stderr "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sharefs/sharefs/internal/buffer"
	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

// Options configures a ProxyFile.
type Options struct {
	Path string
	Mode types.AccessMode

	// Size reports the remote size on the first GetSize call.
	Size SizeFunc
	// Open opens a fresh sequential stream each time the file switches
	// between reading and writing.
	Open AccessorOpener
	// OnRelease runs exactly once, after the stream is closed.
	OnRelease func()

	Stream  buffer.Options
	Logger  *slog.Logger
	Metrics types.MetricsCollector
}

// ProxyFile adapts a sequential remote stream to random-access callbacks. It
// owns at most one pipeline at a time: a read-ahead pipeline while reading or
// a write-coalescing pipeline while writing.
type ProxyFile struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	accessor types.SequentialAccessor
	reader   *buffer.ReadAheadPipeline
	writer   *buffer.WriteCoalescingPipeline

	size      int64
	sizeKnown bool

	totals      types.PipelineStats
	releaseOnce sync.Once
	releaseErr  error
}

var _ RandomAccessFile = (*ProxyFile)(nil)

// NewProxyFile returns an unopened ProxyFile. No remote stream is opened
// until the first read or write.
func NewProxyFile(opts Options) *ProxyFile {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Stream.Logger == nil {
		opts.Stream.Logger = opts.Logger
	}
	if opts.Stream.Metrics == nil {
		opts.Stream.Metrics = opts.Metrics
	}
	return &ProxyFile{
		opts:   opts,
		logger: opts.Logger.With("component", "proxyfile", "path", opts.Path, "mode", opts.Mode.String()),
	}
}

// Path returns the remote path of the file.
func (f *ProxyFile) Path() string { return f.opts.Path }

// Mode returns the access mode the file was opened with.
func (f *ProxyFile) Mode() types.AccessMode { return f.opts.Mode }

// State returns the current lifecycle state.
func (f *ProxyFile) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// GetSize returns the file size.
func (f *ProxyFile) GetSize(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateReleased {
		return 0, f.releasedError("getsize")
	}
	return f.sizeLocked(ctx)
}

func (f *ProxyFile) sizeLocked(ctx context.Context) (int64, error) {
	if f.sizeKnown {
		return f.size, nil
	}
	if f.opts.Size == nil {
		return 0, errors.NewError(errors.ErrCodeIO, "size unavailable").
			WithComponent("proxyfile").WithOperation("getsize")
	}

	size, err := f.opts.Size(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "size unavailable")
	}
	f.size = size
	f.sizeKnown = true
	return size, nil
}

// Read fills dest from offset.
func (f *ProxyFile) Read(ctx context.Context, dest []byte, offset int64) (int, error) {
	start := time.Now()

	reader, err := f.readerPipeline(ctx)
	if err != nil {
		f.record("read", start, 0, err)
		return 0, err
	}

	n, err := reader.ReadBuffer(ctx, offset, dest)
	f.record("read", start, n, err)
	return n, err
}

// readerPipeline returns the active read-ahead pipeline, switching out of
// writer mode first when needed.
func (f *ProxyFile) readerPipeline(ctx context.Context) (*buffer.ReadAheadPipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StateReleased:
		return nil, f.releasedError("read")
	case StateReaderActive:
		return f.reader, nil
	}
	if !f.opts.Mode.CanRead() {
		return nil, errors.NewError(errors.ErrCodePermissionDenied, "file not open for reading").
			WithComponent("proxyfile").WithOperation("read")
	}

	if f.state == StateWriterActive {
		f.logger.Debug("switching from writer to reader")
		if err := f.closeStreamLocked(); err != nil {
			return nil, err
		}
	}

	size, err := f.sizeLocked(ctx)
	if err != nil {
		return nil, err
	}
	accessor, err := f.opts.Open(ctx, types.ModeRead)
	if err != nil {
		return nil, errors.Wrap(err, "open read stream")
	}

	f.accessor = accessor
	f.reader = buffer.NewReadAheadPipeline(accessor, size, f.opts.Stream)
	f.state = StateReaderActive
	return f.reader, nil
}

// Write stores data at offset.
func (f *ProxyFile) Write(ctx context.Context, data []byte, offset int64) (int, error) {
	start := time.Now()

	if !f.opts.Mode.CanWrite() {
		err := errors.NewError(errors.ErrCodePermissionDenied, "file opened read-only").
			WithComponent("proxyfile").WithOperation("write")
		f.record("write", start, 0, err)
		return 0, err
	}

	writer, err := f.writerPipeline(ctx)
	if err != nil {
		f.record("write", start, 0, err)
		return 0, err
	}

	n, err := writer.WriteBuffer(offset, data)
	if n > 0 {
		f.mu.Lock()
		if end := offset + int64(n); end > f.size {
			f.size = end
		}
		f.mu.Unlock()
	}
	f.record("write", start, n, err)
	return n, err
}

func (f *ProxyFile) writerPipeline(ctx context.Context) (*buffer.WriteCoalescingPipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StateReleased:
		return nil, f.releasedError("write")
	case StateWriterActive:
		return f.writer, nil
	case StateReaderActive:
		f.logger.Debug("switching from reader to writer")
		if err := f.closeStreamLocked(); err != nil {
			return nil, err
		}
	}

	// Writes extend the size from here on, so it has to be known first.
	if _, err := f.sizeLocked(ctx); err != nil {
		return nil, err
	}
	accessor, err := f.opts.Open(ctx, types.ModeWrite)
	if err != nil {
		return nil, errors.Wrap(err, "open write stream")
	}

	f.accessor = accessor
	f.writer = buffer.NewWriteCoalescingPipeline(accessor, f.opts.Stream)
	f.state = StateWriterActive
	return f.writer, nil
}

// Fsync always succeeds.
func (f *ProxyFile) Fsync(context.Context) error {
	return nil
}

// Release closes the active pipeline and stream, then runs the release
// callback. Only the first call does any work; later calls return the same
// result.
func (f *ProxyFile) Release() error {
	f.releaseOnce.Do(func() {
		f.mu.Lock()
		err := f.closeStreamLocked()
		f.state = StateReleased
		f.mu.Unlock()

		if err != nil {
			f.logger.Error("final flush failed", "error", err)
			if f.opts.Metrics != nil {
				f.opts.Metrics.RecordError("release", err)
			}
		}
		f.releaseErr = err

		if f.opts.OnRelease != nil {
			f.opts.OnRelease()
		}
	})
	return f.releaseErr
}

// closeStreamLocked tears down the active pipeline and its accessor and
// returns to the unopened state. A failure of the write drain or of the
// accessor close means data was lost and is returned; anything else is only
// logged.
func (f *ProxyFile) closeStreamLocked() error {
	var errs []error

	if f.reader != nil {
		f.addTotals(f.reader.Stats())
		if err := f.reader.Close(); err != nil {
			f.logger.Warn("closing read-ahead pipeline", "error", err)
		}
		f.reader = nil
	}
	if f.writer != nil {
		if err := f.writer.Close(); err != nil {
			errs = append(errs, err)
		}
		f.addTotals(f.writer.Stats())
		f.writer = nil
	}
	if f.accessor != nil {
		wasWriting := f.state == StateWriterActive
		if err := f.accessor.Close(); err != nil {
			if wasWriting {
				errs = append(errs, errors.Wrap(err, "commit write stream"))
			} else {
				f.logger.Warn("closing read stream", "error", err)
			}
		}
		f.accessor = nil
	}

	if f.state != StateReleased {
		f.state = StateUnopened
	}
	return stderr.Join(errs...)
}

func (f *ProxyFile) addTotals(s types.PipelineStats) {
	f.totals.Fetches += s.Fetches
	f.totals.FetchedBytes += s.FetchedBytes
	f.totals.Resets += s.Resets
	f.totals.Flushes += s.Flushes
	f.totals.FlushedBytes += s.FlushedBytes
	f.totals.FailedFetches += s.FailedFetches
}

// Stats returns pipeline counters accumulated over the file's lifetime.
func (f *ProxyFile) Stats() types.PipelineStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := f.totals
	var live types.PipelineStats
	switch {
	case f.reader != nil:
		live = f.reader.Stats()
	case f.writer != nil:
		live = f.writer.Stats()
	}
	total.Fetches += live.Fetches
	total.FetchedBytes += live.FetchedBytes
	total.Resets += live.Resets
	total.Flushes += live.Flushes
	total.FlushedBytes += live.FlushedBytes
	total.FailedFetches += live.FailedFetches
	return total
}

func (f *ProxyFile) releasedError(op string) error {
	return errors.NewError(errors.ErrCodeInvalidState, "file released").
		WithComponent("proxyfile").WithOperation(op)
}

func (f *ProxyFile) record(op string, start time.Time, n int, err error) {
	m := f.opts.Metrics
	if m == nil {
		return
	}
	m.RecordOperation(op, time.Since(start), int64(n), err == nil)
	if n > 0 {
		m.RecordBytes(op, int64(n))
	}
	if err != nil {
		m.RecordError(op, err)
	}
}

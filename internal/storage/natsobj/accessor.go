package natsobj

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

// objectReader reads an object through one open result, reopening it when a
// read goes backwards.
type objectReader struct {
	store     nats.ObjectStore
	name      string
	size      int64
	connector *Connector

	mu      sync.Mutex
	rd      nats.ObjectResult
	pos     int64
	reopens int
}

func newObjectReader(store nats.ObjectStore, obj *Object, c *Connector) *objectReader {
	return &objectReader{store: store, name: obj.name, size: obj.info.Size, connector: c}
}

func (r *objectReader) ReadAt(ctx context.Context, pos int64, buf []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pos >= r.size {
		return 0, io.EOF
	}
	if len(buf) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	start := time.Now()
	if err := r.seek(pos); err != nil {
		r.connector.record("get", start, err)
		return 0, translateError(err, "Get", r.name)
	}

	n, err := io.ReadFull(r.rd, buf)
	r.pos += int64(n)
	switch err {
	case nil, io.ErrUnexpectedEOF:
		r.connector.record("get", start, nil)
		return n, nil
	case io.EOF:
		return 0, io.EOF
	default:
		r.closeReader()
		r.connector.record("get", start, err)
		return n, translateError(err, "Get", r.name)
	}
}

// seek positions the open result at pos, reopening it when needed.
func (r *objectReader) seek(pos int64) error {
	if r.rd == nil || pos < r.pos {
		r.closeReader()
		rd, err := r.store.Get(r.name)
		if err != nil {
			return err
		}
		r.rd = rd
		r.pos = 0
		r.reopens++
	}
	if pos > r.pos {
		skipped, err := io.CopyN(io.Discard, r.rd, pos-r.pos)
		r.pos += skipped
		if err != nil {
			r.closeReader()
			return err
		}
	}
	return nil
}

func (r *objectReader) closeReader() {
	if r.rd != nil {
		r.rd.Close()
		r.rd = nil
	}
}

func (r *objectReader) WriteAt(context.Context, int64, []byte) (int, error) {
	return 0, errors.NewError(errors.ErrCodePermissionDenied, "stream opened for reading").
		WithComponent("nats").WithOperation("write")
}

func (r *objectReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeReader()
	return nil
}

// objectWriter streams contiguous writes into ObjectStore.Put. Bytes of the
// existing object outside the written range are copied so that the new
// object replaces the old one without losing data.
type objectWriter struct {
	store     nats.ObjectStore
	name      string
	obj       *Object
	existing  int64
	exists    bool
	connector *Connector

	mu      sync.Mutex
	started bool
	next    int64
	pw      *io.PipeWriter
	done    chan error
	closed  bool
	err     error
}

func newObjectWriter(store nats.ObjectStore, obj *Object, c *Connector) *objectWriter {
	return &objectWriter{
		store:     store,
		name:      obj.name,
		obj:       obj,
		existing:  obj.info.Size,
		exists:    obj.info.Exists,
		connector: c,
	}
}

func (w *objectWriter) ReadAt(context.Context, int64, []byte) (int, error) {
	return 0, errors.NewError(errors.ErrCodePermissionDenied, "stream opened for writing").
		WithComponent("nats").WithOperation("read")
}

func (w *objectWriter) WriteAt(_ context.Context, pos int64, buf []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.NewError(errors.ErrCodeInvalidState, "stream closed").
			WithComponent("nats").WithOperation("write")
	}
	if w.err != nil {
		return 0, w.err
	}

	if !w.started {
		if pos > w.existing {
			return 0, w.nonSequential(pos)
		}
		w.start()
		if pos > 0 {
			if err := w.copyExisting(0, pos); err != nil {
				return 0, w.fail(err)
			}
		}
	}
	if pos != w.next {
		return 0, w.nonSequential(pos)
	}

	n, err := w.pw.Write(buf)
	w.next += int64(n)
	if err != nil {
		return n, w.fail(err)
	}
	return n, nil
}

func (w *objectWriter) start() {
	pr, pw := io.Pipe()
	w.started = true
	w.pw = pw
	w.done = make(chan error, 1)

	go func() {
		start := time.Now()
		_, err := w.store.Put(&nats.ObjectMeta{Name: w.name}, pr)
		if err != nil {
			pr.CloseWithError(err)
		}
		w.connector.record("put", start, err)
		w.done <- err
	}()
}

// copyExisting streams bytes [from, to) of the current object into the pipe.
func (w *objectWriter) copyExisting(from, to int64) error {
	rd, err := w.store.Get(w.name)
	if err != nil {
		return translateError(err, "Get", w.name)
	}
	defer rd.Close()

	if _, err := io.CopyN(io.Discard, rd, from); err != nil {
		return err
	}
	n, err := io.CopyN(w.pw, rd, to-from)
	w.next += n
	return err
}

func (w *objectWriter) nonSequential(pos int64) error {
	return errors.NewError(errors.ErrCodeIO, "non-sequential write").
		WithComponent("nats").
		WithOperation("write").
		WithContext("expected", fmt.Sprint(w.next)).
		WithContext("position", fmt.Sprint(pos))
}

func (w *objectWriter) fail(err error) error {
	w.err = errors.Wrap(err, "upload failed")
	w.pw.CloseWithError(err)
	return w.err
}

// Close commits the object.
func (w *objectWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return w.err
	}
	w.closed = true

	if !w.started {
		if w.exists {
			return nil
		}
		w.start()
	}

	if w.err == nil && w.next < w.existing {
		if err := w.copyExisting(w.next, w.existing); err != nil {
			w.fail(err)
		}
	}
	if w.err != nil {
		<-w.done
		return w.err
	}

	w.pw.Close()
	if err := <-w.done; err != nil {
		w.err = translateError(err, "Put", w.name)
		return w.err
	}

	w.obj.info.Size = w.next
	w.obj.info.Exists = true
	w.obj.info.ModTime = time.Now()
	return nil
}

var _ types.SequentialAccessor = (*objectReader)(nil)
var _ types.SequentialAccessor = (*objectWriter)(nil)

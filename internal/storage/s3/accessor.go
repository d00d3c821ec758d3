package s3

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sharefs/sharefs/pkg/errors"
	"github.com/sharefs/sharefs/pkg/types"
)

// objectReader serves sequential reads with ranged GETs.
type objectReader struct {
	api       API
	bucket    string
	key       string
	size      int64
	connector *Connector
}

func (r *objectReader) ReadAt(ctx context.Context, pos int64, buf []byte) (int, error) {
	if pos >= r.size {
		return 0, io.EOF
	}
	if len(buf) == 0 {
		return 0, nil
	}

	start := time.Now()
	body, err := getRange(ctx, r.api, r.bucket, r.key, pos, int64(len(buf)))
	if err != nil {
		r.connector.record("get_object", start, 0, err)
		if isInvalidRange(err) {
			return 0, io.EOF
		}
		return 0, translateError(err, "GetObject", r.key)
	}
	defer body.Close()

	n, err := io.ReadFull(body, buf)
	r.connector.record("get_object", start, int64(n), nil)
	switch err {
	case nil, io.ErrUnexpectedEOF:
		return n, nil
	case io.EOF:
		return 0, io.EOF
	default:
		return n, translateError(err, "GetObject", r.key)
	}
}

func (r *objectReader) WriteAt(context.Context, int64, []byte) (int, error) {
	return 0, errors.NewError(errors.ErrCodePermissionDenied, "stream opened for reading").
		WithComponent("s3").WithOperation("write")
}

func (r *objectReader) Close() error { return nil }

func getRange(ctx context.Context, api API, bucket, key string, pos, length int64) (io.ReadCloser, error) {
	out, err := api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", pos, pos+length-1)),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// objectWriter streams contiguous writes into a single upload through a
// pipe. Objects cannot be patched in place, so the bytes of the existing
// object before the first write and after the last one are copied into the
// new upload.
type objectWriter struct {
	api       API
	uploader  uploader
	bucket    string
	key       string
	obj       *Object
	existing  int64
	exists    bool
	connector *Connector

	mu      sync.Mutex
	started bool
	next    int64
	pw      *io.PipeWriter
	done    chan error
	cancel  context.CancelFunc
	closed  bool
	err     error
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

func newObjectWriter(api API, up uploader, bucket string, obj *Object, c *Connector) *objectWriter {
	return &objectWriter{
		api:       api,
		uploader:  up,
		bucket:    bucket,
		key:       obj.key,
		obj:       obj,
		existing:  obj.info.Size,
		exists:    obj.info.Exists,
		connector: c,
	}
}

func (w *objectWriter) ReadAt(context.Context, int64, []byte) (int, error) {
	return 0, errors.NewError(errors.ErrCodePermissionDenied, "stream opened for writing").
		WithComponent("s3").WithOperation("read")
}

func (w *objectWriter) WriteAt(ctx context.Context, pos int64, buf []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.NewError(errors.ErrCodeInvalidState, "stream closed").
			WithComponent("s3").WithOperation("write")
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
			if err := w.copyExisting(ctx, 0, pos); err != nil {
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

// start launches the upload consuming the pipe.
func (w *objectWriter) start() {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	w.started = true
	w.pw = pw
	w.cancel = cancel
	w.done = make(chan error, 1)

	go func() {
		startTime := time.Now()
		_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(w.bucket),
			Key:    aws.String(w.key),
			Body:   pr,
		})
		if err != nil {
			pr.CloseWithError(err)
		}
		w.connector.record("upload", startTime, 0, err)
		w.done <- err
	}()
}

func (w *objectWriter) copyExisting(ctx context.Context, from, to int64) error {
	body, err := getRange(ctx, w.api, w.bucket, w.key, from, to-from)
	if err != nil {
		return translateError(err, "GetObject", w.key)
	}
	defer body.Close()

	n, err := io.Copy(w.pw, body)
	w.next += n
	if err != nil {
		return err
	}
	if n != to-from {
		return fmt.Errorf("copied %d of %d existing bytes: %w", n, to-from, io.ErrUnexpectedEOF)
	}
	return nil
}

func (w *objectWriter) nonSequential(pos int64) error {
	return errors.NewError(errors.ErrCodeIO, "non-sequential write").
		WithComponent("s3").
		WithOperation("write").
		WithContext("expected", fmt.Sprint(w.next)).
		WithContext("position", fmt.Sprint(pos))
}

// fail aborts the upload and remembers err for later calls.
func (w *objectWriter) fail(err error) error {
	w.err = errors.Wrap(err, "upload failed")
	w.pw.CloseWithError(err)
	return w.err
}

// Close copies the untouched tail of the existing object and completes the
// upload. A file opened for writing but never written is created empty if it
// did not exist.
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
		if err := w.copyExisting(context.Background(), w.next, w.existing); err != nil {
			w.fail(err)
		}
	}

	if w.err != nil {
		<-w.done
		w.cancel()
		return w.err
	}

	w.pw.Close()
	err := <-w.done
	w.cancel()
	if err != nil {
		w.err = translateError(err, "Upload", w.key)
		return w.err
	}
	w.commit()
	return nil
}

// commit points the handle at the uploaded object so a stream reopened on it
// sees the new content.
func (w *objectWriter) commit() {
	w.obj.info.Size = w.next
	w.obj.info.Exists = true
	w.obj.info.ModTime = time.Now()
}

var _ types.SequentialAccessor = (*objectReader)(nil)
var _ types.SequentialAccessor = (*objectWriter)(nil)

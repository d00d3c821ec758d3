package types

import (
	"context"
	"io"
	"time"
)

// SequentialAccessor is the read-at/write-at capability a protocol client
// provides for one open remote file. Implementations are slow but reliable and
// may be called from background goroutines. Cancelling ctx is advisory.
type SequentialAccessor interface {
	// ReadAt reads up to len(buf) bytes starting at the absolute position pos.
	// It returns the number of bytes read; a short read is not an error.
	ReadAt(ctx context.Context, pos int64, buf []byte) (int, error)

	// WriteAt writes buf at the absolute position pos.
	WriteAt(ctx context.Context, pos int64, buf []byte) (int, error)

	// Close releases the stream. For written files it commits the data.
	Close() error
}

// Session is an authenticated connection to a remote host.
type Session interface {
	io.Closer
	Identity() ConnectionIdentity
}

// Share is an opened share, bucket or object store on a session.
type Share interface {
	io.Closer
	Name() string
}

// FileHandle is a resolved remote file.
type FileHandle interface {
	io.Closer
	Info() FileInfo
}

// Connector adapts one protocol client library to sharefs. Every value it
// returns is owned by the resource caches once inserted.
type Connector interface {
	Protocol() Protocol

	// Dial establishes a session for the profile.
	Dial(ctx context.Context, profile *Profile) (Session, error)

	// OpenShare opens the named share on an established session.
	OpenShare(ctx context.Context, session Session, name string) (Share, error)

	// Resolve looks up path on the share. With a write mode, a missing file
	// resolves to an empty handle instead of a not-found error.
	Resolve(ctx context.Context, share Share, path string, mode AccessMode) (FileHandle, error)

	// OpenAccessor opens a sequential stream on a resolved handle.
	OpenAccessor(ctx context.Context, share Share, handle FileHandle, mode AccessMode) (SequentialAccessor, error)
}

// MetricsCollector defines the metrics collection interface
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordBytes(direction string, n int64)
	RecordPipelineReset()
	RecordCacheEviction(cache string)
	SetOpenFiles(n int)
	RecordError(operation string, err error)
}

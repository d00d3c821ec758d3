// Package filesystem implements the random-access file surface that host
// integrations (FUSE) call for every open remote file.
package filesystem

import (
	"context"

	"github.com/sharefs/sharefs/pkg/types"
)

// RandomAccessFile is the per-open-file callback surface exposed to a host
// virtual filesystem layer.
type RandomAccessFile interface {
	// GetSize returns the file size. It is fetched once and then tracked
	// locally as writes extend the file.
	GetSize(ctx context.Context) (int64, error)

	// Read fills dest from offset and returns 0 at or after end of file.
	Read(ctx context.Context, dest []byte, offset int64) (int, error)

	// Write stores data at offset. Files opened read-only reject writes
	// with a permission error.
	Write(ctx context.Context, data []byte, offset int64) (int, error)

	// Fsync always succeeds; durability comes from the remote close.
	Fsync(ctx context.Context) error

	// Release tears down pipelines and the remote stream. It is safe to call
	// more than once and after earlier failures.
	Release() error
}

// AccessorOpener opens a fresh sequential stream on the remote file for mode.
type AccessorOpener func(ctx context.Context, mode types.AccessMode) (types.SequentialAccessor, error)

// SizeFunc reports the remote file size.
type SizeFunc func(ctx context.Context) (int64, error)

// State is the lifecycle state of a ProxyFile.
type State int

const (
	StateUnopened State = iota
	StateReaderActive
	StateWriterActive
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateReaderActive:
		return "reader"
	case StateWriterActive:
		return "writer"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

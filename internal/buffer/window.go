package buffer

import "github.com/sharefs/sharefs/pkg/errors"

// Window is a contiguous byte range fetched from, or destined for, a remote
// stream.
type Window struct {
	Start  int64
	Length int
	Data   []byte
}

// endOfData marks the sentinel window that stops a write drain worker.
const endOfData int64 = -1

// End returns the position immediately after the window.
func (w *Window) End() int64 {
	return w.Start + int64(w.Length)
}

// Covers reports whether a read at p can be served by this window. The upper
// bound is inclusive: a read at End is satisfied with zero bytes and moves on
// to the next window.
func (w *Window) Covers(p int64) bool {
	return w.Start <= p && p <= w.End()
}

func (w *Window) isSentinel() bool {
	return w.Start == endOfData
}

func closedError(component, op string) error {
	return errors.NewError(errors.ErrCodeInvalidState, "pipeline closed").
		WithComponent(component).WithOperation(op)
}

package wrappers

import (
	"errors"
	"io"
	"sync/atomic"
)

var ErrClosed = errors.New("closed")

// ReaderWrapper can be closed without closing what it wraps, so the repl
// can shut down without taking stdin with it.
type ReaderWrapper struct {
	closed  atomic.Bool
	wrapped io.Reader
}

func NewReaderWrapper(wraps io.Reader) *ReaderWrapper {
	return &ReaderWrapper{wrapped: wraps}
}

// Close implements repl.ReadCloser.
func (r *ReaderWrapper) Close() error {
	r.closed.Store(true)
	return nil
}

// Read implements repl.ReadCloser.
func (r *ReaderWrapper) Read(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	return r.wrapped.Read(p)
}

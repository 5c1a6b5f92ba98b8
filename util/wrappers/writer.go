package wrappers

import (
	"io"
	"sync"
)

// WriterWrapper serializes writes from the repl and the commands it started,
// and stops writing once closed without closing what it wraps.
type WriterWrapper struct {
	mu      sync.Mutex
	closed  bool
	wrapped io.Writer
}

func NewWriterWrapper(wraps io.Writer) *WriterWrapper {
	return &WriterWrapper{wrapped: wraps}
}

func (w *WriterWrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *WriterWrapper) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	return w.wrapped.Write(p)
}

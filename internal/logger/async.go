package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// queued pairs a record with the derived handler that must write it, so
// attrs added through WithAttrs and WithGroup survive the hand-off.
type queued struct {
	handler slog.Handler
	rec     slog.Record
}

// asyncState is shared by an AsyncHandler and every handler derived from it.
type asyncState struct {
	ch      chan queued
	wg      sync.WaitGroup
	dropped atomic.Int64
	onDrop  atomic.Pointer[func()]
}

// AsyncHandler wraps an slog.Handler with a buffered channel and worker pool
// so that request paths never block on log I/O.
type AsyncHandler struct {
	inner slog.Handler
	state *asyncState
}

// NewAsyncHandler creates an AsyncHandler with the given channel capacity and worker count.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	st := &asyncState{ch: make(chan queued, chanSize)}
	for range workers {
		st.wg.Add(1)
		go func() {
			defer st.wg.Done()
			for q := range st.ch {
				_ = q.handler.Handle(context.Background(), q.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, state: st}
}

// OnDrop registers fn to be called for every record dropped on a full buffer.
func (h *AsyncHandler) OnDrop(fn func()) {
	h.state.onDrop.Store(&fn)
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Drops if the channel is full. Context-derived
// attributes must already be on rec since workers run without the caller's context.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.state.ch <- queued{handler: h.inner, rec: rec}:
	default:
		h.state.dropped.Add(1)
		if fn := h.state.onDrop.Load(); fn != nil {
			(*fn)()
		}
	}
	return nil
}

// WithAttrs returns a handler sharing the same buffer but wrapping a new inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), state: h.state}
}

// WithGroup returns a handler sharing the same buffer but wrapping a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), state: h.state}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.state.dropped.Load()
}

// Close closes the channel and waits for all workers to drain.
func (h *AsyncHandler) Close() {
	close(h.state.ch)
	h.state.wg.Wait()
}

package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultChannelCapacity is the default buffer size for async writes.
const DefaultChannelCapacity = 100

// AsyncWriter hands values to a handler on a background goroutine so hot
// paths never wait on SQLite. Handler errors are logged, not returned.
type AsyncWriter[T any] struct {
	writeChan chan T
	handler   func(context.Context, T) error
	logger    *zap.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewAsyncWriter creates a writer with the given buffer capacity
// (<= 0 means DefaultChannelCapacity).
func NewAsyncWriter[T any](capacity int, handler func(context.Context, T) error, logger *zap.Logger) *AsyncWriter[T] {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncWriter[T]{
		writeChan: make(chan T, capacity),
		handler:   handler,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background goroutine. Calling it twice is a no-op.
func (w *AsyncWriter[T]) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.processWrites()
}

func (w *AsyncWriter[T]) processWrites() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case v := <-w.writeChan:
			w.handle(v)
		}
	}
}

func (w *AsyncWriter[T]) drain() {
	for {
		select {
		case v := <-w.writeChan:
			w.handle(v)
		default:
			return
		}
	}
}

func (w *AsyncWriter[T]) handle(v T) {
	// The writer's own context is already cancelled while draining.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.handler(ctx, v); err != nil {
		w.logger.Warn("async write failed", zap.Error(err))
	}
}

// Write queues v without blocking. It returns false when the buffer is full
// or the writer is stopped.
func (w *AsyncWriter[T]) Write(v T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}

	select {
	case w.writeChan <- v:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued values.
func (w *AsyncWriter[T]) Pending() int {
	return len(w.writeChan)
}

// Stop drains queued values and waits for the goroutine, up to ctx's
// deadline. Later writes are rejected.
func (w *AsyncWriter[T]) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package shutdown coordinates graceful shutdown: it tracks in-flight jobs,
// runs cleanup hooks in priority order and reacts to SIGINT/SIGTERM.
package shutdown

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTrackerClosed is returned when an operation starts after shutdown began.
var ErrTrackerClosed = errors.New("operation tracker is closed")

// ErrWaitTimeout is returned when in-flight operations outlive the wait budget.
var ErrWaitTimeout = errors.New("wait timeout: operations did not complete in time")

// OperationTracker counts named in-flight operations so shutdown can wait for
// them. Once closed, no new operation is admitted.
type OperationTracker struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	nextID uint64
	active map[uint64]string
	closed bool
}

// NewOperationTracker returns an open tracker.
func NewOperationTracker() *OperationTracker {
	return &OperationTracker{active: make(map[uint64]string)}
}

// Begin admits an operation. The returned done func must be called exactly
// once when the operation finishes; ok is false after Close.
func (t *OperationTracker) Begin(name string) (done func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, false
	}
	t.nextID++
	id := t.nextID
	t.active[id] = name
	t.wg.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.active, id)
			t.mu.Unlock()
			t.wg.Done()
		})
	}, true
}

// Wait blocks until every admitted operation has finished or timeout elapses.
func (t *OperationTracker) Wait(timeout time.Duration) error {
	finished := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}

// Close stops admitting operations. Already running ones are unaffected.
func (t *OperationTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// ActiveCount returns the number of running operations.
func (t *OperationTracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// ActiveNames returns the sorted names of running operations.
func (t *OperationTracker) ActiveNames() []string {
	t.mu.Lock()
	names := make([]string, 0, len(t.active))
	for _, name := range t.active {
		names = append(names, name)
	}
	t.mu.Unlock()
	sort.Strings(names)
	return names
}

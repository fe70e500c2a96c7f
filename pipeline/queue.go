package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"insightpdf/tasks"
)

// Queue defaults.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 64
)

var (
	// ErrQueueFull is returned when the job buffer has no room.
	ErrQueueFull = errors.New("job queue is full")
	// ErrQueueClosed is returned once the queue has been stopped.
	ErrQueueClosed = errors.New("job queue is closed")
	// ErrTaskBusy is returned when the task is already queued or running.
	ErrTaskBusy = errors.New("task is already queued or running")
)

// Job asks a worker to run one task.
type Job struct {
	Kind      tasks.Kind
	TaskID    string
	BatchSize int // analysis only; <= 0 uses the task's batch size

	queuedAt time.Time
}

func (j Job) String() string {
	return string(j.Kind) + ":" + j.TaskID
}

// OperationRunner runs fn as a tracked operation. *shutdown.Manager
// satisfies it.
type OperationRunner interface {
	WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error
}

type directRunner struct{}

func (directRunner) WrapOperation(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

// QueueConfig sizes the worker pool.
type QueueConfig struct {
	Workers int
	Size    int
}

// Queue is a bounded in-process job queue drained by a fixed worker pool.
// A task is held by at most one job at a time.
type Queue struct {
	orch    *Orchestrator
	runner  OperationRunner
	workers int
	logger  *zap.Logger

	jobs chan Job
	wg   sync.WaitGroup

	// ctx is handed to running jobs; Stop cancels it when draining times out.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
	held    map[string]bool // task id -> running (false while only queued)
}

// NewQueue returns a stopped queue. runner may be nil.
func NewQueue(orch *Orchestrator, runner OperationRunner, cfg QueueConfig, logger *zap.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultQueueSize
	}
	if runner == nil {
		runner = directRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		orch:    orch,
		runner:  runner,
		workers: cfg.Workers,
		logger:  logger.Named("queue"),
		jobs:    make(chan Job, cfg.Size),
		ctx:     ctx,
		cancel:  cancel,
		held:    make(map[string]bool),
	}
}

// Start launches the workers. Later calls do nothing.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("workers started",
		zap.Int("workers", q.workers),
		zap.Int("queue_size", cap(q.jobs)),
	)
}

// Enqueue adds a job without blocking.
func (q *Queue) Enqueue(job Job) error {
	if !job.Kind.Valid() || job.TaskID == "" {
		return fmt.Errorf("invalid job %q", job.String())
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, busy := q.held[job.TaskID]; busy {
		return fmt.Errorf("%w: %s", ErrTaskBusy, job.TaskID)
	}
	job.queuedAt = time.Now()
	select {
	case q.jobs <- job:
		q.held[job.TaskID] = false
		q.logger.Debug("job queued", zap.Stringer("job", job), zap.Int("queued", len(q.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Busy reports whether the task is queued or running.
func (q *Queue) Busy(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.held[taskID]
	return ok
}

// Stats returns the number of queued and running jobs.
func (q *Queue) Stats() (queued, running int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.held {
		if r {
			running++
		} else {
			queued++
		}
	}
	return queued, running
}

func (q *Queue) worker(n int) {
	defer q.wg.Done()
	log := q.logger.With(zap.Int("worker", n))

	for job := range q.jobs {
		q.mu.Lock()
		q.held[job.TaskID] = true
		q.mu.Unlock()

		q.run(log, job)

		q.mu.Lock()
		delete(q.held, job.TaskID)
		q.mu.Unlock()
	}
}

func (q *Queue) run(log *zap.Logger, job Job) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		log.Warn("job dropped, queue stopping", zap.Stringer("job", job))
		return
	}

	if q.cancelledWhileQueued(job) {
		log.Info("job skipped, task cancelled while queued", zap.Stringer("job", job))
		return
	}

	var followUp string
	err := q.runner.WrapOperation(q.ctx, job.String(), func(ctx context.Context) error {
		switch job.Kind {
		case tasks.KindUpload:
			res := q.orch.ProcessUpload(ctx, job.TaskID)
			followUp = res.AnalysisTaskID
			return res.Error
		case tasks.KindAnalysis:
			return q.orch.Execute(ctx, job.TaskID, job.BatchSize).Error
		}
		return nil
	})
	if err != nil {
		log.Warn("job finished with error", zap.Stringer("job", job), zap.Error(err))
	}

	if followUp != "" {
		next := Job{Kind: tasks.KindAnalysis, TaskID: followUp}
		if err := q.Enqueue(next); err != nil {
			log.Warn("could not queue follow-up analysis",
				zap.String("analysis_task_id", followUp),
				zap.Error(err),
			)
		}
	}
}

// cancelledWhileQueued reports whether the task was cancelled after the job
// was queued. A task cancelled earlier and then queued again still runs.
func (q *Queue) cancelledWhileQueued(job Job) bool {
	t, err := q.orch.Store().Get(job.TaskID)
	if err != nil {
		return false
	}
	return t.Status == tasks.StatusCancelled && !t.UpdatedAt.Before(job.queuedAt)
}

// Resume queues work interrupted by a previous process: every task still
// processing, plus uploads that were accepted but never started. It returns
// the number of jobs queued.
func (q *Queue) Resume() int {
	store := q.orch.Store()
	candidates := store.ListByStatus(tasks.StatusProcessing)
	for _, t := range store.ListByStatus(tasks.StatusPending) {
		if t.Kind == tasks.KindUpload {
			candidates = append(candidates, t)
		}
	}

	queued := 0
	for _, t := range candidates {
		job := Job{Kind: t.Kind, TaskID: t.ID}
		if err := q.Enqueue(job); err != nil {
			q.logger.Warn("could not resume task", zap.Stringer("job", job), zap.Error(err))
			continue
		}
		queued++
	}
	if queued > 0 {
		q.logger.Info("resumed interrupted tasks", zap.Int("count", queued))
	}
	return queued
}

// Stop rejects new jobs and waits for the workers. Queued jobs that have
// not started are dropped. If ctx ends first, running jobs are cancelled
// (their tasks stay in processing for Resume) and Stop waits for them to
// return.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.logger.Warn("cancelling running jobs")
		q.cancel()
		<-done
		return ctx.Err()
	}
}

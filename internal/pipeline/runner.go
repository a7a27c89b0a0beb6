package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Task is a handle on one in-flight capture job. Callers may wait for the
// result or fire and forget; the pipeline records the outcome on the job
// record either way.
type Task struct {
	JobID string

	done chan struct{}
	err  error
}

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task outcome. Only valid after Done is closed.
func (t *Task) Err() error {
	return t.err
}

// Wait blocks until the task finishes or ctx is canceled.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for job %s: %w", t.JobID, ctx.Err())
	}
}

// Runner executes pipeline jobs with bounded parallelism. Submitted tasks
// run on their own goroutines against the runner's base context, so HTTP
// request cancellation does not abort a capture already underway.
type Runner struct {
	pipeline *Pipeline
	logger   *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	sem     chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
}

// NewRunner builds a Runner with at most parallelism jobs in flight.
func NewRunner(p *Pipeline, parallelism int, logger *zap.Logger) *Runner {
	if parallelism < 1 {
		parallelism = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		pipeline: p,
		logger:   logger,
		baseCtx:  ctx,
		cancel:   cancel,
		sem:      make(chan struct{}, parallelism),
	}
}

// Submit schedules a capture job and returns its task handle. After
// Shutdown the task completes immediately with an error.
func (r *Runner) Submit(jobID string) *Task {
	return r.submit(jobID, func(ctx context.Context) error {
		return r.pipeline.Run(ctx, jobID)
	})
}

// SubmitRetrieval schedules an archive download for the job's url key.
func (r *Runner) SubmitRetrieval(jobID string) *Task {
	return r.submit(jobID, func(ctx context.Context) error {
		_, err := r.pipeline.Retrieve(ctx, jobID)
		return err
	})
}

func (r *Runner) submit(jobID string, run func(context.Context) error) *Task {
	task := &Task{JobID: jobID, done: make(chan struct{})}

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		task.err = fmt.Errorf("runner is shut down")
		close(task.done)
		return task
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer close(task.done)

		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-r.baseCtx.Done():
			task.err = fmt.Errorf("job %s not started: %w", jobID, r.baseCtx.Err())
			return
		}

		task.err = run(r.baseCtx)
		if task.err != nil {
			r.logger.Warn("job finished with error",
				zap.String("job_id", jobID), zap.Error(task.err))
		}
	}()
	return task
}

// Shutdown stops accepting work and waits for in-flight jobs, up to ctx.
// Jobs still running when ctx expires keep their goroutines until the base
// context cancellation propagates through the renderer.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return fmt.Errorf("shutdown with jobs in flight: %w", ctx.Err())
	}
}

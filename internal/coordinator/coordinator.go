// Package coordinator schedules the background jobs that keep the
// annotation loop moving: storage sync, annotation import and the
// retraining check. Each job runs on its own jittered interval and is
// never concurrent with itself.
package coordinator

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// jitterFraction is the share of a job's interval used as the maximum
// random offset, to keep multiple instances from firing simultaneously.
const jitterFraction = 10

// Job is one scheduled background task.
type Job struct {
	// Name identifies the job in logs.
	Name string

	// Interval is the base scheduling interval.
	Interval time.Duration

	// Run executes one iteration. Errors are logged, never fatal to the
	// schedule.
	Run func(ctx context.Context) error
}

// Coordinator manages background job scheduling and execution.
type Coordinator interface {
	// Start begins running all jobs on their intervals. Blocks until the
	// context is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator and waits for in-flight runs.
	Stop() error
}

// defaultCoordinator is the default implementation of Coordinator.
type defaultCoordinator struct {
	jobs []Job

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// New creates a coordinator over the given jobs.
func New(jobs ...Job) Coordinator {
	return &defaultCoordinator{
		jobs: jobs,
		done: make(chan struct{}),
	}
}

// jitteredInterval returns the job interval with a random offset of up
// to ±interval/jitterFraction applied.
func jitteredInterval(interval time.Duration) time.Duration {
	maxOffset := int64(interval) / jitterFraction
	if maxOffset <= 0 {
		return interval
	}
	//nolint:gosec // G404: non-cryptographic randomness is sufficient for scheduling jitter
	offset := rand.Int64N(2*maxOffset) - maxOffset
	return interval + time.Duration(offset)
}

// Start begins running all jobs. Each job gets its own loop so a slow
// import can never starve the retraining check, but one job is never
// run concurrently with itself.
func (c *defaultCoordinator) Start(ctx context.Context) error {
	slog.Info("Starting background job coordinator", "job_count", len(c.jobs))

	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		slog.Info("Background job coordinator shut down")
	}()

	var wg sync.WaitGroup
	for _, job := range c.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			c.runLoop(coordCtx, job)
		}(job)
	}

	<-coordCtx.Done()
	wg.Wait()
	return nil
}

// Stop gracefully stops the coordinator.
func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping job coordinator")
		c.cancelFunc()
		<-c.done
	}
	return nil
}

func (c *defaultCoordinator) runLoop(ctx context.Context, job Job) {
	interval := jitteredInterval(job.Interval)
	slog.Info("Scheduled background job",
		"job", job.Name,
		"base_interval", job.Interval,
		"actual_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial run so a freshly started instance catches up immediately.
	c.runOnce(ctx, job)

	for {
		select {
		case <-ticker.C:
			c.runOnce(ctx, job)

			// Recalculate with fresh jitter for the next iteration.
			ticker.Reset(jitteredInterval(job.Interval))
		case <-ctx.Done():
			slog.Debug("Background job stopping", "job", job.Name)
			return
		}
	}
}

func (c *defaultCoordinator) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}

	startTime := time.Now()
	slog.Info("Starting background job run", "job", job.Name)

	if err := job.Run(ctx); err != nil {
		slog.Error("Background job failed",
			"job", job.Name,
			"duration", time.Since(startTime),
			"error", err)
		return
	}
	slog.Info("Background job completed",
		"job", job.Name,
		"duration", time.Since(startTime))
}

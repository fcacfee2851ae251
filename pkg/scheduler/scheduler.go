package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opscart/infra-cost-optimizer/pkg/telemetry"
)

// Job is one recurring pipeline stage.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	running atomic.Bool
}

// Scheduler runs jobs on independent tickers. Each job is single-flight: a
// tick that fires while the previous run is still active is skipped, never
// queued. Job failures are logged and counted; the scheduler itself never
// stops on them.
type Scheduler struct {
	jobs    []*Job
	metrics *telemetry.Metrics
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New creates a Scheduler
func New(metrics *telemetry.Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		metrics: metrics,
		logger:  logger,
	}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.jobs = append(s.jobs, &Job{Name: name, Interval: interval, Run: run})
}

// Start launches all job loops. Each job runs once immediately, then on its
// interval, until ctx is cancelled. Start returns without blocking; use
// Wait to block until all loops exit.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(job *Job) {
			defer s.wg.Done()
			s.loop(ctx, job)
		}(job)
	}
}

// Wait blocks until all job loops and in-flight runs have finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	s.dispatch(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, job)
		}
	}
}

// dispatch hands the trigger to its own goroutine so a slow run never
// delays the ticker. A tick that fires mid-run reaches the gate in trigger
// while the run is still active and is dropped there, not queued behind it.
func (s *Scheduler) dispatch(ctx context.Context, job *Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.trigger(ctx, job)
	}()
}

// trigger runs the job unless its previous run is still active.
func (s *Scheduler) trigger(ctx context.Context, job *Job) {
	if !job.running.CompareAndSwap(false, true) {
		if s.metrics != nil {
			s.metrics.JobSkips.WithLabelValues(job.Name).Inc()
		}
		s.logger.Warn("job still running, skipping trigger", "job", job.Name)
		return
	}
	defer job.running.Store(false)

	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.JobDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if s.metrics != nil {
			s.metrics.JobFailures.WithLabelValues(job.Name).Inc()
		}
		s.logger.Error("job failed", "job", job.Name, "duration", elapsed, "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.JobRuns.WithLabelValues(job.Name).Inc()
	}
	s.logger.Info("job complete", "job", job.Name, "duration", elapsed)
}

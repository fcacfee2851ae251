package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opscart/infra-cost-optimizer/pkg/telemetry"
)

func testScheduler() (*Scheduler, *telemetry.Metrics) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	return New(metrics, logger), metrics
}

func TestJobRunsImmediatelyAndOnInterval(t *testing.T) {
	s, _ := testScheduler()

	var runs int32
	s.Add("tick", 20*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(70 * time.Millisecond)
	cancel()
	s.Wait()

	got := atomic.LoadInt32(&runs)
	if got < 3 {
		t.Errorf("Expected immediate run plus interval runs, got %d", got)
	}
}

func TestOverlappingTriggersAreSkipped(t *testing.T) {
	s, m := testScheduler()

	var active, maxActive, runs int32
	s.Add("slow", 10*time.Millisecond, func(ctx context.Context) error {
		cur := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			prev := atomic.LoadInt32(&maxActive)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
				break
			}
		}
		atomic.AddInt32(&runs, 1)
		time.Sleep(60 * time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	cancel()
	s.Wait()

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Errorf("Expected at most 1 concurrent run, observed %d", got)
	}
	// A 60ms run on a 10ms interval over 100ms allows at most two starts;
	// the ticks fired mid-run must be dropped, not replayed at run end.
	if got := atomic.LoadInt32(&runs); got > 2 {
		t.Errorf("Expected mid-run ticks dropped, got %d runs", got)
	}
	if skips := testutil.ToFloat64(m.JobSkips.WithLabelValues("slow")); skips < 1 {
		t.Errorf("Expected skipped triggers counted, got %.0f", skips)
	}
}

func TestJobFailureDoesNotStopScheduler(t *testing.T) {
	s, _ := testScheduler()

	var runs int32
	s.Add("flaky", 15*time.Millisecond, func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			return errors.New("transient failure")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(60 * time.Millisecond)
	cancel()
	s.Wait()

	if got := atomic.LoadInt32(&runs); got < 2 {
		t.Errorf("Expected scheduler to keep running after a failure, got %d runs", got)
	}
}

func TestIndependentJobs(t *testing.T) {
	s, _ := testScheduler()

	var fast, slow int32
	s.Add("fast", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&fast, 1)
		return nil
	})
	s.Add("slow", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&slow, 1)
		time.Sleep(80 * time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(60 * time.Millisecond)
	cancel()
	s.Wait()

	// The slow job blocking must not starve the fast one.
	if got := atomic.LoadInt32(&fast); got < 4 {
		t.Errorf("Expected fast job unaffected by slow job, got %d runs", got)
	}
	if got := atomic.LoadInt32(&slow); got != 1 {
		t.Errorf("Expected slow job single-flighted, got %d runs", got)
	}
}

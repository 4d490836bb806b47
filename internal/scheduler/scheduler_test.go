package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/scheduler"
)

func TestSchedulerRunsOnManualTrigger(t *testing.T) {
	var calls int32
	s := scheduler.New(zap.NewNop(), time.Hour, time.Minute, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	s.TriggerManual()
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 manual run, got %d", got)
	}
}

func TestSchedulerDoesNotOverlapSlowRun(t *testing.T) {
	var running int32
	var overlapped int32

	// cron's "@every" rounds intervals below one second up to one second,
	// so the run is made longer than the interval to force an overlap.
	s := scheduler.New(zap.NewNop(), time.Second, time.Second, func(ctx context.Context) {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			atomic.AddInt32(&overlapped, 1)
			return
		}
		time.Sleep(1500 * time.Millisecond)
		atomic.StoreInt32(&running, 0)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	time.Sleep(2500 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt32(&overlapped) != 0 {
		t.Fatalf("expected no overlapping runs, scheduler's own CAS guard should have prevented re-entry")
	}
}

func TestLastScanTimeUpdatesAfterRun(t *testing.T) {
	s := scheduler.New(zap.NewNop(), time.Hour, time.Minute, func(ctx context.Context) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	if !s.LastScanTime().IsZero() {
		t.Fatalf("expected zero LastScanTime before any run")
	}

	s.TriggerManual()
	deadline := time.Now().Add(time.Second)
	for s.LastScanTime().IsZero() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if s.LastScanTime().IsZero() {
		t.Fatalf("expected LastScanTime to be set after a manual run")
	}
}

// Package scheduler drives periodic scan cycles with non-overlapping
// execution, misfire tolerance, and a manual fast-forward trigger.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler invokes a scan function on a fixed interval, guaranteeing at
// most one invocation in flight (max_instances=1, coalescing). The
// periodic driver is an embedded cron.Cron running a single "@every"
// entry; non-overlap and misfire-grace tracking are layered on top since
// cron itself does not model either.
type Scheduler struct {
	logger       *zap.Logger
	interval     time.Duration
	misfireGrace time.Duration
	run          func(ctx context.Context)

	cron *cron.Cron

	running int32

	manualTrigger chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	mu         sync.Mutex
	lastTick   time.Time
	lastScanTS time.Time
}

// New constructs a Scheduler that calls run on every tick.
func New(logger *zap.Logger, interval, misfireGrace time.Duration, run func(ctx context.Context)) *Scheduler {
	return &Scheduler{
		logger:        logger,
		interval:      interval,
		misfireGrace:  misfireGrace,
		run:           run,
		manualTrigger: make(chan struct{}, 1),
	}
}

// Start begins the cron-driven loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.lastTick = time.Now()
	s.mu.Unlock()

	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.maybeRun("tick") }); err != nil {
		return fmt.Errorf("scheduler: invalid interval spec %q: %w", spec, err)
	}
	s.cron.Start()

	s.wg.Add(1)
	go s.manualLoop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval), zap.Duration("misfire_grace", s.misfireGrace))
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle (if any) to
// finish.
func (s *Scheduler) Stop() error {
	if s.cron != nil {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// TriggerManual runs a cycle immediately, ahead of the next cron-driven
// tick, without violating the non-overlap guarantee: if a cycle is
// already running, the request is dropped (the already-running cycle
// will complete normally and the next cron tick still fires on schedule).
func (s *Scheduler) TriggerManual() {
	select {
	case s.manualTrigger <- struct{}{}:
	default:
	}
}

// manualLoop only watches for manual-trigger requests; the periodic
// driver itself is cron's own goroutine, started in Start.
func (s *Scheduler) manualLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.manualTrigger:
			s.maybeRun("manual")
		}
	}
}

// maybeRun enforces max_instances=1: if a cycle is already running, this
// tick (or manual request) is skipped with a warning and no nested
// goroutine is spawned; the next cron tick runs as usual. A tick arriving
// later than interval+misfire_grace is logged and still run.
func (s *Scheduler) maybeRun(trigger string) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		s.logger.Warn("scheduler skipped overlapping tick", zap.String("trigger", trigger))
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	s.mu.Lock()
	age := time.Since(s.lastTick)
	s.lastTick = time.Now()
	s.mu.Unlock()

	if trigger == "tick" && age > s.interval+s.misfireGrace {
		s.logger.Warn("scheduler tick arrived outside misfire grace, running anyway", zap.Duration("age", age))
	}

	s.run(s.ctx)

	s.mu.Lock()
	s.lastScanTS = time.Now()
	s.mu.Unlock()
}

// LastScanTime reports when the most recent cycle completed.
func (s *Scheduler) LastScanTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScanTS
}

package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/queue"
)

// Config bounds the worker's claim batch size, lock duration, poll
// cadence, and delivery cooldown.
type Config struct {
	BatchSize    int
	LockSeconds  int
	PollInterval time.Duration
	Cooldown     time.Duration
}

// DefaultConfig matches the source system's own defaults (30 minute
// per-setup cooldown, 50-event claim batches).
func DefaultConfig() Config {
	return Config{BatchSize: 50, LockSeconds: 60, PollInterval: 2 * time.Second, Cooldown: 30 * time.Minute}
}

// Worker claims queued events and delivers them over Telegram, applying
// per-(user, setup) dedupe and exponential retry backoff on failure.
type Worker struct {
	logger   *zap.Logger
	queue    *queue.EventQueue
	sender   Sender
	resolver ChatIDResolver
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a notification Worker.
func NewWorker(logger *zap.Logger, q *queue.EventQueue, sender Sender, resolver ChatIDResolver, cfg Config) *Worker {
	return &Worker{logger: logger, queue: q, sender: sender, resolver: resolver, cfg: cfg}
}

// Start begins the claim/deliver loop.
func (w *Worker) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("notification worker started", zap.Duration("poll_interval", w.cfg.PollInterval))
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (w *Worker) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("notification worker stopped")
	return nil
}

func (w *Worker) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.runCycle()
		}
	}
}

func (w *Worker) runCycle() {
	claimed, err := w.queue.Claim(w.cfg.BatchSize, w.cfg.LockSeconds)
	if err != nil {
		w.logger.Warn("notify: claim failed", zap.Error(err))
		return
	}

	for _, ev := range claimed {
		w.deliver(ev)
	}
}

func (w *Worker) deliver(ev queue.ClaimedEvent) {
	now := time.Now()
	userID := asString(ev.Payload["user_id"])

	if userID == "" {
		w.logger.Warn("notify: event missing user_id, dropping", zap.String("event_id", ev.ID))
		_ = w.queue.MarkDone(ev.ID)
		return
	}

	chatID, ok := w.resolver.ChatIDForUser(userID)
	if !ok {
		w.logger.Warn("notify: no chat bound for user, dropping", zap.String("user_id", userID))
		_ = w.queue.MarkDone(ev.ID)
		return
	}

	if w.queue.DeliveryRecent(userID, ev.SetupKey, now) {
		_ = w.queue.MarkDone(ev.ID)
		return
	}

	text := FormatMessage(ev.Symbol, ev.TF, ev.SetupType, ev.Payload)
	if err := w.sender.Send(chatID, text); err != nil {
		backoff := BackoffDuration(ev.Attempts)
		w.logger.Warn("notify: send failed, backing off",
			zap.String("event_id", ev.ID), zap.Int("attempts", ev.Attempts),
			zap.Duration("retry_after", backoff), zap.Error(err))
		_ = w.queue.MarkFailed(ev.ID, backoff)
		return
	}

	if err := w.queue.RecordDelivery(userID, ev.SetupKey, now, w.cfg.Cooldown); err != nil {
		w.logger.Warn("notify: failed to record delivery", zap.Error(err))
	}
	_ = w.queue.MarkDone(ev.ID)
}

// BackoffDuration implements the retry schedule min(60 * 2^attempts,
// 3600) seconds.
func BackoffDuration(attempts int) time.Duration {
	seconds := 60 * (1 << uint(attempts))
	if seconds > 3600 || seconds <= 0 {
		seconds = 3600
	}
	return time.Duration(seconds) * time.Second
}

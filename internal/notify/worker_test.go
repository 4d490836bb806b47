package notify_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/notify"
	"github.com/marketscan/scanner/internal/queue"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	failNext bool
}

func (f *fakeSender) Send(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return context.DeadlineExceeded
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func openTestQueue(t *testing.T) *queue.EventQueue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	q, err := queue.Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestWorkerDeliversAndMarksDone(t *testing.T) {
	q := openTestQueue(t)
	resolver := notify.NewMapResolver()
	resolver.Bind("user-1", 12345)
	sender := &fakeSender{}

	cfg := notify.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	w := notify.NewWorker(zap.NewNop(), q, sender, resolver, cfg)

	_, err := q.Enqueue("EURUSD", "M15", "BUY", "setup-1", map[string]any{
		"user_id": "user-1", "entry": 1.1, "sl": 1.09, "tp": 1.12, "rr": 2.0,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	deadline := time.Now().Add(time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if sender.count() != 1 {
		t.Fatalf("expected 1 message sent, got %d", sender.count())
	}
	stats, err := q.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[queue.StatusDone] != 1 {
		t.Fatalf("expected event marked done, stats=%+v", stats)
	}
}

func TestWorkerSkipsDuplicateWithinCooldown(t *testing.T) {
	q := openTestQueue(t)
	resolver := notify.NewMapResolver()
	resolver.Bind("user-1", 12345)
	sender := &fakeSender{}

	now := time.Now()
	if err := q.RecordDelivery("user-1", "setup-dup", now, 30*time.Minute); err != nil {
		t.Fatalf("record delivery: %v", err)
	}

	cfg := notify.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	w := notify.NewWorker(zap.NewNop(), q, sender, resolver, cfg)

	if _, err := q.Enqueue("EURUSD", "M15", "BUY", "setup-dup", map[string]any{"user_id": "user-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	time.Sleep(60 * time.Millisecond)

	if sender.count() != 0 {
		t.Fatalf("expected no message sent for a deduped delivery, got %d", sender.count())
	}
	stats, err := q.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[queue.StatusDone] != 1 {
		t.Fatalf("expected deduped event still marked done, stats=%+v", stats)
	}
}

func TestBackoffDurationSchedule(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 60 * time.Second},
		{1, 120 * time.Second},
		{2, 240 * time.Second},
		{6, 3600 * time.Second},
		{20, 3600 * time.Second},
	}
	for _, c := range cases {
		got := notify.BackoffDuration(c.attempts)
		if got != c.want {
			t.Fatalf("BackoffDuration(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

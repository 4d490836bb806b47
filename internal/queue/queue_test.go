package queue_test

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marketscan/scanner/internal/queue"
)

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

func TestEnqueueClaimMarkDone(t *testing.T) {
	q := openTestQueue(t)

	id, err := q.Enqueue("eurusd", "m15", "BUY", "setup-key-1", map[string]any{
		"entry": 1.1, "telegram_token": "should-be-stripped",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == "" {
		t.Fatalf("expected non-empty event id")
	}

	claimed, err := q.Claim(10, 60)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed event, got %d", len(claimed))
	}
	if _, ok := claimed[0].Payload["telegram_token"]; ok {
		t.Fatalf("expected secret-looking key to be stripped from payload")
	}
	if claimed[0].Symbol != "EURUSD" {
		t.Fatalf("expected symbol uppercased, got %s", claimed[0].Symbol)
	}

	again, err := q.Claim(10, 60)
	if err != nil {
		t.Fatalf("claim again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no events claimable while PROCESSING, got %d", len(again))
	}

	if err := q.MarkDone(id); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	stats, err := q.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[queue.StatusDone] != 1 {
		t.Fatalf("expected 1 done event, got %d", stats[queue.StatusDone])
	}
}

func TestMarkFailedSchedulesRetry(t *testing.T) {
	q := openTestQueue(t)

	id, err := q.Enqueue("EURUSD", "M15", "BUY", "setup-key-2", map[string]any{"entry": 1.1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, _ := q.Claim(10, 60)
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed event")
	}

	if err := q.MarkFailed(id, 0); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	retried, err := q.Claim(10, 60)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(retried) != 1 {
		t.Fatalf("expected failed event to be claimable again once its retry window passed, got %d", len(retried))
	}
}

func TestDeliveryRecentHonorsCooldown(t *testing.T) {
	q := openTestQueue(t)
	now := time.Now()

	if q.DeliveryRecent("user-1", "setup-key-3", now) {
		t.Fatalf("expected no prior delivery")
	}

	if err := q.RecordDelivery("user-1", "setup-key-3", now, 30*time.Minute); err != nil {
		t.Fatalf("record delivery: %v", err)
	}

	if !q.DeliveryRecent("user-1", "setup-key-3", now.Add(time.Minute)) {
		t.Fatalf("expected delivery to be within cooldown")
	}
	if q.DeliveryRecent("user-1", "setup-key-3", now.Add(time.Hour)) {
		t.Fatalf("expected cooldown to have expired after an hour")
	}
}

func TestConnectTokenSingleUse(t *testing.T) {
	q := openTestQueue(t)

	token, err := q.CreateConnectToken("user-42", 30*time.Minute)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	userID, ok := q.ValidateConnectToken(token)
	if !ok || userID != "user-42" {
		t.Fatalf("expected valid token for user-42, got %q ok=%v", userID, ok)
	}

	if _, ok := q.ValidateConnectToken(token); ok {
		t.Fatalf("expected token to be single-use")
	}
}

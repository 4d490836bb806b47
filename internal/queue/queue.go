package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EventQueue is the async notification queue: the scan cycle enqueues
// signal events here, and a NotificationWorker claims and delivers them.
// Every write commits immediately (WAL mode, busy_timeout 30s) so the
// SQLite engine itself serializes concurrent access; no extra mutex is
// layered on top of it.
type EventQueue struct {
	db *gorm.DB
}

// Open opens (creating if needed) the queue database at path and runs
// its migrations.
func Open(path string, log *zap.Logger) (*EventQueue, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}

	if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
		return nil, fmt.Errorf("queue: enable WAL: %w", err)
	}
	if err := db.Exec("PRAGMA busy_timeout=30000;").Error; err != nil {
		return nil, fmt.Errorf("queue: set busy_timeout: %w", err)
	}

	if err := db.AutoMigrate(&QueueEvent{}, &TelegramDelivery{}, &ConnectToken{}); err != nil {
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}

	if log != nil {
		log.Info("event queue initialized", zap.String("path", path))
	}
	return &EventQueue{db: db}, nil
}

// sanitizePayload strips any key that looks like a secret before it is
// ever persisted, matching the source system's own enqueue contract.
func sanitizePayload(payload map[string]any) map[string]any {
	safe := make(map[string]any, len(payload))
	for k, v := range payload {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "token") || strings.Contains(lower, "secret") {
			continue
		}
		safe[k] = v
	}
	return safe
}

// Enqueue inserts a new NEW event. It is intentionally forgiving: any
// failure is returned to the caller but is not meant to abort a scan
// cycle, matching the "enqueue must be fast and non-blocking" contract.
func (q *EventQueue) Enqueue(symbol, tf, setupType, setupKey string, payload map[string]any) (string, error) {
	safe := sanitizePayload(payload)
	body, err := json.Marshal(safe)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}

	ev := QueueEvent{
		ID:          uuid.NewString(),
		CreatedTS:   time.Now().Unix(),
		Symbol:      strings.ToUpper(symbol),
		TF:          strings.ToUpper(tf),
		SetupType:   setupType,
		SetupKey:    setupKey,
		PayloadJSON: string(body),
		Status:      StatusNew,
	}
	if err := q.db.Create(&ev).Error; err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return ev.ID, nil
}

// ClaimedEvent is a queue event with its payload already decoded.
type ClaimedEvent struct {
	QueueEvent
	Payload map[string]any
}

// Claim atomically takes up to limit NEW (or retry-ready FAILED) events
// and marks them PROCESSING with a lock expiry lockSeconds in the future.
func (q *EventQueue) Claim(limit, lockSeconds int) ([]ClaimedEvent, error) {
	now := time.Now().Unix()
	unlock := now + int64(lockSeconds)

	var claimed []ClaimedEvent

	err := q.db.Transaction(func(tx *gorm.DB) error {
		var rows []QueueEvent
		if err := tx.
			Where("status = ? OR (status = ? AND next_attempt_ts <= ?)", StatusNew, StatusFailed, now).
			Order("created_ts ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		if err := tx.Model(&QueueEvent{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":          StatusProcessing,
				"attempts":        gorm.Expr("attempts + 1"),
				"next_attempt_ts": unlock,
			}).Error; err != nil {
			return err
		}

		for _, r := range rows {
			var payload map[string]any
			_ = json.Unmarshal([]byte(r.PayloadJSON), &payload)
			r.Status = StatusProcessing
			r.Attempts++
			r.NextAttemptTS = unlock
			claimed = append(claimed, ClaimedEvent{QueueEvent: r, Payload: payload})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: claim: %w", err)
	}
	return claimed, nil
}

// MarkDone marks an event DONE.
func (q *EventQueue) MarkDone(eventID string) error {
	return q.db.Model(&QueueEvent{}).Where("id = ?", eventID).
		Update("status", StatusDone).Error
}

// MarkFailed marks an event FAILED and schedules its next retry.
func (q *EventQueue) MarkFailed(eventID string, retryAfter time.Duration) error {
	next := time.Now().Add(retryAfter).Unix()
	return q.db.Model(&QueueEvent{}).Where("id = ?", eventID).
		Updates(map[string]any{"status": StatusFailed, "next_attempt_ts": next}).Error
}

// Stats returns a count of events by status, plus "total".
func (q *EventQueue) Stats() (map[string]int64, error) {
	stats := map[string]int64{StatusNew: 0, StatusProcessing: 0, StatusDone: 0, StatusFailed: 0, "total": 0}

	var rows []struct {
		Status string
		Cnt    int64
	}
	if err := q.db.Model(&QueueEvent{}).
		Select("status, count(*) as cnt").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("queue: stats: %w", err)
	}
	for _, r := range rows {
		stats[r.Status] = r.Cnt
		stats["total"] += r.Cnt
	}
	return stats, nil
}

// DeliveryRecent reports whether setupKey was delivered to userID within
// its cooldown window as of now.
func (q *EventQueue) DeliveryRecent(userID, setupKey string, now time.Time) bool {
	var row TelegramDelivery
	err := q.db.
		Where("user_id = ? AND setup_key = ?", userID, setupKey).
		Order("sent_ts DESC").
		Limit(1).
		Take(&row).Error
	if err != nil {
		return false
	}
	return row.CooldownUntilTS > now.Unix()
}

// RecordDelivery records a sent notification for future dedupe checks.
func (q *EventQueue) RecordDelivery(userID, setupKey string, now time.Time, cooldown time.Duration) error {
	d := TelegramDelivery{
		ID:              uuid.NewString(),
		UserID:          userID,
		SetupKey:        setupKey,
		SentTS:          now.Unix(),
		CooldownUntilTS: now.Add(cooldown).Unix(),
	}
	return q.db.Create(&d).Error
}

// CleanupOldDeliveries removes delivery records older than olderThanDays.
func (q *EventQueue) CleanupOldDeliveries(olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).Unix()
	res := q.db.Where("sent_ts < ?", cutoff).Delete(&TelegramDelivery{})
	return res.RowsAffected, res.Error
}

// CleanupOldTokens removes expired connect tokens older than olderThanDays.
func (q *EventQueue) CleanupOldTokens(olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).Unix()
	res := q.db.Where("expires_ts < ?", cutoff).Delete(&ConnectToken{})
	return res.RowsAffected, res.Error
}

// Close releases the underlying database connection.
func (q *EventQueue) Close() error {
	sqlDB, err := q.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

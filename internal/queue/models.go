// Package queue implements the async event queue that decouples signal
// production (the scan cycle) from delivery (the notification worker),
// backed by a WAL-mode SQLite database reached through gorm.
package queue

// QueueEvent is one pending or processed notification job.
type QueueEvent struct {
	ID            string `gorm:"primaryKey"`
	CreatedTS     int64  `gorm:"not null"`
	Symbol        string `gorm:"not null"`
	TF            string `gorm:"not null"`
	SetupType     string `gorm:"not null"`
	SetupKey      string `gorm:"not null;index:idx_queue_status_next"`
	PayloadJSON   string `gorm:"not null"`
	Status        string `gorm:"not null;default:NEW;index:idx_queue_status_next"`
	Attempts      int    `gorm:"not null;default:0"`
	NextAttemptTS int64  `gorm:"not null;default:0"`
}

func (QueueEvent) TableName() string { return "queue_events" }

// Queue event statuses.
const (
	StatusNew        = "NEW"
	StatusProcessing = "PROCESSING"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// TelegramDelivery records a sent notification for dedupe/cooldown checks.
type TelegramDelivery struct {
	ID              string `gorm:"primaryKey"`
	UserID          string `gorm:"not null;index:idx_delivery_user_setup"`
	SetupKey        string `gorm:"not null;index:idx_delivery_user_setup"`
	SentTS          int64  `gorm:"not null"`
	CooldownUntilTS int64  `gorm:"not null;index:idx_delivery_cooldown"`
}

func (TelegramDelivery) TableName() string { return "telegram_deliveries" }

// ConnectToken is a one-time Telegram deep-link connect token.
type ConnectToken struct {
	Token     string `gorm:"primaryKey"`
	UserID    string `gorm:"not null"`
	ExpiresTS int64  `gorm:"not null;index:idx_connect_expires"`
	UsedTS    *int64
}

func (ConnectToken) TableName() string { return "connect_tokens" }

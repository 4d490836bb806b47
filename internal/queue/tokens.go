package queue

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateConnectToken issues a single-use Telegram deep-link token for
// userID, valid for expiresIn.
func (q *EventQueue) CreateConnectToken(userID string, expiresIn time.Duration) (string, error) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	now := time.Now()

	t := ConnectToken{
		Token:     token,
		UserID:    userID,
		ExpiresTS: now.Add(expiresIn).Unix(),
	}
	if err := q.db.Create(&t).Error; err != nil {
		return "", err
	}
	return token, nil
}

// ValidateConnectToken consumes token if it is unexpired and unused,
// returning the owning user ID. A token can only ever be validated once.
func (q *EventQueue) ValidateConnectToken(token string) (string, bool) {
	var row ConnectToken
	if err := q.db.Where("token = ?", token).Take(&row).Error; err != nil {
		return "", false
	}
	now := time.Now().Unix()
	if row.UsedTS != nil {
		return "", false
	}
	if row.ExpiresTS < now {
		return "", false
	}

	res := q.db.Model(&ConnectToken{}).
		Where("token = ? AND used_ts IS NULL", token).
		Update("used_ts", now)
	if res.Error != nil || res.RowsAffected == 0 {
		return "", false
	}
	return row.UserID, true
}

// Package notify delivers queued signal events to end users over
// Telegram, claiming from the async EventQueue and backing off
// exponentially on send failure.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender delivers a formatted message to a chat. It is an interface so
// tests can substitute a fake instead of reaching Telegram's API.
type Sender interface {
	Send(chatID int64, text string) error
}

// TelegramSender wraps a real Telegram bot connection.
type TelegramSender struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramSender authenticates against the Telegram Bot API with token.
func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram auth: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

// Send posts text to chatID using Markdown formatting.
func (t *TelegramSender) Send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	_, err := t.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("notify: telegram send: %w", err)
	}
	return nil
}

// ChatIDResolver maps an application user ID to a Telegram chat ID.
type ChatIDResolver interface {
	ChatIDForUser(userID string) (int64, bool)
}

// MapResolver is a simple in-memory ChatIDResolver; entries are added only
// through Bind.
type MapResolver struct {
	chatIDs map[string]int64
}

// NewMapResolver constructs an empty resolver.
func NewMapResolver() *MapResolver {
	return &MapResolver{chatIDs: map[string]int64{}}
}

// Bind associates userID with chatID.
func (m *MapResolver) Bind(userID string, chatID int64) {
	m.chatIDs[userID] = chatID
}

// ChatIDForUser implements ChatIDResolver.
func (m *MapResolver) ChatIDForUser(userID string) (int64, bool) {
	id, ok := m.chatIDs[userID]
	return id, ok
}

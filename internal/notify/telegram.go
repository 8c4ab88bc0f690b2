package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/giftagg/internal/httpx"
)

// TelegramAPIBase is the Bot API root.
const TelegramAPIBase = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *httpx.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID. Requests go through a paced client with a 10-second timeout.
func NewTelegramSender(token, chatID string, opts ...httpx.Option) *TelegramSender {
	opts = append([]httpx.Option{httpx.WithTimeout(10 * time.Second), httpx.WithRate(1)}, opts...)
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: httpx.New(TelegramAPIBase, opts...),
	}
}

// Send posts a message to the configured chat with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}
	if err := t.client.PostJSON(ctx, "/bot"+t.token+"/sendMessage", payload, nil); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/giftagg/internal/httpx"
)

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	client *httpx.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string, opts ...httpx.Option) *DiscordSender {
	opts = append([]httpx.Option{httpx.WithTimeout(10 * time.Second), httpx.WithRate(1)}, opts...)
	return &DiscordSender{client: httpx.New(webhookURL, opts...)}
}

// Send posts a message to the webhook. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	}
	if err := d.client.PostJSON(ctx, "", payload, nil); err != nil {
		return fmt.Errorf("discord: post webhook: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

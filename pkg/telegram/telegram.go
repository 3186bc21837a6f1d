// Package telegram sends outward notifications about cabinet activity to
// a configured bot chat. Disabled unless a token and chat id are set.
package telegram

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"bookcabinet/pkg/config"
)

// Notifier posts messages through the Bot API. Sends are fire-and-forget:
// a delivery failure is logged, never surfaced to the transaction.
type Notifier struct {
	cfg    config.TelegramConfig
	client *resty.Client
	log    *zap.Logger
}

// New builds a notifier; returns nil when notifications are disabled, so
// callers can keep a plain nil check.
func New(cfg config.TelegramConfig, log *zap.Logger) *Notifier {
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == "" {
		return nil
	}
	client := resty.New().
		SetBaseURL("https://api.telegram.org/bot" + cfg.BotToken)
	return &Notifier{cfg: cfg, client: client, log: log}
}

// Notify sends one message asynchronously.
func (n *Notifier) Notify(event, message string) {
	go func() {
		text := fmt.Sprintf("[%s] %s", event, message)
		resp, err := n.client.R().
			SetQueryParams(map[string]string{
				"chat_id": n.cfg.ChatID,
				"text":    text,
			}).
			Get("/sendMessage")
		if err != nil {
			n.log.Warn("telegram send failed", zap.Error(err))
			return
		}
		if resp.IsError() {
			n.log.Warn("telegram send rejected",
				zap.Int("status", resp.StatusCode()), zap.String("body", resp.String()))
		}
	}()
}

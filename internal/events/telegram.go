// internal/events/telegram.go
package events

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const DefaultTelegramURL = "https://api.telegram.org"

// Telegram posts notifications through the Bot API sendMessage method.
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegram(baseURL, token, chatID string) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	DisableNotification bool   `json:"disable_notification"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, n Notification, text string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:              t.chatID,
		Text:                text,
		DisableNotification: !n.Urgent(),
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: read response: %w", err)
	}
	var out telegramResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("telegram: status %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, out.Description)
	}
	return nil
}

// internal/events/discord.go
package events

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Discord posts notifications to a channel webhook.
type Discord struct {
	webhookURL string
	client     *http.Client
}

func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *Discord) Name() string { return "discord" }

type discordEmbed struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type discordMessage struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

func (d *Discord) Send(ctx context.Context, n Notification, text string) error {
	msg := discordMessage{Content: text}
	if n.Kind == KindTrade && n.Trade.TxRef != "" {
		msg.Embeds = []discordEmbed{{
			Title: "View Transaction",
			URL:   TxURL(n.Trade.Chain, n.Trade.TxRef),
		}}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord: status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

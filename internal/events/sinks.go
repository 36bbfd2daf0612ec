// internal/events/sinks.go
package events

import (
	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/config"
)

// SinksFromConfig builds the enabled chat sinks, falling back to the log
// sink when none is enabled.
func SinksFromConfig(cfg config.NotificationConfig, logger *zap.Logger) []Sink {
	var sinks []Sink
	if cfg.Telegram.Enabled {
		sinks = append(sinks, NewTelegram(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if cfg.Discord.Enabled {
		sinks = append(sinks, NewDiscord(cfg.Discord.WebhookURL))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewLogSink(logger))
	}
	return sinks
}

// OptionsFromConfig maps the notification config to notifier options.
func OptionsFromConfig(cfg config.NotificationConfig) Options {
	return Options{
		QueueSize:    cfg.QueueSize,
		MaxPerMinute: cfg.MaxPerMinute,
	}
}

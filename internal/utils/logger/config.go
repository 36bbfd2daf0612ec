// internal/utils/logger/config.go
package logger

import "github.com/rovshanmuradov/chaincrawlr/internal/config"

type Config struct {
	LogFile     string
	MaxSize     int  // megabytes
	MaxAge      int  // days
	MaxBackups  int  // rotated files kept
	Compress    bool // gzip rotated files
	Development bool
}

// DefaultConfig returns the rotation settings used when none are configured.
func DefaultConfig() *Config {
	return &Config{
		LogFile:     "logs/chaincrawlr.log",
		MaxSize:     100,
		MaxAge:      7,
		MaxBackups:  3,
		Compress:    true,
		Development: false,
	}
}

// FromSettings maps the logging section of the application config.
func FromSettings(s config.LoggingConfig) *Config {
	cfg := DefaultConfig()
	if s.File != "" {
		cfg.LogFile = s.File
	}
	if s.MaxSize > 0 {
		cfg.MaxSize = s.MaxSize
	}
	if s.MaxAge > 0 {
		cfg.MaxAge = s.MaxAge
	}
	if s.MaxBackups > 0 {
		cfg.MaxBackups = s.MaxBackups
	}
	cfg.Compress = s.Compress
	cfg.Development = s.Development
	return cfg
}

// cmd/bot/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/bot"
	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/utils/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	dev := flag.Bool("dev", false, "debug logging")
	exportFormat := flag.String("export", "", "export closed trades from the ledger file (csv|json) and exit")
	exportDir := flag.String("export-dir", "exports", "directory for -export and -report output")
	reportDay := flag.String("report", "", "write a daily report for YYYY-MM-DD and exit")
	flag.Parse()

	if *exportFormat != "" || *reportDay != "" {
		os.Exit(runExport(*configPath, *exportFormat, *exportDir, *reportDay))
	}
	os.Exit(run(*configPath, *dev))
}

func run(configPath string, dev bool) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 2
	}

	logCfg := logger.FromSettings(cfg.Logging)
	if dev {
		logCfg.Development = true
	}
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() {
		if err := log.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	log.Info("🚀 Starting chaincrawlr", zap.String("config", configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner, err := bot.New(ctx, cfg, log.WithComponent("bot"))
	if err != nil {
		log.Error("Failed to initialize bot", zap.Error(err))
		return 1
	}
	if err := runner.Run(ctx); err != nil {
		log.Error("Bot stopped with errors", zap.Error(err))
		return 1
	}
	log.Info("👋 Bot stopped")
	return 0
}

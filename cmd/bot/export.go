// cmd/bot/export.go
package main

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/export"
	"github.com/rovshanmuradov/chaincrawlr/internal/portfolio"
	"github.com/rovshanmuradov/chaincrawlr/internal/utils/logger"
)

// runExport reads the ledger file offline; no chain is contacted.
func runExport(configPath, format, dir, day string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 2
	}
	appLog, err := logger.New(logger.FromSettings(cfg.Logging))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = appLog.Sync() }()
	defer appLog.TrackPerformance("export")()
	log := appLog.WithComponent("export")

	ledger := portfolio.NewLedger(portfolio.Options{Config: cfg.Trading.Portfolio}, log)
	if err := ledger.Load(); err != nil {
		log.Error("Failed to load ledger", zap.Error(err))
		return 1
	}
	trades := ledger.History()
	exporter := export.NewTradeExporter(log)

	if format != "" {
		path, err := exporter.ExportTrades(trades, export.Options{Format: export.Format(format), OutputDir: dir})
		if err != nil {
			log.Error("Export failed", zap.Error(err))
			return 1
		}
		fmt.Println(path)
	}
	if day != "" {
		date, err := time.ParseInLocation("2006-01-02", day, time.Local)
		if err != nil {
			log.Error("Invalid report day", zap.String("day", day), zap.Error(err))
			return 2
		}
		path, err := exporter.ExportDailyReport(trades, date, dir)
		if err != nil {
			log.Error("Daily report failed", zap.Error(err))
			return 1
		}
		if path != "" {
			fmt.Println(path)
		}
	}
	return 0
}

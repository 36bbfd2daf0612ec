// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/storage/models"
)

// TradeStore archives closed trades and swap executions outside the ledger
// file.
type TradeStore interface {
	SaveTrade(ctx context.Context, t domain.ClosedTrade) error
	// ListTrades returns trades newest first. An empty chain lists all chains.
	ListTrades(ctx context.Context, chain string, limit, offset int) ([]domain.ClosedTrade, error)
	SaveExecution(ctx context.Context, e *models.Execution) error
	RunMigrations() error
	Close() error
}

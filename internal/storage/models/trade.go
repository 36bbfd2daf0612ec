// internal/storage/models/trade.go
package models

import (
	"time"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

// Trade is an archived closed trade.
type Trade struct {
	BaseModel
	TokenAddress string    `gorm:"index;not null;type:varchar(64)"`
	Chain        string    `gorm:"index;not null;type:varchar(32)"`
	EntryPrice   float64   `gorm:"type:double precision;not null"`
	ExitPrice    float64   `gorm:"type:double precision;not null"`
	Amount       float64   `gorm:"type:double precision;not null"`
	PnL          float64   `gorm:"type:double precision;not null"`
	DurationMs   int64     `gorm:"not null"`
	EntryTime    time.Time `gorm:"not null"`
	ExitTime     time.Time `gorm:"index;not null"`
	TxRef        string    `gorm:"type:varchar(100)"`
}

func TradeFromDomain(t domain.ClosedTrade) *Trade {
	return &Trade{
		TokenAddress: t.TokenAddress,
		Chain:        t.Chain,
		EntryPrice:   t.EntryPrice,
		ExitPrice:    t.ExitPrice,
		Amount:       t.Amount,
		PnL:          t.PnL,
		DurationMs:   t.Duration.Milliseconds(),
		EntryTime:    t.EntryTime,
		ExitTime:     t.ExitTime,
		TxRef:        t.TxRef,
	}
}

func (t *Trade) Domain() domain.ClosedTrade {
	return domain.ClosedTrade{
		TokenAddress: t.TokenAddress,
		Chain:        t.Chain,
		EntryPrice:   t.EntryPrice,
		ExitPrice:    t.ExitPrice,
		Amount:       t.Amount,
		PnL:          t.PnL,
		Duration:     time.Duration(t.DurationMs) * time.Millisecond,
		EntryTime:    t.EntryTime,
		ExitTime:     t.ExitTime,
		TxRef:        t.TxRef,
	}
}

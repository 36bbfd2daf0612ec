// internal/portfolio/ledger.go
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/storage"
	"github.com/rovshanmuradov/chaincrawlr/internal/utils/metrics"
)

var (
	ErrInvalidPrice = errors.New("invalid price")
	ErrPersist      = errors.New("ledger persist failed")
)

// JournalHeader is the column layout of the closed-trade CSV journal.
var JournalHeader = []string{"exit_time", "chain", "token", "entry_price", "exit_price", "amount", "pnl_percent", "duration_s", "tx_ref"}

// PriceSource quotes one whole token in the chain's quote asset.
// dex.Registry satisfies it.
type PriceSource interface {
	Price(ctx context.Context, chain, venue, token string) (float64, error)
}

// BalanceSource reports the native balance of the base-currency wallet.
type BalanceSource interface {
	NativeBalance(ctx context.Context, owner string) (float64, error)
}

// Recorder receives one CSV row per closed trade.
type Recorder interface {
	WriteRecord(record []string) error
}

// Options wires a Ledger. Only Prices is required.
type Options struct {
	Config  config.PortfolioConfig
	Prices  PriceSource
	Balance BalanceSource
	Owner   string
	// Results memoizes close outcomes and portfolio valuations.
	Results cache.Store
	// PriceCache memoizes venue quotes per (chain, token).
	PriceCache cache.Store
	Archive    storage.TradeStore
	Journal    Recorder
	Metrics    *metrics.Collector
	Now        func() time.Time
}

// closeRecord is the memoized outcome of a close.
type closeRecord struct {
	Status string              `json:"status"`
	Trade  *domain.ClosedTrade `json:"trade,omitempty"`
	Error  string              `json:"error,omitempty"`
	At     time.Time           `json:"at"`
}

// Ledger owns the set of open positions and the closed-trade history.
// Open, Close and UpdateMarks are serialized by one lock.
type Ledger struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
	history   []domain.ClosedTrade

	cfg        config.PortfolioConfig
	prices     PriceSource
	balance    BalanceSource
	owner      string
	results    cache.Store
	priceCache cache.Store
	archive    storage.TradeStore
	journal    Recorder
	metrics    *metrics.Collector
	file       fileStore
	now        func() time.Time
	logger     *zap.Logger
}

func NewLedger(opts Options, logger *zap.Logger) *Ledger {
	cfg := opts.Config
	if cfg.MinPositionSize <= 0 {
		cfg.MinPositionSize = config.DefaultMinPositionSize
	}
	if cfg.MaxPositionSize < cfg.MinPositionSize {
		cfg.MaxPositionSize = config.DefaultMaxPositionSize
	}
	if cfg.ValuationBucket <= 0 {
		cfg.ValuationBucket = config.DefaultValuationBucket
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	results := opts.Results
	if results == nil {
		results = cache.NewMemoryStore(config.DefaultCacheTTL)
	}

	return &Ledger{
		positions:  make(map[string]*domain.Position),
		cfg:        cfg,
		prices:     opts.Prices,
		balance:    opts.Balance,
		owner:      opts.Owner,
		results:    results,
		priceCache: opts.PriceCache,
		archive:    opts.Archive,
		journal:    opts.Journal,
		metrics:    opts.Metrics,
		file:       fileStore{path: cfg.LedgerFile},
		now:        now,
		logger:     logger.Named("ledger"),
	}
}

// Load replaces in-memory state with the ledger file contents.
// A missing file is an empty ledger.
func (l *Ledger) Load() error {
	doc, err := l.file.load()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make(map[string]*domain.Position, len(doc.Positions))
	for i := range doc.Positions {
		p := doc.Positions[i]
		if _, dup := l.positions[p.TokenAddress]; dup {
			l.logger.Warn("duplicate position in ledger file, keeping first",
				zap.String("token", domain.ShortAddress(p.TokenAddress)))
			continue
		}
		l.positions[p.TokenAddress] = &p
	}
	l.history = doc.History
	l.metrics.SetOpenPositions(len(l.positions))

	l.logger.Info("ledger loaded",
		zap.Int("positions", len(l.positions)),
		zap.Int("history", len(l.history)))
	return nil
}

// Open records a new position for c. It returns false without error when a
// position for the token already exists.
func (l *Ledger) Open(ctx context.Context, c domain.Candidate, txRef string) (bool, error) {
	if l.hasPosition(c.TokenAddress) {
		l.logger.Info("position already open",
			zap.String("token", domain.ShortAddress(c.TokenAddress)),
			zap.String("chain", c.Chain))
		return false, nil
	}

	price, err := l.CurrentPrice(ctx, c.Chain, c.Venue, c.TokenAddress)
	if err != nil {
		return false, fmt.Errorf("entry price for %s: %w", domain.ShortAddress(c.TokenAddress), err)
	}
	amount := l.SizeFor(ctx, c, price)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Re-check: another caller may have opened it while we priced.
	if _, ok := l.positions[c.TokenAddress]; ok {
		return false, nil
	}

	pos := &domain.Position{
		TokenAddress: c.TokenAddress,
		Chain:        c.Chain,
		Venue:        c.Venue,
		EntryTime:    l.now(),
		EntryPrice:   price,
		Amount:       amount,
		HighPrice:    price,
		TxRef:        txRef,
	}
	// The trailing stop stays unarmed until UpdateMarks first raises the high.

	l.positions[c.TokenAddress] = pos
	if err := l.persistLocked(); err != nil {
		delete(l.positions, c.TokenAddress)
		return false, err
	}
	l.metrics.SetOpenPositions(len(l.positions))

	l.logger.Info("position opened",
		zap.String("token", domain.ShortAddress(c.TokenAddress)),
		zap.String("chain", c.Chain),
		zap.String("dex", c.Venue),
		zap.Float64("entry_price", price),
		zap.Float64("amount", amount),
		zap.String("tx", txRef))
	return true, nil
}

// Close removes the position for token and appends a ClosedTrade. exitPrice
// nil means use the current venue price. On failure the position stays open.
func (l *Ledger) Close(ctx context.Context, token string, exitPrice *float64, txRef string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[token]
	if !ok {
		return false, nil
	}
	key := cache.ClosePositionKey(pos.Chain, token, pos.EntryTime)
	log := l.logger.With(
		zap.String("token", domain.ShortAddress(token)),
		zap.String("chain", pos.Chain))

	var memo closeRecord
	found, err := l.results.Get(ctx, key, &memo)
	if err != nil {
		log.Warn("close memo unavailable", zap.Error(err))
	}
	if found && memo.Status == cache.StatusSuccess && memo.Trade != nil {
		if err := l.commitCloseLocked(token, *memo.Trade); err != nil {
			return false, err
		}
		log.Info("close replayed from memo", zap.Float64("pnl", memo.Trade.PnL))
		return true, nil
	}

	trade, err := l.closeTrade(ctx, pos, exitPrice, txRef)
	if err == nil {
		err = l.commitCloseLocked(token, trade)
	}
	if err != nil {
		l.remember(ctx, key, closeRecord{Status: cache.StatusFailed, Error: err.Error(), At: l.now()})
		log.Error("close failed, position left open", zap.Error(err))
		return false, err
	}

	l.remember(ctx, key, closeRecord{Status: cache.StatusSuccess, Trade: &trade, At: l.now()})
	l.record(ctx, trade)

	log.Info("position closed",
		zap.Float64("entry_price", trade.EntryPrice),
		zap.Float64("exit_price", trade.ExitPrice),
		zap.Float64("pnl", trade.PnL),
		zap.Duration("held", trade.Duration))
	return true, nil
}

func (l *Ledger) closeTrade(ctx context.Context, pos *domain.Position, exitPrice *float64, txRef string) (domain.ClosedTrade, error) {
	if pos.EntryPrice <= 0 {
		return domain.ClosedTrade{}, fmt.Errorf("%w: entry price %v", ErrInvalidPrice, pos.EntryPrice)
	}

	var price float64
	if exitPrice != nil {
		price = *exitPrice
	} else {
		p, err := l.CurrentPrice(ctx, pos.Chain, pos.Venue, pos.TokenAddress)
		if err != nil {
			return domain.ClosedTrade{}, fmt.Errorf("exit price: %w", err)
		}
		price = p
	}
	if price < 0 {
		return domain.ClosedTrade{}, fmt.Errorf("%w: exit price %v", ErrInvalidPrice, price)
	}

	exitTime := l.now()
	return domain.ClosedTrade{
		TokenAddress: pos.TokenAddress,
		Chain:        pos.Chain,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    price,
		Amount:       pos.Amount,
		PnL:          (price/pos.EntryPrice - 1) * 100,
		Duration:     exitTime.Sub(pos.EntryTime),
		EntryTime:    pos.EntryTime,
		ExitTime:     exitTime,
		TxRef:        txRef,
	}, nil
}

// commitCloseLocked persists the post-close state before touching memory.
func (l *Ledger) commitCloseLocked(token string, trade domain.ClosedTrade) error {
	doc := document{
		Positions: make([]domain.Position, 0, len(l.positions)),
		History:   append(append([]domain.ClosedTrade(nil), l.history...), trade),
	}
	for _, p := range l.sortedLocked() {
		if p.TokenAddress != token {
			doc.Positions = append(doc.Positions, p)
		}
	}
	if err := l.file.save(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	delete(l.positions, token)
	l.history = doc.History
	l.metrics.SetOpenPositions(len(l.positions))
	return nil
}

// record sends a closed trade to the archive and journal. Failures are
// logged only; the close already happened.
func (l *Ledger) record(ctx context.Context, t domain.ClosedTrade) {
	if l.archive != nil {
		if err := l.archive.SaveTrade(ctx, t); err != nil {
			l.logger.Warn("trade archive failed",
				zap.String("token", domain.ShortAddress(t.TokenAddress)),
				zap.Error(err))
		}
	}
	if l.journal != nil {
		if err := l.journal.WriteRecord(JournalRow(t)); err != nil {
			l.logger.Warn("trade journal write failed", zap.Error(err))
		}
	}
}

// JournalRow renders t in JournalHeader column order.
func JournalRow(t domain.ClosedTrade) []string {
	return []string{
		t.ExitTime.UTC().Format(time.RFC3339),
		t.Chain,
		t.TokenAddress,
		strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
		strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
		strconv.FormatFloat(t.Amount, 'f', -1, 64),
		strconv.FormatFloat(t.PnL, 'f', 4, 64),
		strconv.FormatInt(int64(t.Duration/time.Second), 10),
		t.TxRef,
	}
}

func (l *Ledger) remember(ctx context.Context, key string, rec closeRecord) {
	if err := l.results.Set(ctx, key, rec); err != nil {
		l.logger.Warn("failed to memoize close", zap.String("key", key), zap.Error(err))
	}
}

// UpdateMarks refreshes prices for every open position and raises
// high-water marks and trailing stops. Quotes run without the lock.
func (l *Ledger) UpdateMarks(ctx context.Context) (int, error) {
	snapshot := l.GetOpen()
	if len(snapshot) == 0 {
		return 0, nil
	}
	prices := l.quoteAll(ctx, snapshot)

	l.mu.Lock()
	defer l.mu.Unlock()

	raised := 0
	for i, snap := range snapshot {
		price := prices[i]
		pos, ok := l.positions[snap.TokenAddress]
		if !ok || price <= 0 || !pos.EntryTime.Equal(snap.EntryTime) {
			continue
		}
		if price <= pos.HighPrice {
			continue
		}
		pos.HighPrice = price
		if l.cfg.TrailingStopEnabled {
			pos.TrailingStop = l.trailFrom(price)
		}
		raised++
		l.logger.Debug("high-water mark raised",
			zap.String("token", domain.ShortAddress(pos.TokenAddress)),
			zap.Float64("high", pos.HighPrice),
			zap.Float64("trailing_stop", pos.TrailingStop))
	}
	if raised == 0 {
		return 0, nil
	}
	if err := l.persistLocked(); err != nil {
		return raised, err
	}
	return raised, nil
}

func (l *Ledger) trailFrom(price float64) float64 {
	pct := l.cfg.TrailingStopPercent
	if pct <= 0 {
		pct = 10
	}
	return price * (1 - pct/100)
}

// GetOpen returns copies of the open positions, oldest first.
func (l *Ledger) GetOpen() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sortedLocked()
}

// Get returns a copy of the open position for token.
func (l *Ledger) Get(token string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[token]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// History returns the closed trades in close order.
func (l *Ledger) History() []domain.ClosedTrade {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ClosedTrade(nil), l.history...)
}

// LiquidateAll closes every open position at the current price and returns
// how many closed.
func (l *Ledger) LiquidateAll(ctx context.Context) (int, error) {
	var (
		closed int
		failed int
		errs   error
	)
	for _, p := range l.GetOpen() {
		ok, err := l.Close(ctx, p.TokenAddress, nil, "")
		if err != nil {
			errs = multierr.Append(errs, err)
			failed++
			continue
		}
		if ok {
			closed++
		}
	}
	l.logger.Warn("positions liquidated", zap.Int("closed", closed), zap.Int("failed", failed))
	return closed, errs
}

func (l *Ledger) hasPosition(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.positions[token]
	return ok
}

func (l *Ledger) sortedLocked() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].TokenAddress < out[j].TokenAddress
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

func (l *Ledger) persistLocked() error {
	doc := document{Positions: l.sortedLocked(), History: l.history}
	if err := l.file.save(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

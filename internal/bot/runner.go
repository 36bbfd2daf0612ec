// internal/bot/runner.go
package bot

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/events"
	"github.com/rovshanmuradov/chaincrawlr/internal/portfolio"
	"github.com/rovshanmuradov/chaincrawlr/internal/sniping"
	"github.com/rovshanmuradov/chaincrawlr/internal/storage"
	"github.com/rovshanmuradov/chaincrawlr/internal/storage/models"
	"github.com/rovshanmuradov/chaincrawlr/internal/utils/metrics"
)

const (
	notifierDrainTimeout   = 10 * time.Second
	defaultMarkInterval    = 30 * time.Second
	defaultBalanceInterval = 5 * time.Minute
	candidateBuffer        = 64
)

type positionBook interface {
	Open(ctx context.Context, c domain.Candidate, txRef string) (bool, error)
	UpdateMarks(ctx context.Context) (int, error)
	PortfolioValue(ctx context.Context) (float64, error)
	GetOpen() []domain.Position
	PerformanceMetrics() portfolio.Performance
}

type entryRunner interface {
	Run(ctx context.Context, in <-chan domain.Candidate, workers int, onEntry func(context.Context, domain.Candidate, string))
}

type candidateSource interface {
	Run(ctx context.Context, out chan<- domain.Candidate) error
}

type loop interface {
	Run(ctx context.Context) error
}

// Runner owns every component and the loops that drive them.
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Collector
	shutdown *ShutdownHandler

	chains   sniping.Chains
	book     positionBook
	orch     entryRunner
	scanner  candidateSource
	engine   loop
	server   loop
	notifier sniping.Notifier
	archive  storage.TradeStore
}

// New builds every component described by cfg. On failure whatever was
// already opened is closed again.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.NewCollector(),
		shutdown: NewShutdownHandler(logger),
	}
	if err := r.build(ctx); err != nil {
		if cerr := r.Shutdown(); cerr != nil {
			logger.Warn("Cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	logger.Info("✅ Runner initialized",
		zap.Int("chains", len(r.chains)),
		zap.Int("open_positions", len(r.book.GetOpen())),
		zap.Bool("scanner", r.scanner != nil),
		zap.Bool("auto_exit", r.engine != nil))
	return r, nil
}

// Run drives the scan, exit, marks and balance loops until ctx is cancelled
// or SIGINT/SIGTERM arrives, then shuts everything down.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.alert(events.AlertStartup, events.SeverityInfo, fmt.Sprintf(
		"chaincrawlr started: %d chains, %d open positions", len(r.chains), len(r.book.GetOpen())))

	g, gctx := errgroup.WithContext(ctx)
	if r.scanner != nil {
		candidates := make(chan domain.Candidate, candidateBuffer)
		g.Go(func() error {
			return r.scanner.Run(gctx, candidates)
		})
		g.Go(func() error {
			r.orch.Run(gctx, candidates, r.cfg.Trading.Sniping.Workers, r.onEntry)
			return nil
		})
	}
	if r.engine != nil {
		g.Go(func() error {
			return r.engine.Run(gctx)
		})
	}
	g.Go(func() error {
		return r.runMarks(gctx)
	})
	g.Go(func() error {
		return r.runBalanceChecks(gctx)
	})
	if r.server != nil {
		g.Go(func() error {
			return r.server.Run(gctx)
		})
	}

	err := g.Wait()
	if err != nil {
		r.logger.Error("Loop failed", zap.Error(err))
	}
	r.logger.Info("📡 Stopping", zap.NamedError("cause", context.Cause(ctx)))

	perf := r.book.PerformanceMetrics()
	r.alert(events.AlertShutdown, events.SeverityInfo, fmt.Sprintf(
		"chaincrawlr stopped: %d trades, win rate %.1f%%, total pnl %.2f%%, %d positions open",
		perf.Trades, perf.WinRate, perf.TotalPnL, len(r.book.GetOpen())))

	return multierr.Append(err, r.Shutdown())
}

// Shutdown drains the notifier and closes stores, journal and archive.
func (r *Runner) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return r.shutdown.Shutdown(ctx)
}

// onEntry records a confirmed buy in the ledger and the archive.
func (r *Runner) onEntry(ctx context.Context, c domain.Candidate, txRef string) {
	opened, err := r.book.Open(ctx, c, txRef)
	if err != nil {
		r.logger.Error("Bought but failed to record position",
			zap.String("token", domain.ShortAddress(c.TokenAddress)),
			zap.String("chain", c.Chain),
			zap.String("tx", txRef),
			zap.Error(err))
		r.alert(events.AlertPortfolioSync, events.SeverityCritical, fmt.Sprintf(
			"bought %s on %s (%s) but the position was not recorded: %v",
			domain.ShortAddress(c.TokenAddress), c.Chain, txRef, err))
		return
	}
	if !opened {
		r.logger.Debug("Position already held", zap.String("token", domain.ShortAddress(c.TokenAddress)))
		return
	}
	r.saveExecution(ctx, c, txRef)
}

func (r *Runner) saveExecution(ctx context.Context, c domain.Candidate, txRef string) {
	if r.archive == nil {
		return
	}
	e := &models.Execution{
		TokenAddress: c.TokenAddress,
		Chain:        c.Chain,
		Venue:        c.Venue,
		Kind:         models.KindEntry,
		Amount:       r.cfg.Trading.Sniping.AmountIn,
		Status:       "confirmed",
		TxRef:        txRef,
	}
	if err := r.archive.SaveExecution(ctx, e); err != nil {
		r.logger.Warn("Failed to archive entry", zap.String("tx", txRef), zap.Error(err))
	}
}

func (r *Runner) runMarks(ctx context.Context) error {
	ticker := time.NewTicker(orDefault(r.cfg.Trading.Portfolio.MarkInterval, defaultMarkInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.refreshMarks(ctx)
		}
	}
}

// refreshMarks raises high-water marks and trailing stops, then revalues
// the portfolio so the gauge stays current.
func (r *Runner) refreshMarks(ctx context.Context) {
	raised, err := r.book.UpdateMarks(ctx)
	if err != nil {
		r.logger.Warn("Mark update failed", zap.Error(err))
	}
	if raised > 0 {
		r.logger.Debug("Marks raised", zap.Int("positions", raised))
	}
	if _, err := r.book.PortfolioValue(ctx); err != nil {
		r.logger.Debug("Portfolio valuation failed", zap.Error(err))
	}
}

func (r *Runner) runBalanceChecks(ctx context.Context) error {
	if r.cfg.Trading.Sniping.MinBalance <= 0 {
		return nil
	}
	ticker := time.NewTicker(orDefault(r.cfg.Trading.Portfolio.BalanceInterval, defaultBalanceInterval))
	defer ticker.Stop()

	for {
		r.checkBalances(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// checkBalances alerts for every chain whose wallet is below the entry
// minimum and returns how many were.
func (r *Runner) checkBalances(ctx context.Context) int {
	minBalance := r.cfg.Trading.Sniping.MinBalance
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)

	low := 0
	for _, name := range names {
		c := r.chains[name]
		balance, err := c.Client.NativeBalance(ctx, c.Owner)
		if err != nil {
			r.logger.Warn("Balance check failed", zap.String("chain", c.Name()), zap.Error(err))
			continue
		}
		if balance >= minBalance {
			continue
		}
		low++
		r.logger.Warn("Low balance",
			zap.String("chain", c.Name()),
			zap.Float64("balance", balance),
			zap.Float64("min", minBalance))
		r.alert(events.AlertBalanceLow, events.SeverityWarning, fmt.Sprintf(
			"%s balance %.4f %s is below %.4f; entries will be skipped",
			c.Name(), balance, c.Config.NativeCurrency, minBalance))
	}
	return low
}

func (r *Runner) alert(alertType string, severity events.Severity, msg string) {
	if r.notifier == nil {
		return
	}
	note := events.NewSystem(events.SystemAlert{
		Component: "runner",
		AlertType: alertType,
		Severity:  severity,
		Message:   msg,
	})
	if err := r.notifier.Notify(note); err != nil {
		r.logger.Warn("Failed to queue alert", zap.String("type", alertType), zap.Error(err))
	}
}

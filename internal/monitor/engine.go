// internal/monitor/engine.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/events"
	"github.com/rovshanmuradov/chaincrawlr/internal/safety"
	"github.com/rovshanmuradov/chaincrawlr/internal/sniping"
	"github.com/rovshanmuradov/chaincrawlr/internal/utils/metrics"
)

var ErrUnknownChain = errors.New("position on unknown chain")

// Ledger is the part of the position ledger the exit engine drives.
type Ledger interface {
	GetOpen() []domain.Position
	CurrentPrice(ctx context.Context, chain, venue, token string) (float64, error)
	Close(ctx context.Context, token string, exitPrice *float64, txRef string) (bool, error)
}

// Revalidator re-runs the safety checks without cached time-sensitive verdicts.
type Revalidator interface {
	ValidateFresh(ctx context.Context, token string, chain safety.ChainContext) bool
}

// Options wires an Engine.
type Options struct {
	Config config.AutoExitConfig
	// AntiRug enables the safety re-run during rug detection.
	AntiRug          bool
	RugPullThreshold float64
	Chains           sniping.Chains
	Exec             *sniping.Executor
	Ledger           Ledger
	Safety           Revalidator
	// Results memoizes exit and fallback outcomes.
	Results       cache.Store
	Notifier      sniping.Notifier
	Metrics       *metrics.Collector
	HistorySize   int
	AlertCooldown time.Duration
	Now           func() time.Time
}

// Engine polls open positions and exits them when a rule fires.
type Engine struct {
	cfg      config.AutoExitConfig
	antiRug  bool
	rugLimit float64
	chains   sniping.Chains
	exec     *sniping.Executor
	ledger   Ledger
	safety   Revalidator
	results  cache.Store
	notifier sniping.Notifier
	metrics  *metrics.Collector
	history  *exitHistory
	alerts   *alertGate
	now      func() time.Time
	logger   *zap.Logger

	mu         sync.Mutex
	evaluating map[string]struct{}
}

func NewEngine(opts Options, logger *zap.Logger) *Engine {
	cfg := opts.Config
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = config.DefaultMonitorInterval
	}
	if cfg.ErrorCooldown <= 0 {
		cfg.ErrorCooldown = config.DefaultErrorCooldown
	}
	if cfg.MaxSlippage <= 0 {
		cfg.MaxSlippage = 0.05
	}
	if cfg.EmergencySlippage <= 0 {
		cfg.EmergencySlippage = 0.2
	}
	if cfg.GlobalStopLoss == 0 {
		cfg.GlobalStopLoss = config.DefaultGlobalStopLoss
	}
	if cfg.NormalGasMultiplier <= 0 {
		cfg.NormalGasMultiplier = 1.3
	}
	rugLimit := opts.RugPullThreshold
	if rugLimit <= 0 {
		rugLimit = config.DefaultRugPullThreshold
	}
	results := opts.Results
	if results == nil {
		results = cache.NewMemoryStore(config.DefaultCacheTTL)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		cfg:        cfg,
		antiRug:    opts.AntiRug,
		rugLimit:   rugLimit,
		chains:     opts.Chains,
		exec:       opts.Exec,
		ledger:     opts.Ledger,
		safety:     opts.Safety,
		results:    results,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		history:    newExitHistory(opts.HistorySize),
		alerts:     newAlertGate(opts.AlertCooldown),
		now:        now,
		logger:     logger.Named("exit_engine"),
		evaluating: make(map[string]struct{}),
	}
}

// Run evaluates every open position each monitor interval until ctx is
// done. A failing pass is logged and retried after the error cooldown.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Exit monitor started",
		zap.Duration("interval", e.cfg.MonitorInterval),
		zap.Int("strategies", len(e.cfg.Strategies)))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Exit monitor stopped")
			return nil
		case <-timer.C:
		}

		wait := e.cfg.MonitorInterval
		if _, err := e.EvaluateOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("Monitoring pass failed", zap.Error(err))
			if e.alerts.allow(events.AlertLoopError, e.now()) {
				e.notify(events.NewSystem(events.SystemAlert{
					Component: "exit_engine",
					AlertType: events.AlertLoopError,
					Severity:  events.SeverityWarning,
					Message:   err.Error(),
				}))
			}
			wait = e.cfg.ErrorCooldown
		}
		timer.Reset(wait)
	}
}

// EvaluateOnce runs one pass over the open positions and returns how many
// were closed.
func (e *Engine) EvaluateOnce(ctx context.Context) (int, error) {
	var (
		closed int
		errs   error
	)
	for _, pos := range e.ledger.GetOpen() {
		if ctx.Err() != nil {
			return closed, multierr.Append(errs, ctx.Err())
		}
		ok, err := e.Evaluate(ctx, pos)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", domain.ShortAddress(pos.TokenAddress), err))
		}
		if ok {
			closed++
		}
	}
	return closed, errs
}

// Evaluate checks one position and exits it if a rule fires. It reports
// whether the position was closed. A position already under evaluation is
// skipped.
func (e *Engine) Evaluate(ctx context.Context, pos domain.Position) (bool, error) {
	if !e.acquire(pos.TokenAddress) {
		e.logger.Debug("Skipping position under evaluation",
			zap.String("token", domain.ShortAddress(pos.TokenAddress)))
		return false, nil
	}
	defer e.release(pos.TokenAddress)

	chain, ok := e.chains.Get(pos.Chain)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownChain, pos.Chain)
	}

	price, err := e.ledger.CurrentPrice(ctx, pos.Chain, pos.Venue, pos.TokenAddress)
	if err != nil {
		return false, fmt.Errorf("price: %w", err)
	}

	d := e.decide(ctx, chain, &pos, price)
	if !d.Exit() {
		return false, nil
	}
	return e.exit(ctx, chain, pos, price, d)
}

// decide applies, in order: rug detection, the global stop-loss, then the
// configured strategies.
func (e *Engine) decide(ctx context.Context, chain *sniping.Chain, pos *domain.Position, price float64) Decision {
	logger := e.logger.With(
		zap.String("token", domain.ShortAddress(pos.TokenAddress)),
		zap.String("chain", pos.Chain))
	profit := pos.ProfitPercent(price)

	if d, rug := e.detectRug(ctx, chain, pos, price); rug {
		logger.Error("Rug pull detected, exiting in emergency", zap.String("reason", d.Reason))
		return d
	}

	if stopLossHit(profit, e.cfg.GlobalStopLoss) {
		logger.Warn("Stop loss triggered", zap.Float64("profit_pct", profit))
		return Decision{
			Trigger: TriggerStopLoss,
			Reason:  fmt.Sprintf("profit %.2f%% at or below -%.2f%%", profit, e.cfg.GlobalStopLoss),
		}
	}

	if s, ok := matchStrategy(e.cfg.Strategies, pos, price, profit, e.now()); ok {
		logger.Info("Exit strategy triggered",
			zap.String("strategy", strategyName(s)),
			zap.String("type", s.Type),
			zap.Float64("profit_pct", profit))
		return Decision{
			Trigger:  TriggerStrategy,
			Strategy: strategyName(s),
			Reason:   s.Type + " exit",
		}
	}

	logger.Debug("Holding position",
		zap.Float64("price", price),
		zap.Float64("profit_pct", profit))
	return Decision{}
}

func (e *Engine) detectRug(ctx context.Context, chain *sniping.Chain, pos *domain.Position, price float64) (Decision, bool) {
	drop, hit := priceDropHit(pos, price, e.rugLimit)
	reason := ""
	switch {
	case hit:
		reason = fmt.Sprintf("price %.2f%% below high", drop)
	case e.antiRug && e.safety != nil && chain.Kind() == domain.ChainKindEVM:
		if !e.safety.ValidateFresh(ctx, pos.TokenAddress, chain.Safety) {
			reason = "safety checks failed on re-run"
		}
	}
	if reason == "" {
		return Decision{}, false
	}

	if e.alerts.allow(pos.Chain+":"+pos.TokenAddress, e.now()) {
		e.notify(events.NewRisk(events.RiskAlert{
			TokenAddress: pos.TokenAddress,
			Chain:        pos.Chain,
			AlertType:    events.AlertRugPull,
			Severity:     events.SeverityCritical,
			Reason:       reason,
			Indicators: map[string]float64{
				"price_drop_percent": drop,
				"threshold_percent":  e.rugLimit,
				"high_price":         pos.HighPrice,
				"current_price":      price,
			},
		}))
	}
	return Decision{Trigger: TriggerRugPull, Emergency: true, Reason: reason}, true
}

// ExitHistory returns up to limit recent exits, oldest first. limit <= 0
// returns everything kept.
func (e *Engine) ExitHistory(limit int) []ExitRecord {
	return e.history.recent(limit)
}

// Statistics summarizes every exit since start.
func (e *Engine) Statistics() ExitStatistics {
	return e.history.statistics()
}

// Evaluating lists tokens currently under evaluation.
func (e *Engine) Evaluating() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.evaluating))
	for t := range e.evaluating {
		out = append(out, t)
	}
	return out
}

func (e *Engine) acquire(token string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.evaluating[token]; busy {
		return false
	}
	e.evaluating[token] = struct{}{}
	return true
}

func (e *Engine) release(token string) {
	e.mu.Lock()
	delete(e.evaluating, token)
	e.mu.Unlock()
}

func (e *Engine) notify(n events.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(n); err != nil {
		e.logger.Debug("Notification not queued", zap.Error(err))
	}
}

// internal/sniping/sniper.go
package sniping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/dex"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/events"
	"github.com/rovshanmuradov/chaincrawlr/internal/safety"
	"github.com/rovshanmuradov/chaincrawlr/internal/utils/metrics"
)

var (
	ErrSafetyRejected    = errors.New("safety checks failed")
	ErrInsufficientFunds = errors.New("insufficient native balance")
	ErrUnsupportedChain  = errors.New("unsupported chain")
	ErrGasParams         = errors.New("gas parameters unavailable")
)

// SafetyChecker is the part of the safety validator entry needs.
type SafetyChecker interface {
	Report(ctx context.Context, token string, chain safety.ChainContext) []domain.CheckVerdict
}

// Notifier accepts notifications without blocking.
type Notifier interface {
	Notify(n events.Notification) error
}

// Options wires an Orchestrator.
type Options struct {
	Config  config.SnipingConfig
	AntiRug bool
	Chains  Chains
	Exec    *Executor
	Safety  SafetyChecker
	// Results memoizes entry outcomes per (chain, venue, token).
	Results cache.Store
	// Blacklist persists rejected tokens. Nil keeps the blacklist in memory.
	Blacklist cache.Store
	Notifier  Notifier
	Metrics   *metrics.Collector
}

// Orchestrator decides whether and how to buy a candidate token.
type Orchestrator struct {
	cfg       config.SnipingConfig
	antiRug   bool
	chains    Chains
	exec      *Executor
	safety    SafetyChecker
	results   cache.Store
	blacklist *blacklist
	pending   *pendingSet
	notifier  Notifier
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

func NewOrchestrator(opts Options, logger *zap.Logger) *Orchestrator {
	logger = logger.Named("sniper")
	ttl := opts.Config.PendingTTL
	if ttl <= 0 {
		ttl = config.DefaultPendingTTL
	}
	return &Orchestrator{
		cfg:       opts.Config,
		antiRug:   opts.AntiRug,
		chains:    opts.Chains,
		exec:      opts.Exec,
		safety:    opts.Safety,
		results:   opts.Results,
		blacklist: newBlacklist(opts.Blacklist, logger),
		pending:   newPendingSet(ttl),
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Blacklisted reports whether token was rejected earlier.
func (o *Orchestrator) Blacklisted(ctx context.Context, token string) bool {
	return o.blacklist.contains(ctx, token)
}

// Pending returns the in-flight entries and when each started.
func (o *Orchestrator) Pending() map[string]time.Time {
	return o.pending.snapshot()
}

// ClearBlacklist forgets every rejected token.
func (o *Orchestrator) ClearBlacklist(ctx context.Context) {
	o.blacklist.clear(ctx)
	o.metrics.SetBlacklisted(0)
}

// Execute attempts an entry and reports whether the token is held
// afterwards. Errors never escape: every failure becomes false plus a
// memoized result.
func (o *Orchestrator) Execute(ctx context.Context, c domain.Candidate) bool {
	held, _ := o.execute(ctx, c)
	return held
}

// execute returns the fill only when this call dispatched the swap; a
// memoized success reports held with a nil fill.
func (o *Orchestrator) execute(ctx context.Context, c domain.Candidate) (bool, *dex.SwapResult) {
	logger := o.logger.With(
		zap.String("token", domain.ShortAddress(c.TokenAddress)),
		zap.String("chain", c.Chain),
		zap.String("dex", c.Venue))

	chain, ok := o.chains.Get(c.Chain)
	if !ok {
		logger.Error("Unsupported chain")
		o.metrics.RecordEntry(c.Chain, "invalid")
		return false, nil
	}
	if err := domain.ValidateCandidate(chain.Kind(), c); err != nil {
		logger.Warn("Rejecting malformed candidate", zap.Error(err))
		o.metrics.RecordEntry(c.Chain, "invalid")
		return false, nil
	}

	key := cache.SnipeKey(strings.ToLower(c.Chain), strings.ToLower(c.Venue), c.TokenAddress)
	var cached cache.Result
	if found, err := o.results.Get(ctx, key, &cached); err != nil {
		logger.Debug("Entry cache read failed", zap.Error(err))
	} else if found {
		if cached.Succeeded() {
			logger.Info("Cached: entry already succeeded", zap.String("tx_ref", cached.TxRef))
			o.metrics.RecordEntry(c.Chain, "cached")
			return true, nil
		}
		logger.Warn("Cached: entry failed", zap.String("error", cached.Error))
		o.addBlacklist(ctx, c.TokenAddress)
		o.metrics.RecordEntry(c.Chain, "cached")
		return false, nil
	}

	if o.blacklist.contains(ctx, c.TokenAddress) {
		logger.Warn("Skipping blacklisted token")
		o.metrics.RecordEntry(c.Chain, "blacklisted")
		return false, nil
	}

	startedAt := o.now()
	acquired, age, stale := o.pending.acquire(c.TokenAddress, startedAt)
	if !acquired {
		logger.Warn("Entry already in flight", zap.Duration("pending_for", age))
		o.metrics.RecordEntry(c.Chain, "duplicate")
		return false, nil
	}
	if stale {
		logger.Warn("Cleared stale pending entry")
	}
	defer o.pending.release(c.TokenAddress, startedAt)

	logger.Info("Attempting entry")

	var (
		res *dex.SwapResult
		err error
	)
	switch chain.Kind() {
	case domain.ChainKindEVM:
		res, err = o.enterEVM(ctx, chain, c)
	case domain.ChainKindSolana:
		res, err = o.enterSolana(ctx, chain, c)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedChain, chain.Kind())
	}

	if err != nil {
		logger.Error("Entry failed", zap.Error(err))
		o.addBlacklist(ctx, c.TokenAddress)
		o.remember(ctx, key, cache.Result{Status: cache.StatusFailed, Error: err.Error(), At: o.now()})
		o.metrics.RecordEntry(c.Chain, outcome(err))
		return false, nil
	}

	logger.Info("Entry confirmed",
		zap.String("tx_ref", res.TxRef),
		zap.Float64("cost", res.Cost))
	o.remember(ctx, key, cache.Result{Status: cache.StatusSuccess, TxRef: res.TxRef, Cost: res.Cost, At: o.now()})
	o.metrics.RecordEntry(c.Chain, "success")
	o.notify(events.NewTrade(events.TradeSignal{
		TokenAddress: c.TokenAddress,
		Chain:        c.Chain,
		Direction:    events.DirectionBuy,
		Amount:       o.cfg.AmountIn,
		Price:        priceOf(res, o.cfg.AmountIn),
		TxRef:        res.TxRef,
		Notes:        "via " + c.Venue,
	}))
	return true, res
}

// CachedResult returns the memoized outcome of the last entry attempt.
func (o *Orchestrator) CachedResult(ctx context.Context, c domain.Candidate) (cache.Result, bool) {
	var r cache.Result
	key := cache.SnipeKey(strings.ToLower(c.Chain), strings.ToLower(c.Venue), c.TokenAddress)
	found, err := o.results.Get(ctx, key, &r)
	if err != nil {
		return r, false
	}
	return r, found
}

func (o *Orchestrator) enterEVM(ctx context.Context, chain *Chain, c domain.Candidate) (*dex.SwapResult, error) {
	if o.antiRug && o.safety != nil {
		report := o.safety.Report(ctx, c.TokenAddress, chain.Safety)
		if failed := failedChecks(report); len(failed) > 0 {
			o.logger.Error("Rug detected, token rejected",
				zap.String("token", domain.ShortAddress(c.TokenAddress)),
				zap.Strings("failed_checks", failed))
			o.notify(events.NewRisk(events.RiskAlert{
				TokenAddress: c.TokenAddress,
				Chain:        c.Chain,
				AlertType:    events.AlertSafetyRejected,
				Severity:     events.SeverityWarning,
				Reason:       report[len(report)-1].Reason,
				Indicators:   indicators(report),
			}))
			return nil, fmt.Errorf("%w: %s", ErrSafetyRejected, strings.Join(failed, ", "))
		}
	}

	balance, err := chain.Client.NativeBalance(ctx, chain.Owner)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance < o.cfg.MinBalance {
		return nil, fmt.Errorf("%w: %.4f (required %.4f)", ErrInsufficientFunds, balance, o.cfg.MinBalance)
	}

	if chain.Fees == nil {
		return nil, ErrGasParams
	}
	fees, err := chain.Fees.FeeParams(ctx, chain.Config.Gas.Multiplier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGasParams, err)
	}
	o.logger.Debug("Balance and gas ready",
		zap.Float64("balance", balance),
		zap.Stringer("max_fee", fees.MaxFeePerGas),
		zap.Stringer("tip", fees.MaxPriorityFeePerGas))

	req, err := o.buyRequest(chain, c)
	if err != nil {
		return nil, err
	}
	req.Fees = dex.FeeParams{EVM: &fees}
	return o.exec.Swap(ctx, chain, c.Venue, req)
}

func (o *Orchestrator) enterSolana(ctx context.Context, chain *Chain, c domain.Candidate) (*dex.SwapResult, error) {
	req, err := o.buyRequest(chain, c)
	if err != nil {
		return nil, err
	}
	req.Fees = dex.FeeParams{MicroLamports: chain.Config.Gas.PriorityFeeMicroLamports}
	return o.exec.SwapWithFallback(ctx, chain, c.Venue, req)
}

func (o *Orchestrator) buyRequest(chain *Chain, c domain.Candidate) (dex.SwapRequest, error) {
	quote, err := o.exec.Venues().QuoteAsset(chain.Name())
	if err != nil {
		return dex.SwapRequest{}, err
	}
	return dex.SwapRequest{
		TokenIn:  quote,
		TokenOut: c.TokenAddress,
		AmountIn: o.cfg.AmountIn,
		Slippage: o.cfg.MaxSlippage,
	}, nil
}

func (o *Orchestrator) addBlacklist(ctx context.Context, token string) {
	o.blacklist.add(ctx, token)
	o.metrics.SetBlacklisted(o.blacklist.len())
}

func (o *Orchestrator) remember(ctx context.Context, key string, r cache.Result) {
	if err := o.results.Set(ctx, key, r); err != nil {
		o.logger.Warn("Failed to memoize entry result", zap.String("key", key), zap.Error(err))
	}
}

func (o *Orchestrator) notify(n events.Notification) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(n); err != nil {
		o.logger.Debug("Notification not queued", zap.Error(err))
	}
}

// Run executes candidates from in with a fixed pool of workers until in is
// closed or ctx is done. onEntry is called for every successful entry.
func (o *Orchestrator) Run(ctx context.Context, in <-chan domain.Candidate, workers int, onEntry func(context.Context, domain.Candidate, string)) {
	if workers <= 0 {
		workers = 1
		o.logger.Warn("Invalid workers count, using 1 worker")
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.worker(ctx, in, onEntry)
		}()
	}
	wg.Wait()
	o.logger.Info("Entry workers stopped")
}

func (o *Orchestrator) worker(ctx context.Context, in <-chan domain.Candidate, onEntry func(context.Context, domain.Candidate, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			held, fill := o.execute(ctx, c)
			if !held || fill == nil || onEntry == nil {
				continue
			}
			onEntry(ctx, c, fill.TxRef)
		}
	}
}

func failedChecks(report []domain.CheckVerdict) []string {
	var failed []string
	for _, v := range report {
		if !v.Passed {
			failed = append(failed, v.Check)
		}
	}
	return failed
}

func indicators(report []domain.CheckVerdict) map[string]float64 {
	out := make(map[string]float64)
	for _, v := range report {
		if v.Passed || (v.Observed == 0 && v.Threshold == 0) {
			continue
		}
		out[v.Check+"_observed"] = v.Observed
		out[v.Check+"_threshold"] = v.Threshold
	}
	return out
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrSafetyRejected):
		return "rejected"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "failed"
	}
}

// priceOf is the native cost per token implied by a fill.
func priceOf(res *dex.SwapResult, amountIn float64) float64 {
	if res == nil || res.AmountOut <= 0 {
		return 0
	}
	return amountIn / res.AmountOut
}

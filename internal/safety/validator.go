// internal/safety/validator.go
package safety

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/retry"
	"github.com/rovshanmuradov/chaincrawlr/internal/utils/metrics"
)

// Validator runs the ordered battery of token safety checks.
//
// Verdicts for checks on immutable facts are memoized in the stable store.
// Checks on state that can move quickly use the volatile store, which should
// carry a much shorter TTL.
type Validator struct {
	cfg      config.AntiRugConfig
	stable   cache.Store
	volatile cache.Store
	honeypot *HoneypotClient
	explorer *ExplorerClient
	policy   retry.Policy
	checks   map[string]checkFunc
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewValidator builds a validator. volatile may be nil, in which case the
// time-sensitive checks are never cached.
func NewValidator(cfg config.AntiRugConfig, stable, volatile cache.Store, m *metrics.Collector, logger *zap.Logger) *Validator {
	retries := cfg.Retries
	if retries <= 0 {
		retries = config.DefaultCheckRetries
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	if cfg.CredentialPolicy == "" {
		cfg.CredentialPolicy = config.FailOpen
	}

	v := &Validator{
		cfg:      cfg,
		stable:   stable,
		volatile: volatile,
		honeypot: NewHoneypotClient(cfg.HoneypotAPIURL, cfg.HoneypotAPIKey, cfg.RequestTimeout),
		explorer: NewExplorerClient(cfg.ExplorerAPIKey, cfg.RequestTimeout),
		policy:   retry.Fixed(retries, delay),
		metrics:  m,
		logger:   logger.Named("safety"),
	}
	v.checks = map[string]checkFunc{
		CheckVerification:  v.checkVerification,
		CheckHoneypot:      v.checkHoneypot,
		CheckRenounced:     v.checkRenounced,
		CheckDevHolding:    v.checkDevHolding,
		CheckHolderCount:   v.checkHolderCount,
		CheckLiquidityLock: v.checkLiquidityLock,
	}
	return v
}

// Enabled reports whether the named check is switched on.
func (v *Validator) Enabled(check string) bool {
	switch check {
	case CheckVerification:
		return v.cfg.CheckVerification
	case CheckHoneypot:
		return v.cfg.CheckHoneypot
	case CheckRenounced:
		return v.cfg.CheckRenounced
	case CheckDevHolding:
		return v.cfg.CheckDevHolding
	case CheckHolderCount:
		return v.cfg.CheckHolderCount
	case CheckLiquidityLock:
		return v.cfg.CheckLiquidityLock
	}
	return false
}

// Validate returns true when every enabled check passes. Evaluation stops at
// the first failure.
func (v *Validator) Validate(ctx context.Context, token string, chain ChainContext) bool {
	return passed(v.run(ctx, token, chain, false))
}

// ValidateFresh is Validate without reading volatile verdicts from cache.
// Results are still written back.
func (v *Validator) ValidateFresh(ctx context.Context, token string, chain ChainContext) bool {
	return passed(v.run(ctx, token, chain, true))
}

// Report returns the verdict of every check that ran, in order. The last
// element is the failing check when validation failed.
func (v *Validator) Report(ctx context.Context, token string, chain ChainContext) []domain.CheckVerdict {
	return v.run(ctx, token, chain, false)
}

func passed(verdicts []domain.CheckVerdict) bool {
	for _, verdict := range verdicts {
		if !verdict.Passed {
			return false
		}
	}
	return true
}

func (v *Validator) run(ctx context.Context, token string, chain ChainContext, fresh bool) []domain.CheckVerdict {
	logger := v.logger.With(
		zap.String("token", domain.ShortAddress(token)),
		zap.String("chain", chain.Name))

	verdicts := make([]domain.CheckVerdict, 0, len(Order))
	for _, name := range Order {
		if !v.Enabled(name) {
			continue
		}
		verdict := v.evaluate(ctx, name, token, chain, fresh)
		verdicts = append(verdicts, verdict)
		if !verdict.Passed {
			logger.Warn("Safety check failed",
				zap.String("check", name),
				zap.String("reason", verdict.Reason))
			return verdicts
		}
	}
	logger.Info("All safety checks passed", zap.Int("checks", len(verdicts)))
	return verdicts
}

func (v *Validator) storeFor(check string) cache.Store {
	if volatile[check] {
		return v.volatile
	}
	return v.stable
}

func (v *Validator) evaluate(ctx context.Context, name, token string, chain ChainContext, fresh bool) domain.CheckVerdict {
	store := v.storeFor(name)
	key := cache.SafetyKey(name, chain.Name, token)

	if store != nil && !(fresh && volatile[name]) {
		var cached domain.CheckVerdict
		found, err := store.Get(ctx, key, &cached)
		if err != nil {
			v.logger.Debug("Verdict cache read failed", zap.String("key", key), zap.Error(err))
		}
		if found {
			v.logger.Debug("Verdict from cache", zap.String("key", key), zap.Bool("passed", cached.Passed))
			v.metrics.RecordSafetyCheck(name, "cached")
			return cached
		}
	}

	check := v.checks[name]
	verdict, err := retry.Do(ctx, v.policy, func(ctx context.Context, _ int) (domain.CheckVerdict, error) {
		return check(ctx, token, chain)
	},
		retry.WithRetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.WithNotify(func(err error, attempt int, wait time.Duration) {
			v.logger.Debug("Safety check attempt failed",
				zap.String("check", name),
				zap.Int("attempt", attempt+1),
				zap.Duration("retry_in", wait),
				zap.Error(err))
		}))
	if err != nil {
		err = &CheckError{Check: name, Err: err}
		v.logger.Warn("Safety check exhausted retries",
			zap.String("token", domain.ShortAddress(token)),
			zap.Error(err))
		verdict = fail(name, err.Error())
	}

	if store != nil && ctx.Err() == nil {
		if err := store.Set(ctx, key, verdict); err != nil {
			v.logger.Debug("Verdict cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	switch {
	case verdict.Skipped:
		v.metrics.RecordSafetyCheck(name, "skipped")
	case verdict.Passed:
		v.metrics.RecordSafetyCheck(name, "passed")
	default:
		v.metrics.RecordSafetyCheck(name, "failed")
	}
	return verdict
}

// missingCredential applies the configured credential policy.
func (v *Validator) missingCredential(check, token string) domain.CheckVerdict {
	v.logger.Warn("Check has no API key",
		zap.String("check", check),
		zap.String("token", domain.ShortAddress(token)),
		zap.String("policy", string(v.cfg.CredentialPolicy)))
	if v.cfg.CredentialPolicy == config.FailClosed {
		return fail(check, ErrMissingCredential.Error())
	}
	return skip(check, ErrMissingCredential.Error())
}

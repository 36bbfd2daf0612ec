// internal/scanner/scanner.go
package scanner

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/dex"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

const (
	DefaultInterval        = 30 * time.Second
	DefaultMinLiquidityUSD = 10000.0
	DefaultMaxTokenAge     = 60 * time.Minute
)

// Source is the market-data feed. *dex.DexScreener implements it.
type Source interface {
	LatestProfiles(ctx context.Context) ([]dex.TokenProfile, error)
	BestPair(ctx context.Context, chainID, token, dexID, quote string) (*dex.PairInfo, error)
}

type target struct {
	chain string
	kind  domain.ChainKind
	dexes []string
}

// Scanner turns newly listed tokens into entry candidates. Each token is
// offered at most once per process.
type Scanner struct {
	src      Source
	targets  map[string]target
	minLiq   float64
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// New builds a scanner for every chain with a DexScreener id. The id
// defaults to the chain name.
func New(cfg config.ScannerConfig, chains []config.ChainConfig, src Source, logger *zap.Logger) *Scanner {
	s := &Scanner{
		src:      src,
		targets:  make(map[string]target, len(chains)),
		minLiq:   cfg.MinLiquidityUSD,
		maxAge:   cfg.MaxTokenAge,
		interval: cfg.Interval,
		now:      time.Now,
		logger:   logger.Named("scanner"),
		seen:     make(map[string]struct{}),
	}
	if s.minLiq <= 0 {
		s.minLiq = DefaultMinLiquidityUSD
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxTokenAge
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	for _, c := range chains {
		id := c.DexScreenerID
		if id == "" {
			id = strings.ToLower(c.Name)
		}
		s.targets[id] = target{chain: c.Name, kind: c.Kind, dexes: c.Dexes}
	}
	return s
}

// Scan fetches the latest listings once and returns the tokens that pass
// the liquidity and age filters.
func (s *Scanner) Scan(ctx context.Context) ([]domain.Candidate, error) {
	profiles, err := s.src.LatestProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest profiles: %w", err)
	}

	var out []domain.Candidate
	for _, p := range profiles {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		t, ok := s.targets[p.ChainID]
		if !ok || !s.markSeen(p.ChainID, p.TokenAddress) {
			continue
		}
		if err := domain.ValidateAddress(t.kind, p.TokenAddress); err != nil {
			s.logger.Debug("skipping malformed address", zap.String("token", p.TokenAddress))
			continue
		}

		pair, err := s.src.BestPair(ctx, p.ChainID, p.TokenAddress, "", "")
		if err != nil {
			// Not seen after all: the pair may appear on a later poll.
			s.forget(p.ChainID, p.TokenAddress)
			s.logger.Debug("no pair yet",
				zap.String("token", domain.ShortAddress(p.TokenAddress)),
				zap.String("chain", t.chain),
				zap.Error(err))
			continue
		}

		c, reason := s.candidate(t, p.TokenAddress, pair)
		if reason != "" {
			s.logger.Debug("filtered",
				zap.String("token", domain.ShortAddress(p.TokenAddress)),
				zap.String("chain", t.chain),
				zap.String("reason", reason))
			continue
		}
		s.logger.Info("new candidate",
			zap.String("token", domain.ShortAddress(c.TokenAddress)),
			zap.String("chain", c.Chain),
			zap.String("dex", c.Venue),
			zap.Float64("liquidity_usd", c.LiquidityUSD),
			zap.Duration("age", c.Age))
		out = append(out, c)
	}
	return out, nil
}

func (s *Scanner) candidate(t target, token string, pair *dex.PairInfo) (domain.Candidate, string) {
	if pair.Liquidity.USD < s.minLiq {
		return domain.Candidate{}, fmt.Sprintf("liquidity %.0f below %.0f", pair.Liquidity.USD, s.minLiq)
	}
	age := pair.Age(s.now())
	if age <= 0 {
		return domain.Candidate{}, "unknown pair age"
	}
	if age > s.maxAge {
		return domain.Candidate{}, fmt.Sprintf("age %s above %s", age.Round(time.Second), s.maxAge)
	}

	venue := matchVenue(t.dexes, pair.DexID)
	if venue == "" {
		return domain.Candidate{}, "no configured venue"
	}
	c := domain.Candidate{
		TokenAddress: token,
		Chain:        t.chain,
		Venue:        venue,
		LiquidityUSD: pair.Liquidity.USD,
		Age:          age,
		PairAddress:  pair.PairAddress,
	}
	if h1 := pair.PriceChange.H1; h1 != 0 {
		vol := math.Abs(h1) / 100
		c.Volatility = &vol
	}
	return c, ""
}

// matchVenue maps a DexScreener dex id onto a configured venue name. An
// unknown id falls back to the first configured venue.
func matchVenue(dexes []string, dexID string) string {
	if len(dexes) == 0 {
		return ""
	}
	id := strings.ToLower(dexID)
	for _, d := range dexes {
		name := strings.ToLower(d)
		if id != "" && (strings.HasPrefix(name, id) || strings.HasPrefix(id, name)) {
			return d
		}
	}
	return dexes[0]
}

// Run scans every interval and sends candidates to out until ctx is done.
// Scan failures are logged and retried on the next tick.
func (s *Scanner) Run(ctx context.Context, out chan<- domain.Candidate) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Scanner started",
		zap.Duration("interval", s.interval),
		zap.Float64("min_liquidity_usd", s.minLiq),
		zap.Duration("max_token_age", s.maxAge))

	for {
		candidates, err := s.Scan(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("Scan failed", zap.Error(err))
		}
		for _, c := range candidates {
			select {
			case out <- c:
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Scanner stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scanner) markSeen(chainID, token string) bool {
	key := chainID + ":" + token
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *Scanner) forget(chainID, token string) {
	s.mu.Lock()
	delete(s.seen, chainID+":"+token)
	s.mu.Unlock()
}

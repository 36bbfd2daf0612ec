// internal/sniping/executor.go
package sniping

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	solrpc "github.com/rovshanmuradov/chaincrawlr/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/chaincrawlr/internal/dex"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/retry"
	"github.com/rovshanmuradov/chaincrawlr/internal/utils/metrics"
)

// Executor dispatches swaps to venues. It is shared by entries and exits.
type Executor struct {
	venues  *dex.Registry
	rpc     retry.Policy
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewExecutor builds an executor. rpc bounds the retry loop across Solana
// endpoints after an RPC-level failure.
func NewExecutor(venues *dex.Registry, rpc retry.Policy, m *metrics.Collector, logger *zap.Logger) *Executor {
	return &Executor{
		venues:  venues,
		rpc:     rpc,
		metrics: m,
		logger:  logger.Named("executor"),
	}
}

// Venues exposes the registry the executor dispatches to.
func (e *Executor) Venues() *dex.Registry {
	return e.venues
}

// Swap runs req on the named venue.
func (e *Executor) Swap(ctx context.Context, chain *Chain, venue string, req dex.SwapRequest) (*dex.SwapResult, error) {
	v, err := e.venues.Venue(chain.Name(), venue)
	if err != nil {
		return nil, err
	}
	return e.swapOn(ctx, chain, v, req)
}

// SwapAggregator runs req on the chain aggregator.
func (e *Executor) SwapAggregator(ctx context.Context, chain *Chain, req dex.SwapRequest) (*dex.SwapResult, error) {
	agg, err := e.venues.Aggregator(chain.Name())
	if err != nil {
		return nil, err
	}
	return e.swapOn(ctx, chain, agg, req)
}

// SwapWithFallback tries the named venue and then the chain aggregator.
func (e *Executor) SwapWithFallback(ctx context.Context, chain *Chain, venue string, req dex.SwapRequest) (*dex.SwapResult, error) {
	primary, err := e.venues.Venue(chain.Name(), venue)
	var res *dex.SwapResult
	if err == nil {
		res, err = e.swapOn(ctx, chain, primary, req)
		if err == nil {
			return res, nil
		}
	}

	agg, aggErr := e.venues.Aggregator(chain.Name())
	if aggErr != nil || agg == primary {
		return res, err
	}

	e.logger.Warn("Venue failed, trying aggregator",
		zap.String("chain", chain.Name()),
		zap.String("venue", venue),
		zap.String("aggregator", agg.Name()),
		zap.String("token", domain.ShortAddress(req.TokenOut)),
		zap.Error(err))

	res, aggErr = e.swapOn(ctx, chain, agg, req)
	if aggErr != nil {
		return res, multierr.Combine(err, aggErr)
	}
	return res, nil
}

// swapOn executes on v. On chains with an endpoint list, RPC-level failures
// are retried with the node picked by attempt index.
func (e *Executor) swapOn(ctx context.Context, chain *Chain, v dex.Venue, req dex.SwapRequest) (*dex.SwapResult, error) {
	if chain.Endpoints == nil {
		return e.timed(ctx, chain, v, req)
	}

	return retry.Do(ctx, e.rpc, func(ctx context.Context, attempt int) (*dex.SwapResult, error) {
		req.Endpoint = chain.Endpoints.At(attempt)
		start := time.Now()
		res, err := e.timed(ctx, chain, v, req)
		chain.Endpoints.Observe(req.Endpoint, time.Since(start), err)
		return res, err
	},
		retry.WithRetryIf(solrpc.IsRPCError),
		retry.WithNotify(func(err error, attempt int, wait time.Duration) {
			e.logger.Warn("RPC failure during swap, rotating endpoint",
				zap.String("chain", chain.Name()),
				zap.String("venue", v.Name()),
				zap.Int("attempt", attempt+1),
				zap.Duration("retry_in", wait),
				zap.Error(err))
		}))
}

func (e *Executor) timed(ctx context.Context, chain *Chain, v dex.Venue, req dex.SwapRequest) (*dex.SwapResult, error) {
	start := time.Now()
	res, err := v.Swap(ctx, req)
	e.metrics.RecordSwap(chain.Name(), v.Name(), time.Since(start))
	if err != nil {
		return res, err
	}
	if !res.Confirmed() {
		status := "none"
		if res != nil {
			status = res.Status
		}
		return res, fmt.Errorf("%w: status %s", dex.ErrSwapFailed, status)
	}
	return res, nil
}

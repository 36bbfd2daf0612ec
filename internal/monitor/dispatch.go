// internal/monitor/dispatch.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
	"github.com/rovshanmuradov/chaincrawlr/internal/dex"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/events"
	"github.com/rovshanmuradov/chaincrawlr/internal/sniping"
)

var ErrNoFallbackWallet = errors.New("no fallback wallet configured")

// emergencyFeeFactor scales the Solana priority fee for emergency exits.
const emergencyFeeFactor = 5

// exitMemo is the memoized outcome of an exit or fallback transfer.
type exitMemo struct {
	Status    string    `json:"status"`
	Kind      string    `json:"kind,omitempty"`
	TxRef     string    `json:"tx_ref,omitempty"`
	ExitPrice float64   `json:"exit_price,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func (m exitMemo) succeeded() bool {
	return m.Status == cache.StatusSuccess
}

// exit sells the position and closes it in the ledger. Outcomes are
// memoized per (chain, token, amount): a memoized success is replayed into
// the ledger without selling again, and a memoized failure holds off
// ordinary exits until it expires. Emergency exits always retry and fall
// back to a wallet transfer when the sale fails.
func (e *Engine) exit(ctx context.Context, chain *sniping.Chain, pos domain.Position, price float64, d Decision) (bool, error) {
	logger := e.logger.With(
		zap.String("token", domain.ShortAddress(pos.TokenAddress)),
		zap.String("chain", pos.Chain),
		zap.String("kind", d.Kind()))
	key := cache.ExitKey(pos.Chain, pos.TokenAddress, pos.Amount)

	var memo exitMemo
	found, err := e.results.Get(ctx, key, &memo)
	if err != nil {
		logger.Warn("Exit memo unavailable", zap.Error(err))
	}
	if found {
		if memo.succeeded() {
			logger.Info("Replaying memoized exit", zap.String("tx_ref", memo.TxRef))
			return e.settle(ctx, pos, d, memo.Kind, memo.ExitPrice, memo.TxRef)
		}
		if !d.Emergency {
			logger.Warn("Memoized exit failure, skipping this cycle", zap.String("error", memo.Error))
			return false, nil
		}
	}

	logger.Info("Initiating exit", zap.String("reason", d.Reason))
	res, err := e.sell(ctx, chain, pos, d.Emergency)
	if err != nil {
		e.remember(ctx, key, exitMemo{Status: cache.StatusFailed, Kind: d.Kind(), Error: err.Error(), At: e.now()})
		e.metrics.RecordExit(pos.Chain, d.Kind(), false)
		logger.Error("Exit failed", zap.Error(err))
		e.notify(events.NewSystem(events.SystemAlert{
			Component: "exit_engine",
			AlertType: events.AlertExitFailed,
			Severity:  events.SeverityWarning,
			Message:   fmt.Sprintf("%s exit of %s on %s failed: %v", d.Kind(), domain.ShortAddress(pos.TokenAddress), pos.Chain, err),
		}))
		if d.Emergency {
			return e.fallback(ctx, chain, pos, price, d, err)
		}
		return false, err
	}

	exitPrice := price
	if res.AmountOut > 0 && pos.Amount > 0 {
		exitPrice = res.AmountOut / pos.Amount
	}
	e.remember(ctx, key, exitMemo{Status: cache.StatusSuccess, Kind: d.Kind(), TxRef: res.TxRef, ExitPrice: exitPrice, At: e.now()})
	e.metrics.RecordExit(pos.Chain, d.Kind(), true)
	return e.settle(ctx, pos, d, d.Kind(), exitPrice, res.TxRef)
}

// sell dispatches the swap back to the chain's quote asset.
func (e *Engine) sell(ctx context.Context, chain *sniping.Chain, pos domain.Position, emergency bool) (*dex.SwapResult, error) {
	quote, err := e.exec.Venues().QuoteAsset(chain.Name())
	if err != nil {
		return nil, err
	}
	req := dex.SwapRequest{
		TokenIn:  pos.TokenAddress,
		TokenOut: quote,
		AmountIn: pos.Amount,
		Slippage: e.cfg.MaxSlippage,
	}
	if emergency {
		req.Slippage = e.cfg.EmergencySlippage
	}

	switch chain.Kind() {
	case domain.ChainKindEVM:
		if chain.Fees == nil {
			return nil, sniping.ErrGasParams
		}
		if emergency {
			fees := chain.Fees.EmergencyFees()
			req.Fees = dex.FeeParams{EVM: &fees}
		} else {
			fees, err := chain.Fees.FeeParams(ctx, e.cfg.NormalGasMultiplier)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", sniping.ErrGasParams, err)
			}
			req.Fees = dex.FeeParams{EVM: &fees}
		}
		return e.exec.Swap(ctx, chain, pos.Venue, req)

	case domain.ChainKindSolana:
		micro := chain.Config.Gas.PriorityFeeMicroLamports
		if emergency {
			micro *= emergencyFeeFactor
		}
		req.Fees = dex.FeeParams{MicroLamports: micro}
		if emergency || e.isAggregator(chain, pos.Venue) {
			return e.exec.SwapAggregator(ctx, chain, req)
		}
		return e.exec.SwapWithFallback(ctx, chain, pos.Venue, req)
	}
	return nil, fmt.Errorf("%w: %s", sniping.ErrUnsupportedChain, chain.Kind())
}

func (e *Engine) isAggregator(chain *sniping.Chain, venue string) bool {
	agg, err := e.exec.Venues().Aggregator(chain.Name())
	return err == nil && strings.EqualFold(agg.Name(), venue)
}

// fallback moves the tokens to the fallback wallet after a failed emergency
// sale. The position is then closed at the last observed price.
func (e *Engine) fallback(ctx context.Context, chain *sniping.Chain, pos domain.Position, price float64, d Decision, cause error) (bool, error) {
	logger := e.logger.With(
		zap.String("token", domain.ShortAddress(pos.TokenAddress)),
		zap.String("chain", pos.Chain))

	if chain.Fallback == "" || chain.Client == nil {
		logger.Error("Emergency sale failed and no fallback wallet is configured")
		return false, fmt.Errorf("%w: %v", ErrNoFallbackWallet, cause)
	}

	key := cache.FallbackExitKey(pos.Chain, pos.TokenAddress, pos.Amount)
	var memo exitMemo
	if found, err := e.results.Get(ctx, key, &memo); err == nil && found && memo.succeeded() {
		logger.Info("Replaying memoized fallback transfer", zap.String("tx_ref", memo.TxRef))
		return e.settle(ctx, pos, d, ExitFallback, memo.ExitPrice, memo.TxRef)
	}

	logger.Error("Attempting fallback transfer",
		zap.String("recipient", domain.ShortAddress(chain.Fallback)),
		zap.Float64("amount", pos.Amount))

	txRef, err := chain.Client.TransferToken(ctx, pos.TokenAddress, chain.Fallback, pos.Amount, true)
	if err != nil {
		e.remember(ctx, key, exitMemo{Status: cache.StatusFailed, Kind: ExitFallback, Error: err.Error(), At: e.now()})
		e.metrics.RecordExit(pos.Chain, ExitFallback, false)
		logger.Error("Fallback transfer failed", zap.Error(err))
		e.notify(events.NewSystem(events.SystemAlert{
			Component: "exit_engine",
			AlertType: events.AlertExitFailed,
			Severity:  events.SeverityCritical,
			Message:   fmt.Sprintf("fallback transfer of %s on %s failed: %v", domain.ShortAddress(pos.TokenAddress), pos.Chain, err),
		}))
		return false, fmt.Errorf("fallback transfer: %w", err)
	}

	e.remember(ctx, key, exitMemo{Status: cache.StatusSuccess, Kind: ExitFallback, TxRef: txRef, ExitPrice: price, At: e.now()})
	e.metrics.RecordExit(pos.Chain, ExitFallback, true)
	e.notify(events.NewRisk(events.RiskAlert{
		TokenAddress: pos.TokenAddress,
		Chain:        pos.Chain,
		AlertType:    events.AlertFallbackExit,
		Severity:     events.SeverityCritical,
		Reason:       "tokens moved to fallback wallet " + domain.ShortAddress(chain.Fallback),
		Indicators:   map[string]float64{"amount": pos.Amount, "current_price": price},
	}))
	return e.settle(ctx, pos, d, ExitFallback, price, txRef)
}

// settle closes the position in the ledger. A ledger failure leaves the
// memo in place so the next cycle replays it.
func (e *Engine) settle(ctx context.Context, pos domain.Position, d Decision, kind string, exitPrice float64, txRef string) (bool, error) {
	if kind == "" {
		kind = d.Kind()
	}
	ok, err := e.ledger.Close(ctx, pos.TokenAddress, &exitPrice, txRef)
	if err != nil {
		return false, fmt.Errorf("ledger close: %w", err)
	}
	if !ok {
		return false, nil
	}

	profit := pos.ProfitPercent(exitPrice)
	e.history.add(ExitRecord{
		Token:     pos.TokenAddress,
		Chain:     pos.Chain,
		Kind:      kind,
		Trigger:   d.Trigger,
		Reason:    d.Reason,
		Amount:    pos.Amount,
		ExitPrice: exitPrice,
		Profit:    profit,
		TxRef:     txRef,
		Time:      e.now(),
	})
	e.logger.Info("Exit complete",
		zap.String("token", domain.ShortAddress(pos.TokenAddress)),
		zap.String("chain", pos.Chain),
		zap.String("kind", kind),
		zap.Float64("profit_pct", profit),
		zap.String("tx_ref", txRef))

	note := string(d.Trigger)
	if d.Strategy != "" {
		note += " (" + d.Strategy + ")"
	}
	e.notify(events.NewTrade(events.TradeSignal{
		TokenAddress: pos.TokenAddress,
		Chain:        pos.Chain,
		Direction:    events.DirectionSell,
		Amount:       pos.Amount,
		Price:        exitPrice,
		TxRef:        txRef,
		Notes:        note,
	}))
	return true, nil
}

func (e *Engine) remember(ctx context.Context, key string, m exitMemo) {
	if err := e.results.Set(ctx, key, m); err != nil {
		e.logger.Warn("Failed to memoize exit result", zap.String("key", key), zap.Error(err))
	}
}

package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/dex"
	"github.com/rovshanmuradov/chaincrawlr/internal/events"
)

func TestTrailingStrategyNeedsFloorAboveStoredStop(t *testing.T) {
	h := newHarness(t, trailingConfig())
	ctx := context.Background()
	h.open(t, "ethereum", "uniswapv3", evmToken, 1.00)

	h.prices.set(evmToken, 1.50)
	_, err := h.ledger.UpdateMarks(ctx)
	require.NoError(t, err)
	pos, _ := h.ledger.Get(evmToken)
	require.InDelta(t, 1.35, pos.TrailingStop, 1e-12)

	// Floor 1.30 * 0.9 = 1.17 sits below the 1.35 stop.
	h.prices.set(evmToken, 1.30)
	closed, err := h.engine.EvaluateOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.Empty(t, h.uniswap.calls())

	// Floor 1.60 * 0.9 = 1.44 rises above it.
	h.prices.set(evmToken, 1.60)
	closed, err = h.engine.EvaluateOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	calls := h.uniswap.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, evmToken, calls[0].TokenIn)
	assert.Equal(t, weth, calls[0].TokenOut)
	assert.Equal(t, 100.0, calls[0].AmountIn)
	assert.Equal(t, 0.05, calls[0].Slippage)
	require.NotNil(t, calls[0].Fees.EVM)
	assert.Equal(t, int64(15e9), calls[0].Fees.EVM.MaxFeePerGas.Int64())

	_, open := h.ledger.Get(evmToken)
	assert.False(t, open)
	hist := h.engine.ExitHistory(0)
	require.Len(t, hist, 1)
	assert.Equal(t, TriggerStrategy, hist[0].Trigger)
	assert.Equal(t, ExitNormal, hist[0].Kind)
	assert.InDelta(t, 60.0, hist[0].Profit, 1e-9)

	sells := h.notifier.sells()
	require.Len(t, sells, 1)
	assert.Equal(t, "uniswapv3-sell", sells[0].TxRef)
}

func TestStopLossFiresBeforeStrategies(t *testing.T) {
	cfg := config.AutoExitConfig{
		GlobalStopLoss: 10,
		Strategies: []config.StrategyConfig{
			{Name: "anything", Type: StrategyPercentage, Target: -100},
		},
	}
	h := newHarness(t, cfg)
	h.open(t, "ethereum", "uniswapv3", evmToken, 1.00)

	h.prices.set(evmToken, 0.85)
	closed, err := h.engine.EvaluateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	hist := h.engine.ExitHistory(0)
	require.Len(t, hist, 1)
	assert.Equal(t, TriggerStopLoss, hist[0].Trigger)
	assert.Equal(t, ExitNormal, hist[0].Kind)
	assert.InDelta(t, -15.0, hist[0].Profit, 1e-9)
	assert.Empty(t, h.notifier.risks())
}

func TestRugPullTriggersEmergencyExit(t *testing.T) {
	cfg := config.AutoExitConfig{
		GlobalStopLoss: 10,
		Strategies: []config.StrategyConfig{
			{Name: "take profit", Type: StrategyPercentage, Target: 50},
		},
	}
	h := newHarness(t, cfg)
	h.open(t, "ethereum", "uniswapv3", evmToken, 1.00)

	// (1.00 / 0.40 - 1) * 100 = 150% drop from the high.
	h.prices.set(evmToken, 0.40)
	closed, err := h.engine.EvaluateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	calls := h.uniswap.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 0.2, calls[0].Slippage)
	assert.Equal(t, int64(200e9), calls[0].Fees.EVM.MaxFeePerGas.Int64())
	assert.Equal(t, int64(5e9), calls[0].Fees.EVM.MaxPriorityFeePerGas.Int64())

	hist := h.engine.ExitHistory(0)
	require.Len(t, hist, 1)
	assert.Equal(t, TriggerRugPull, hist[0].Trigger)
	assert.Equal(t, ExitEmergency, hist[0].Kind)
	assert.Equal(t, []string{events.AlertRugPull}, h.notifier.risks())
	// The price drop decides before the safety re-run is needed.
	assert.Zero(t, h.safety.calls)
}

func TestFailedSafetyRerunTriggersEmergencyExit(t *testing.T) {
	h := newHarness(t, trailingConfig())
	h.open(t, "ethereum", "uniswapv3", evmToken, 1.00)
	h.safety.pass = false

	closed, err := h.engine.EvaluateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1, h.safety.calls)

	hist := h.engine.ExitHistory(0)
	require.Len(t, hist, 1)
	assert.Equal(t, ExitEmergency, hist[0].Kind)
	assert.Equal(t, "safety checks failed on re-run", hist[0].Reason)
}

func TestEmergencySaleFailureFallsBackToTransfer(t *testing.T) {
	h := newHarness(t, trailingConfig())
	h.open(t, "ethereum", "uniswapv3", evmToken, 1.00)
	h.uniswap.err = dex.ErrSwapFailed

	h.prices.set(evmToken, 0.30)
	closed, err := h.engine.EvaluateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	assert.Equal(t, []string{evmToken + "->" + evmVault}, h.evmClient.transfers)
	hist := h.engine.ExitHistory(0)
	require.Len(t, hist, 1)
	assert.Equal(t, ExitFallback, hist[0].Kind)
	assert.Equal(t, "transfer-tx", hist[0].TxRef)
	assert.Equal(t, []string{events.AlertRugPull, events.AlertFallbackExit}, h.notifier.risks())

	trades := h.ledger.History()
	require.Len(t, trades, 1)
	assert.Equal(t, 0.30, trades[0].ExitPrice)
}

func TestFallbackFailureLeavesPositionOpen(t *testing.T) {
	h := newHarness(t, trailingConfig())
	h.open(t, "ethereum", "uniswapv3", evmToken, 1.00)
	h.uniswap.err = dex.ErrSwapFailed
	h.evmClient.err = errBoom

	h.prices.set(evmToken, 0.30)
	closed, err := h.engine.EvaluateOnce(context.Background())
	require.Error(t, err)
	assert.Zero(t, closed)

	_, open := h.ledger.Get(evmToken)
	assert.True(t, open)
	assert.Empty(t, h.engine.ExitHistory(0))
}

func TestFailedNormalExitIsMemoizedAndHeldOff(t *testing.T) {
	h := newHarness(t, trailingConfig())
	ctx := context.Background()
	h.open(t, "ethereum", "uniswapv3", evmToken, 1.00)
	h.uniswap.err = dex.ErrSwapFailed

	h.prices.set(evmToken, 0.85)
	closed, err := h.engine.EvaluateOnce(ctx)
	require.ErrorIs(t, err, dex.ErrSwapFailed)
	assert.Zero(t, closed)
	_, open := h.ledger.Get(evmToken)
	assert.True(t, open)

	var memo exitMemo
	found, err := h.results.Get(ctx, cache.ExitKey("ethereum", evmToken, 100), &memo)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, cache.StatusFailed, memo.Status)

	// The memoized failure holds the next ordinary attempt.
	h.uniswap.err = nil
	closed, err = h.engine.EvaluateOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.Len(t, h.uniswap.calls(), 1)

	// Once it expires the exit goes through.
	require.NoError(t, h.results.Delete(ctx, cache.ExitKey("ethereum", evmToken, 100)))
	closed, err = h.engine.EvaluateOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
}

func TestMemoizedExitIsReplayedWithoutSelling(t *testing.T) {
	h := newHarness(t, trailingConfig())
	ctx := context.Background()
	h.open(t, "ethereum", "uniswapv3", evmToken, 1.00)

	require.NoError(t, h.results.Set(ctx, cache.ExitKey("ethereum", evmToken, 100), exitMemo{
		Status:    cache.StatusSuccess,
		Kind:      ExitNormal,
		TxRef:     "earlier-tx",
		ExitPrice: 0.8,
	}))

	h.prices.set(evmToken, 0.85)
	closed, err := h.engine.EvaluateOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Empty(t, h.uniswap.calls())

	trades := h.ledger.History()
	require.Len(t, trades, 1)
	assert.Equal(t, "earlier-tx", trades[0].TxRef)
	assert.Equal(t, 0.8, trades[0].ExitPrice)
}

func TestSolanaExitFallsBackToAggregator(t *testing.T) {
	h := newHarness(t, trailingConfig())
	h.open(t, "solana", "raydium", solToken, 1.00)
	h.raydium.err = dex.ErrSwapFailed

	h.prices.set(solToken, 0.85)
	closed, err := h.engine.EvaluateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	assert.Len(t, h.raydium.calls(), 1)
	calls := h.jupiter.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, wsol, calls[0].TokenOut)
	assert.Equal(t, uint64(1000), calls[0].Fees.MicroLamports)
	assert.Equal(t, "jupiter-sell", h.engine.ExitHistory(0)[0].TxRef)
}

func TestSolanaEmergencyGoesStraightToAggregator(t *testing.T) {
	h := newHarness(t, trailingConfig())
	h.open(t, "solana", "raydium", solToken, 1.00)

	h.prices.set(solToken, 0.40)
	closed, err := h.engine.EvaluateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	assert.Empty(t, h.raydium.calls())
	calls := h.jupiter.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 0.2, calls[0].Slippage)
	assert.Equal(t, uint64(5000), calls[0].Fees.MicroLamports)
	// Safety re-runs are EVM only.
	assert.Zero(t, h.safety.calls)
}

func TestHoldsWhenNothingFires(t *testing.T) {
	h := newHarness(t, trailingConfig())
	h.open(t, "ethereum", "uniswapv3", evmToken, 1.00)
	pos, _ := h.ledger.Get(evmToken)
	require.Zero(t, pos.TrailingStop, "stop is armed by the first raised mark, not at open")

	h.prices.set(evmToken, 1.05)
	closed, err := h.engine.EvaluateOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.Empty(t, h.uniswap.calls())
	assert.Empty(t, h.notifier.sells())
}

func TestFirstMarkArmsTrailingStop(t *testing.T) {
	h := newHarness(t, trailingConfig())
	ctx := context.Background()
	h.open(t, "ethereum", "uniswapv3", evmToken, 1.00)

	h.prices.set(evmToken, 1.05)
	raised, err := h.ledger.UpdateMarks(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, raised)
	pos, _ := h.ledger.Get(evmToken)
	require.InDelta(t, 0.945, pos.TrailingStop, 1e-12)

	// Same price: floor equals the stop, so nothing fires.
	closed, err := h.engine.EvaluateOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.Empty(t, h.uniswap.calls())
}

func TestPositionUnderEvaluationIsSkipped(t *testing.T) {
	h := newHarness(t, trailingConfig())
	pos := h.open(t, "ethereum", "uniswapv3", evmToken, 1.00)
	h.prices.set(evmToken, 0.10)

	require.True(t, h.engine.acquire(evmToken))
	assert.Equal(t, []string{evmToken}, h.engine.Evaluating())
	before := h.prices.calls

	ok, err := h.engine.Evaluate(context.Background(), pos)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, h.prices.calls)

	h.engine.release(evmToken)
	ok, err = h.engine.Evaluate(context.Background(), pos)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, h.engine.Evaluating())
}

func TestRunExitsAndStopsOnCancel(t *testing.T) {
	cfg := config.AutoExitConfig{
		MonitorInterval: 5 * time.Millisecond,
		Strategies: []config.StrategyConfig{
			{Type: StrategyPercentage, Target: 20},
		},
	}
	h := newHarness(t, cfg)
	h.open(t, "ethereum", "uniswapv3", evmToken, 1.00)
	h.prices.set(evmToken, 1.25)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(h.engine.ExitHistory(0)) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.Equal(t, 1, h.engine.Statistics().Normal)
}

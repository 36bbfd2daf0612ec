package monitor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/blockchain/evm"
	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/dex"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/events"
	"github.com/rovshanmuradov/chaincrawlr/internal/portfolio"
	"github.com/rovshanmuradov/chaincrawlr/internal/retry"
	"github.com/rovshanmuradov/chaincrawlr/internal/safety"
	"github.com/rovshanmuradov/chaincrawlr/internal/sniping"
)

const (
	evmToken = "0x1111111111111111111111111111111111111111"
	weth     = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	solToken = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"
	wsol     = "So11111111111111111111111111111111111111112"
	evmVault = "0x9999999999999999999999999999999999999999"
)

var errBoom = errors.New("boom")

type fakeVenue struct {
	name string
	mu   sync.Mutex
	reqs []dex.SwapRequest
	err  error
}

func (v *fakeVenue) Name() string { return v.name }

func (v *fakeVenue) Quote(context.Context, string, string, float64) (float64, error) {
	return 0, dex.ErrUnsupported
}

func (v *fakeVenue) Swap(_ context.Context, req dex.SwapRequest) (*dex.SwapResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reqs = append(v.reqs, req)
	if v.err != nil {
		return &dex.SwapResult{Status: dex.StatusFailed}, v.err
	}
	return &dex.SwapResult{Status: dex.StatusConfirmed, TxRef: v.name + "-sell"}, nil
}

func (v *fakeVenue) PoolLiquidity(context.Context, string, string) (float64, error) {
	return 0, dex.ErrUnsupported
}

func (v *fakeVenue) calls() []dex.SwapRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]dex.SwapRequest(nil), v.reqs...)
}

type fakeClient struct {
	kind      domain.ChainKind
	mu        sync.Mutex
	transfers []string
	err       error
}

func (c *fakeClient) Kind() domain.ChainKind { return c.kind }

func (c *fakeClient) NativeBalance(context.Context, string) (float64, error) { return 1, nil }

func (c *fakeClient) TransferToken(_ context.Context, token, recipient string, _ float64, urgent bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	if !urgent {
		return "", errors.New("fallback transfer must be urgent")
	}
	c.transfers = append(c.transfers, token+"->"+recipient)
	return "transfer-tx", nil
}

type fakeFees struct{}

func (fakeFees) FeeParams(context.Context, float64) (evm.Fees, error) {
	return evm.Fees{MaxFeePerGas: big.NewInt(15e9), MaxPriorityFeePerGas: big.NewInt(2e9)}, nil
}

func (fakeFees) EmergencyFees() evm.Fees {
	return evm.Fees{MaxFeePerGas: big.NewInt(200e9), MaxPriorityFeePerGas: big.NewInt(5e9)}
}

type fakeRevalidator struct {
	mu    sync.Mutex
	pass  bool
	calls int
}

func (r *fakeRevalidator) ValidateFresh(context.Context, string, safety.ChainContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.pass
}

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  int
}

func (p *fakePrices) set(token string, price float64) {
	p.mu.Lock()
	p.prices[token] = price
	p.mu.Unlock()
}

func (p *fakePrices) Price(_ context.Context, _, _, token string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	price, ok := p.prices[token]
	if !ok {
		return 0, errors.New("no quote")
	}
	return price, nil
}

type fakeNotifier struct {
	mu  sync.Mutex
	got []events.Notification
}

func (n *fakeNotifier) Notify(note events.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, note)
	return nil
}

func (n *fakeNotifier) risks() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, note := range n.got {
		if note.Kind == events.KindRisk {
			out = append(out, note.Risk.AlertType)
		}
	}
	return out
}

func (n *fakeNotifier) sells() []events.TradeSignal {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []events.TradeSignal
	for _, note := range n.got {
		if note.Kind == events.KindTrade && note.Trade.Direction == events.DirectionSell {
			out = append(out, *note.Trade)
		}
	}
	return out
}

type harness struct {
	engine    *Engine
	ledger    *portfolio.Ledger
	prices    *fakePrices
	uniswap   *fakeVenue
	raydium   *fakeVenue
	jupiter   *fakeVenue
	evmClient *fakeClient
	solClient *fakeClient
	safety    *fakeRevalidator
	notifier  *fakeNotifier
	results   *cache.MemoryStore
	now       time.Time
}

func newHarness(t *testing.T, cfg config.AutoExitConfig) *harness {
	t.Helper()
	logger := zap.NewNop()

	h := &harness{
		prices:    &fakePrices{prices: map[string]float64{}},
		uniswap:   &fakeVenue{name: "uniswapv3"},
		raydium:   &fakeVenue{name: "raydium"},
		jupiter:   &fakeVenue{name: "jupiter"},
		evmClient: &fakeClient{kind: domain.ChainKindEVM},
		solClient: &fakeClient{kind: domain.ChainKindSolana},
		safety:    &fakeRevalidator{pass: true},
		notifier:  &fakeNotifier{},
		results:   cache.NewMemoryStore(300 * time.Second),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }

	reg := dex.NewRegistry(logger)
	reg.Register("ethereum", h.uniswap)
	reg.SetQuoteAsset("ethereum", weth)
	reg.Register("solana", h.raydium)
	reg.SetAggregator("solana", h.jupiter)
	reg.SetQuoteAsset("solana", wsol)

	chains := sniping.NewChains(
		&sniping.Chain{
			Config:   config.ChainConfig{Name: "ethereum", Kind: domain.ChainKindEVM},
			Client:   h.evmClient,
			Fees:     fakeFees{},
			Safety:   safety.ChainContext{Name: "ethereum", Kind: domain.ChainKindEVM, ChainID: 1},
			Fallback: evmVault,
		},
		&sniping.Chain{
			Config:   config.ChainConfig{Name: "solana", Kind: domain.ChainKindSolana, Gas: config.GasConfig{PriorityFeeMicroLamports: 1000}},
			Client:   h.solClient,
			Safety:   safety.ChainContext{Name: "solana", Kind: domain.ChainKindSolana},
			Fallback: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		},
	)
	exec := sniping.NewExecutor(reg, retry.Fixed(1, time.Millisecond), nil, logger)

	h.ledger = portfolio.NewLedger(portfolio.Options{
		Config: config.PortfolioConfig{
			TrailingStopEnabled: true,
			TrailingStopPercent: 10,
		},
		Prices: h.prices,
		Now:    clock,
	}, logger)

	h.engine = NewEngine(Options{
		Config:           cfg,
		AntiRug:          true,
		RugPullThreshold: 50,
		Chains:           chains,
		Exec:             exec,
		Ledger:           h.ledger,
		Safety:           h.safety,
		Results:          h.results,
		Notifier:         h.notifier,
		Now:              clock,
	}, logger)
	return h
}

// open records a position at price and returns it.
func (h *harness) open(t *testing.T, chain, venue, token string, price float64) domain.Position {
	t.Helper()
	h.prices.set(token, price)
	ok, err := h.ledger.Open(context.Background(), domain.Candidate{TokenAddress: token, Chain: chain, Venue: venue}, "buy-tx")
	require.NoError(t, err)
	require.True(t, ok)
	pos, _ := h.ledger.Get(token)
	return pos
}

func trailingConfig() config.AutoExitConfig {
	return config.AutoExitConfig{
		GlobalStopLoss: 10,
		Strategies: []config.StrategyConfig{
			{Name: "trail", Type: StrategyTrailing, TrailPercent: 10},
		},
	}
}

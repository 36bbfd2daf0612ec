package sniping

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/blockchain/evm"
	solrpc "github.com/rovshanmuradov/chaincrawlr/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/dex"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/events"
	"github.com/rovshanmuradov/chaincrawlr/internal/retry"
	"github.com/rovshanmuradov/chaincrawlr/internal/safety"
)

const (
	evmToken = "0x1111111111111111111111111111111111111111"
	weth     = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	solToken = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"
	wsol     = "So11111111111111111111111111111111111111112"
)

type swapFn func(ctx context.Context, req dex.SwapRequest) (*dex.SwapResult, error)

type fakeVenue struct {
	name  string
	mu    sync.Mutex
	reqs  []dex.SwapRequest
	swap  swapFn
	price float64
}

func newVenue(name string) *fakeVenue {
	return &fakeVenue{name: name, price: 0.001}
}

func (v *fakeVenue) Name() string { return v.name }

func (v *fakeVenue) Quote(context.Context, string, string, float64) (float64, error) {
	return v.price, nil
}

func (v *fakeVenue) Swap(ctx context.Context, req dex.SwapRequest) (*dex.SwapResult, error) {
	v.mu.Lock()
	v.reqs = append(v.reqs, req)
	fn := v.swap
	v.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &dex.SwapResult{Status: dex.StatusConfirmed, TxRef: v.name + "-tx", Cost: 0.01, AmountOut: 1000}, nil
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
	balance   float64
	transfers []string
	mu        sync.Mutex
}

func (c *fakeClient) Kind() domain.ChainKind { return c.kind }

func (c *fakeClient) NativeBalance(context.Context, string) (float64, error) {
	return c.balance, nil
}

func (c *fakeClient) TransferToken(_ context.Context, token, recipient string, _ float64, _ bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transfers = append(c.transfers, token+"->"+recipient)
	return "transfer-tx", nil
}

type fakeFees struct {
	err error
}

func (f fakeFees) FeeParams(context.Context, float64) (evm.Fees, error) {
	if f.err != nil {
		return evm.Fees{}, f.err
	}
	return evm.Fees{MaxFeePerGas: big.NewInt(15e9), MaxPriorityFeePerGas: big.NewInt(2e9)}, nil
}

func (f fakeFees) EmergencyFees() evm.Fees {
	return evm.Fees{MaxFeePerGas: big.NewInt(200e9), MaxPriorityFeePerGas: big.NewInt(5e9)}
}

type fakeSafety struct {
	report []domain.CheckVerdict
	calls  int
}

func (s *fakeSafety) Report(context.Context, string, safety.ChainContext) []domain.CheckVerdict {
	s.calls++
	return s.report
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

func (n *fakeNotifier) kinds() []events.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []events.Kind
	for _, note := range n.got {
		out = append(out, note.Kind)
	}
	return out
}

type harness struct {
	orch      *Orchestrator
	uniswap   *fakeVenue
	raydium   *fakeVenue
	jupiter   *fakeVenue
	evmClient *fakeClient
	safety    *fakeSafety
	notifier  *fakeNotifier
	results   *cache.MemoryStore
	blacklist *cache.MemoryStore
	chains    Chains
	exec      *Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()

	h := &harness{
		uniswap:   newVenue("uniswapv3"),
		raydium:   newVenue("raydium"),
		jupiter:   newVenue("jupiter"),
		evmClient: &fakeClient{kind: domain.ChainKindEVM, balance: 1},
		safety:    &fakeSafety{report: []domain.CheckVerdict{{Check: "verification", Passed: true}}},
		notifier:  &fakeNotifier{},
		results:   cache.NewMemoryStore(300 * time.Second),
		blacklist: cache.NewMemoryStore(24 * time.Hour),
	}

	reg := dex.NewRegistry(logger)
	reg.Register("ethereum", h.uniswap)
	reg.SetQuoteAsset("ethereum", weth)
	reg.Register("solana", h.raydium)
	reg.SetAggregator("solana", h.jupiter)
	reg.SetQuoteAsset("solana", wsol)

	endpoints, err := solrpc.NewEndpoints([]string{"https://primary"}, []string{"https://fb1", "https://fb2"}, logger)
	if err != nil {
		t.Fatalf("endpoints: %v", err)
	}

	evmChain := &Chain{
		Config:   config.ChainConfig{Name: "ethereum", Kind: domain.ChainKindEVM, Gas: config.GasConfig{Multiplier: 1.3}},
		Client:   h.evmClient,
		Owner:    "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		Fees:     fakeFees{},
		Safety:   safety.ChainContext{Name: "ethereum", Kind: domain.ChainKindEVM, ChainID: 1},
		Fallback: "0x9999999999999999999999999999999999999999",
	}
	solChain := &Chain{
		Config:    config.ChainConfig{Name: "solana", Kind: domain.ChainKindSolana, Gas: config.GasConfig{PriorityFeeMicroLamports: 5000}},
		Client:    &fakeClient{kind: domain.ChainKindSolana, balance: 2},
		Owner:     "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		Endpoints: endpoints,
		Safety:    safety.ChainContext{Name: "solana", Kind: domain.ChainKindSolana},
		Fallback:  "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
	}
	h.chains = NewChains(evmChain, solChain)
	h.exec = NewExecutor(reg, retry.Exponential(4, time.Millisecond, 1.5), nil, logger)

	h.orch = NewOrchestrator(Options{
		Config: config.SnipingConfig{
			AmountIn:    0.1,
			MinBalance:  0.1,
			MaxSlippage: 0.05,
			PendingTTL:  120 * time.Second,
		},
		AntiRug:   true,
		Chains:    h.chains,
		Exec:      h.exec,
		Safety:    h.safety,
		Results:   h.results,
		Blacklist: h.blacklist,
		Notifier:  h.notifier,
	}, logger)
	return h
}

func evmCandidate() domain.Candidate {
	return domain.Candidate{TokenAddress: evmToken, Chain: "ethereum", Venue: "uniswapv3"}
}

func solCandidate(venue string) domain.Candidate {
	return domain.Candidate{TokenAddress: solToken, Chain: "solana", Venue: venue}
}

var errBoom = errors.New("boom")

package portfolio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/storage/models"
)

const (
	tokenA = "0x1111111111111111111111111111111111111111"
	tokenB = "0x2222222222222222222222222222222222222222"
)

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
	calls  atomic.Int32
}

func (f *fakePrices) set(token string, p float64) {
	f.mu.Lock()
	f.prices[token] = p
	f.mu.Unlock()
}

func (f *fakePrices) Price(_ context.Context, _, _, token string) (float64, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	p, ok := f.prices[token]
	if !ok {
		return 0, errors.New("no route")
	}
	return p, nil
}

type fakeBalance struct {
	balance float64
	err     error
}

func (f fakeBalance) NativeBalance(context.Context, string) (float64, error) {
	return f.balance, f.err
}

type fakeArchive struct {
	mu     sync.Mutex
	trades []domain.ClosedTrade
	err    error
}

func (f *fakeArchive) SaveTrade(_ context.Context, t domain.ClosedTrade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.trades = append(f.trades, t)
	return nil
}

func (f *fakeArchive) ListTrades(context.Context, string, int, int) ([]domain.ClosedTrade, error) {
	return f.trades, nil
}
func (f *fakeArchive) SaveExecution(context.Context, *models.Execution) error { return nil }
func (f *fakeArchive) RunMigrations() error                                  { return nil }
func (f *fakeArchive) Close() error                                          { return nil }

type recorder struct {
	rows [][]string
}

func (r *recorder) WriteRecord(row []string) error {
	r.rows = append(r.rows, row)
	return nil
}

type harness struct {
	ledger  *Ledger
	prices  *fakePrices
	archive *fakeArchive
	journal *recorder
	now     time.Time
	path    string
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		prices:  &fakePrices{prices: map[string]float64{}},
		archive: &fakeArchive{},
		journal: &recorder{},
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		path:    filepath.Join(t.TempDir(), "ledger.json"),
	}
	opts := Options{
		Config: config.PortfolioConfig{
			LedgerFile:          h.path,
			MaxRiskPerTrade:     2,
			MinPositionSize:     100,
			MaxPositionSize:     10000,
			TrailingStopEnabled: true,
			TrailingStopPercent: 10,
		},
		Prices:  h.prices,
		Balance: fakeBalance{balance: 50000},
		Results: cache.NewMemoryStore(time.Minute),
		Archive: h.archive,
		Journal: h.journal,
		Now:     func() time.Time { return h.now },
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.ledger = NewLedger(opts, zap.NewNop())
	return h
}

func candidate(token string) domain.Candidate {
	return domain.Candidate{TokenAddress: token, Chain: "ethereum", Venue: "uniswapv3"}
}

func TestOpenCreatesPositionAtEntryPrice(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.set(tokenA, 1.0)

	ok, err := h.ledger.Open(context.Background(), candidate(tokenA), "0xbuy")
	require.NoError(t, err)
	require.True(t, ok)

	pos, found := h.ledger.Get(tokenA)
	require.True(t, found)
	assert.Equal(t, 1.0, pos.EntryPrice)
	assert.Equal(t, 1.0, pos.HighPrice)
	assert.Zero(t, pos.TrailingStop)
	assert.Equal(t, "0xbuy", pos.TxRef)
	assert.Equal(t, h.now, pos.EntryTime)
	// 50000 * 2% / 1.0 = 1000 tokens
	assert.InDelta(t, 1000, pos.Amount, 1e-9)
}

func TestOpenRejectsSecondPositionForToken(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.set(tokenA, 1.0)
	ctx := context.Background()

	ok, err := h.ledger.Open(ctx, candidate(tokenA), "0x1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.ledger.Open(ctx, candidate(tokenA), "0x2")
	require.NoError(t, err)
	assert.False(t, ok)

	open := h.ledger.GetOpen()
	require.Len(t, open, 1)
	assert.Equal(t, "0x1", open[0].TxRef)
}

func TestConcurrentOpensKeepOnePosition(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.set(tokenA, 2.0)

	var (
		wg     sync.WaitGroup
		opened atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := h.ledger.Open(context.Background(), candidate(tokenA), "0x")
			if err == nil && ok {
				opened.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opened.Load())
	assert.Len(t, h.ledger.GetOpen(), 1)
}

func TestOpenFailsWithoutPrice(t *testing.T) {
	h := newHarness(t, nil)

	ok, err := h.ledger.Open(context.Background(), candidate(tokenA), "0x")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.ledger.GetOpen())
}

func TestClosePnLRoundTrip(t *testing.T) {
	cases := []struct {
		entry, exit float64
	}{
		{1.0, 1.5},
		{2.0, 1.0},
		{0.000123, 0.000456},
		{3.0, 3.0},
	}
	for _, tc := range cases {
		h := newHarness(t, nil)
		h.prices.set(tokenA, tc.entry)
		ctx := context.Background()

		_, err := h.ledger.Open(ctx, candidate(tokenA), "0xbuy")
		require.NoError(t, err)

		h.now = h.now.Add(90 * time.Minute)
		exit := tc.exit
		ok, err := h.ledger.Close(ctx, tokenA, &exit, "0xsell")
		require.NoError(t, err)
		require.True(t, ok)

		_, found := h.ledger.Get(tokenA)
		assert.False(t, found)

		hist := h.ledger.History()
		require.Len(t, hist, 1)
		assert.Equal(t, (tc.exit/tc.entry-1)*100, hist[0].PnL)
		assert.Equal(t, 90*time.Minute, hist[0].Duration)
		assert.Equal(t, "0xsell", hist[0].TxRef)
	}
}

func TestCloseUnknownToken(t *testing.T) {
	h := newHarness(t, nil)
	ok, err := h.ledger.Close(context.Background(), tokenA, nil, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCloseUsesCurrentPriceWhenNoneGiven(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.set(tokenA, 1.0)
	ctx := context.Background()
	_, err := h.ledger.Open(ctx, candidate(tokenA), "")
	require.NoError(t, err)

	h.prices.set(tokenA, 1.25)
	ok, err := h.ledger.Close(ctx, tokenA, nil, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 25.0, h.ledger.History()[0].PnL, 1e-9)
}

func TestCloseFailureLeavesPositionOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.set(tokenA, 1.0)
	ctx := context.Background()
	_, err := h.ledger.Open(ctx, candidate(tokenA), "")
	require.NoError(t, err)

	h.prices.err = errors.New("rpc down")
	ok, err := h.ledger.Close(ctx, tokenA, nil, "")
	require.Error(t, err)
	assert.False(t, ok)

	_, found := h.ledger.Get(tokenA)
	assert.True(t, found)
	assert.Empty(t, h.ledger.History())

	// A failed memo does not block the retry.
	h.prices.err = nil
	h.prices.set(tokenA, 2.0)
	ok, err = h.ledger.Close(ctx, tokenA, nil, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClosePersistFailureLeavesPositionOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.set(tokenA, 1.0)
	ctx := context.Background()
	_, err := h.ledger.Open(ctx, candidate(tokenA), "")
	require.NoError(t, err)

	// Replace the ledger file with a directory so the rename fails.
	require.NoError(t, os.Remove(h.path))
	require.NoError(t, os.MkdirAll(filepath.Join(h.path, "blocker"), 0o755))

	exit := 2.0
	ok, err := h.ledger.Close(ctx, tokenA, &exit, "")
	require.ErrorIs(t, err, ErrPersist)
	assert.False(t, ok)
	_, found := h.ledger.Get(tokenA)
	assert.True(t, found)
}

func TestCloseReplaysMemoizedSuccess(t *testing.T) {
	results := cache.NewMemoryStore(time.Minute)
	h := newHarness(t, func(o *Options) { o.Results = results })
	h.prices.set(tokenA, 1.0)
	ctx := context.Background()

	_, err := h.ledger.Open(ctx, candidate(tokenA), "0x1")
	require.NoError(t, err)
	pos, _ := h.ledger.Get(tokenA)

	// A close that was committed elsewhere for this same position.
	done := domain.ClosedTrade{
		TokenAddress: tokenA,
		Chain:        pos.Chain,
		EntryPrice:   1.0,
		ExitPrice:    1.5,
		Amount:       pos.Amount,
		PnL:          50,
		EntryTime:    pos.EntryTime,
		ExitTime:     h.now,
		TxRef:        "0xsell",
	}
	key := cache.ClosePositionKey(pos.Chain, tokenA, pos.EntryTime)
	require.NoError(t, results.Set(ctx, key, closeRecord{Status: cache.StatusSuccess, Trade: &done, At: h.now}))
	calls := h.prices.calls.Load()

	ok, err := h.ledger.Close(ctx, tokenA, nil, "")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, calls, h.prices.calls.Load(), "replay must not touch the venue")
	hist := h.ledger.History()
	require.Len(t, hist, 1)
	assert.Equal(t, done.PnL, hist[0].PnL)
	assert.Equal(t, done.TxRef, hist[0].TxRef)
	_, found := h.ledger.Get(tokenA)
	assert.False(t, found)
}

func TestReopenedTokenClosesAtFreshPrice(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.set(tokenA, 1.0)
	ctx := context.Background()

	_, err := h.ledger.Open(ctx, candidate(tokenA), "0x1")
	require.NoError(t, err)
	exit := 1.5
	_, err = h.ledger.Close(ctx, tokenA, &exit, "0xsell")
	require.NoError(t, err)

	// Same token again within the memo TTL at a different entry.
	h.now = h.now.Add(30 * time.Second)
	h.prices.set(tokenA, 4.0)
	_, err = h.ledger.Open(ctx, candidate(tokenA), "0x2")
	require.NoError(t, err)
	h.prices.set(tokenA, 5.0)
	calls := h.prices.calls.Load()

	ok, err := h.ledger.Close(ctx, tokenA, nil, "0xsell2")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Greater(t, h.prices.calls.Load(), calls, "second close must quote the venue")
	hist := h.ledger.History()
	require.Len(t, hist, 2)
	assert.InDelta(t, 50.0, hist[0].PnL, 1e-9)
	assert.InDelta(t, 4.0, hist[1].EntryPrice, 1e-9)
	assert.InDelta(t, 5.0, hist[1].ExitPrice, 1e-9)
	assert.InDelta(t, 25.0, hist[1].PnL, 1e-9)
	assert.Equal(t, "0xsell2", hist[1].TxRef)
}

func TestCloseArchivesAndJournals(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.set(tokenA, 1.0)
	ctx := context.Background()
	_, err := h.ledger.Open(ctx, candidate(tokenA), "")
	require.NoError(t, err)

	exit := 1.1
	_, err = h.ledger.Close(ctx, tokenA, &exit, "0xsell")
	require.NoError(t, err)

	require.Len(t, h.archive.trades, 1)
	assert.Equal(t, tokenA, h.archive.trades[0].TokenAddress)
	require.Len(t, h.journal.rows, 1)
	assert.Len(t, h.journal.rows[0], len(JournalHeader))
	assert.Equal(t, "0xsell", h.journal.rows[0][8])
}

func TestArchiveFailureDoesNotUndoClose(t *testing.T) {
	h := newHarness(t, nil)
	h.archive.err = errors.New("db down")
	h.prices.set(tokenA, 1.0)
	ctx := context.Background()
	_, err := h.ledger.Open(ctx, candidate(tokenA), "")
	require.NoError(t, err)

	exit := 0.5
	ok, err := h.ledger.Close(ctx, tokenA, &exit, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, h.ledger.History(), 1)
}

func TestUpdateMarksRaisesHighAndTrailingStop(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.set(tokenA, 1.0)
	ctx := context.Background()
	_, err := h.ledger.Open(ctx, candidate(tokenA), "")
	require.NoError(t, err)

	h.prices.set(tokenA, 1.5)
	n, err := h.ledger.UpdateMarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pos, _ := h.ledger.Get(tokenA)
	assert.Equal(t, 1.5, pos.HighPrice)
	assert.InDelta(t, 1.35, pos.TrailingStop, 1e-12)

	// A lower price never lowers the marks.
	h.prices.set(tokenA, 1.3)
	n, err = h.ledger.UpdateMarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	pos, _ = h.ledger.Get(tokenA)
	assert.Equal(t, 1.5, pos.HighPrice)
	assert.InDelta(t, 1.35, pos.TrailingStop, 1e-12)
}

func TestUpdateMarksWithoutTrailing(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.TrailingStopEnabled = false })
	h.prices.set(tokenA, 1.0)
	ctx := context.Background()
	_, err := h.ledger.Open(ctx, candidate(tokenA), "")
	require.NoError(t, err)

	h.prices.set(tokenA, 2.0)
	_, err = h.ledger.UpdateMarks(ctx)
	require.NoError(t, err)

	pos, _ := h.ledger.Get(tokenA)
	assert.Equal(t, 2.0, pos.HighPrice)
	assert.Zero(t, pos.TrailingStop)
}

func TestUpdateMarksSkipsFailedQuotes(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.set(tokenA, 1.0)
	h.prices.set(tokenB, 1.0)
	ctx := context.Background()
	_, err := h.ledger.Open(ctx, candidate(tokenA), "")
	require.NoError(t, err)
	_, err = h.ledger.Open(ctx, candidate(tokenB), "")
	require.NoError(t, err)

	h.prices.mu.Lock()
	delete(h.prices.prices, tokenA)
	h.prices.prices[tokenB] = 3.0
	h.prices.mu.Unlock()

	n, err := h.ledger.UpdateMarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, _ := h.ledger.Get(tokenA)
	b, _ := h.ledger.Get(tokenB)
	assert.Equal(t, 1.0, a.HighPrice)
	assert.Equal(t, 3.0, b.HighPrice)
}

func TestLoadRestoresPersistedState(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.set(tokenA, 1.0)
	h.prices.set(tokenB, 2.0)
	ctx := context.Background()
	_, err := h.ledger.Open(ctx, candidate(tokenA), "")
	require.NoError(t, err)
	_, err = h.ledger.Open(ctx, candidate(tokenB), "")
	require.NoError(t, err)
	exit := 3.0
	_, err = h.ledger.Close(ctx, tokenB, &exit, "")
	require.NoError(t, err)

	data, err := os.ReadFile(h.path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "positions")
	assert.Contains(t, doc, "history")

	reloaded := NewLedger(Options{
		Config: config.PortfolioConfig{LedgerFile: h.path},
		Prices: h.prices,
	}, zap.NewNop())
	require.NoError(t, reloaded.Load())

	open := reloaded.GetOpen()
	require.Len(t, open, 1)
	assert.Equal(t, tokenA, open[0].TokenAddress)
	hist := reloaded.History()
	require.Len(t, hist, 1)
	assert.InDelta(t, 50.0, hist[0].PnL, 1e-9)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	l := NewLedger(Options{
		Config: config.PortfolioConfig{LedgerFile: filepath.Join(t.TempDir(), "none.json")},
	}, zap.NewNop())
	require.NoError(t, l.Load())
	assert.Empty(t, l.GetOpen())
}

func TestSaveLeavesOnlyLedgerFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	store := fileStore{path: filepath.Join(dir, "ledger.json")}
	for i := 0; i < 3; i++ {
		require.NoError(t, store.save(document{}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "ledger.json", entries[0].Name())

	doc, err := store.load()
	require.NoError(t, err)
	assert.NotNil(t, doc.Positions)
	assert.Empty(t, doc.Positions)
	assert.Empty(t, doc.History)
}

func TestLiquidateAll(t *testing.T) {
	h := newHarness(t, nil)
	h.prices.set(tokenA, 1.0)
	h.prices.set(tokenB, 1.0)
	ctx := context.Background()
	_, err := h.ledger.Open(ctx, candidate(tokenA), "")
	require.NoError(t, err)
	_, err = h.ledger.Open(ctx, candidate(tokenB), "")
	require.NoError(t, err)

	n, err := h.ledger.LiquidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, h.ledger.GetOpen())
	assert.Len(t, h.ledger.History(), 2)
}

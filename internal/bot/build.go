// internal/bot/build.go
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/chaincrawlr/internal/blockchain"
	"github.com/rovshanmuradov/chaincrawlr/internal/blockchain/evm"
	"github.com/rovshanmuradov/chaincrawlr/internal/blockchain/solbc"
	solrpc "github.com/rovshanmuradov/chaincrawlr/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
	"github.com/rovshanmuradov/chaincrawlr/internal/config"
	"github.com/rovshanmuradov/chaincrawlr/internal/dex"
	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
	"github.com/rovshanmuradov/chaincrawlr/internal/events"
	"github.com/rovshanmuradov/chaincrawlr/internal/monitor"
	"github.com/rovshanmuradov/chaincrawlr/internal/portfolio"
	"github.com/rovshanmuradov/chaincrawlr/internal/retry"
	"github.com/rovshanmuradov/chaincrawlr/internal/safety"
	"github.com/rovshanmuradov/chaincrawlr/internal/scanner"
	"github.com/rovshanmuradov/chaincrawlr/internal/sniping"
	"github.com/rovshanmuradov/chaincrawlr/internal/storage/postgres"
	"github.com/rovshanmuradov/chaincrawlr/internal/utils/logger"
	"github.com/rovshanmuradov/chaincrawlr/internal/utils/metrics"
	"github.com/rovshanmuradov/chaincrawlr/internal/wallet"
)

const (
	venueTimeout         = 10 * time.Second
	journalFlushInterval = 5 * time.Second
)

// stores are the memoization stores, one per TTL class.
type stores struct {
	results   cache.Store
	volatile  cache.Store
	blacklist cache.Store
	dedupe    cache.Store
}

// build constructs every component from r.cfg. Anything opened is
// registered with r.shutdown, so a failed build is cleaned up by Shutdown.
func (r *Runner) build(ctx context.Context) error {
	cfg := r.cfg

	st, err := r.openStores(ctx)
	if err != nil {
		return err
	}

	wallets, err := wallet.Load(cfg.WalletsFile)
	if err != nil {
		return fmt.Errorf("failed to load wallets: %w", err)
	}

	screener := dex.NewDexScreener(cfg.Scanner.BaseURL, r.logger)
	r.shutdown.AddFunc("dexscreener", func() error {
		screener.Close()
		return nil
	})

	registry := dex.NewRegistry(r.logger)
	chains, err := r.buildChains(ctx, wallets, registry, screener)
	if err != nil {
		return err
	}
	r.chains = chains

	notifier := events.NewNotifier(
		events.OptionsFromConfig(cfg.Notifications),
		events.SinksFromConfig(cfg.Notifications, r.logger),
		st.dedupe, r.metrics, r.logger)
	r.notifier = notifier

	archive, err := r.openArchive()
	if err != nil {
		return err
	}

	var journal portfolio.Recorder
	if path := cfg.Trading.Portfolio.JournalFile; path != "" {
		j, err := logger.NewJournal(path, portfolio.JournalHeader, journalFlushInterval, r.logger)
		if err != nil {
			return fmt.Errorf("failed to open trade journal: %w", err)
		}
		r.shutdown.Add("journal", j)
		journal = j
	}

	base, owner := r.baseChain(chains)
	opts := portfolio.Options{
		Config:     cfg.Trading.Portfolio,
		Prices:     registry,
		Owner:      owner,
		Results:    st.results,
		PriceCache: st.volatile,
		Journal:    journal,
		Metrics:    r.metrics,
	}
	if base != nil {
		opts.Balance = base.Client
	}
	if archive != nil {
		opts.Archive = archive
	}
	ledger := portfolio.NewLedger(opts, r.logger)
	if err := ledger.Load(); err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	r.book = ledger

	validator := safety.NewValidator(cfg.Trading.AntiRug, st.results, st.volatile, r.metrics, r.logger)

	sc := cfg.Trading.Sniping
	exec := sniping.NewExecutor(registry,
		retry.Exponential(sc.RPCRetries, sc.RPCBackoffBase, sc.RPCBackoffFactor),
		r.metrics, r.logger)

	var blacklist cache.Store
	if sc.PersistBlacklist {
		blacklist = st.blacklist
	}
	r.orch = sniping.NewOrchestrator(sniping.Options{
		Config:    sc,
		AntiRug:   cfg.Trading.AntiRug.Enabled,
		Chains:    chains,
		Exec:      exec,
		Safety:    validator,
		Results:   st.results,
		Blacklist: blacklist,
		Notifier:  notifier,
		Metrics:   r.metrics,
	}, r.logger)

	if cfg.Trading.AutoExit.Enabled {
		r.engine = monitor.NewEngine(monitor.Options{
			Config:           cfg.Trading.AutoExit,
			AntiRug:          cfg.Trading.AntiRug.Enabled,
			RugPullThreshold: cfg.Trading.AntiRug.RugPullThreshold,
			Chains:           chains,
			Exec:             exec,
			Ledger:           ledger,
			Safety:           validator,
			Results:          st.results,
			Notifier:         notifier,
			Metrics:          r.metrics,
		}, r.logger)
	}

	if cfg.Scanner.Enabled && sc.Enabled {
		r.scanner = scanner.New(cfg.Scanner, cfg.Chains, screener, r.logger)
	}

	if cfg.Metrics.Enabled {
		r.server = metrics.NewServer(cfg.Metrics.Addr, r.metrics, r.logger)
	}

	// Registered last so it closes first: queued alerts drain while the
	// dedupe store is still open.
	r.shutdown.AddFunc("notifier", func() error {
		drainCtx, cancel := context.WithTimeout(context.Background(), notifierDrainTimeout)
		defer cancel()
		return notifier.Shutdown(drainCtx)
	})
	return nil
}

func (r *Runner) openStores(ctx context.Context) (stores, error) {
	cc := r.cfg.Cache
	ttls := map[string]time.Duration{
		"results":   orDefault(cc.TTL, config.DefaultCacheTTL),
		"volatile":  orDefault(cc.VolatileTTL, config.DefaultVolatileCacheTTL),
		"blacklist": orDefault(r.cfg.Trading.Sniping.BlacklistTTL, 24*time.Hour),
		"dedupe":    orDefault(r.cfg.Notifications.DedupeTTL, 24*time.Hour),
	}

	var st stores
	switch strings.ToLower(cc.Backend) {
	case "", "memory":
		open := func(name string) cache.Store {
			s := cache.NewMemoryStore(ttls[name])
			r.shutdown.Add("cache:"+name, s)
			return s
		}
		st = stores{
			results:   open("results"),
			volatile:  open("volatile"),
			blacklist: open("blacklist"),
			dedupe:    open("dedupe"),
		}
	case "redis":
		base, err := cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
			PoolSize: cc.Redis.PoolSize,
			Prefix:   cc.Redis.Prefix,
		}, ttls["results"])
		if err != nil {
			return st, fmt.Errorf("failed to open redis store: %w", err)
		}
		r.shutdown.Add("cache:redis", base)
		st = stores{
			results:   base,
			volatile:  base.WithPrefix("volatile:", ttls["volatile"]),
			blacklist: base.WithPrefix("blacklist:", ttls["blacklist"]),
			dedupe:    base.WithPrefix("dedupe:", ttls["dedupe"]),
		}
	default:
		return st, &config.ConfigError{Field: "cache.backend", Reason: fmt.Sprintf("unknown backend %q", cc.Backend)}
	}
	return st, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// openArchive connects the trade archive when a postgres url is set.
func (r *Runner) openArchive() (*postgres.Store, error) {
	dsn := r.cfg.Storage.PostgresURL
	if dsn == "" {
		return nil, nil
	}
	store, err := postgres.NewStore(dsn, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect trade archive: %w", err)
	}
	if err := store.RunMigrations(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate trade archive: %w", err)
	}
	r.shutdown.Add("archive", store)
	r.archive = store
	return store, nil
}

// buildChains dials every configured chain that has a wallet of its kind and
// registers its venues.
func (r *Runner) buildChains(ctx context.Context, wallets *wallet.Set, registry *dex.Registry, screener *dex.DexScreener) (sniping.Chains, error) {
	var list []*sniping.Chain
	for _, cc := range r.cfg.Chains {
		var (
			c   *sniping.Chain
			err error
		)
		switch cc.Kind {
		case domain.ChainKindEVM:
			if wallets.EVM == nil {
				r.logger.Warn("No EVM wallet, chain disabled", zap.String("chain", cc.Name))
				continue
			}
			c, err = r.evmChain(ctx, cc, wallets, registry)
		case domain.ChainKindSolana:
			if wallets.Solana == nil {
				r.logger.Warn("No Solana wallet, chain disabled", zap.String("chain", cc.Name))
				continue
			}
			c, err = r.solanaChain(cc, wallets, registry, screener)
		default:
			err = &config.ConfigError{Field: "chains." + cc.Name + ".kind", Reason: "unsupported chain kind"}
		}
		if err != nil {
			return nil, err
		}
		list = append(list, c)
		r.logger.Info("🔗 Chain ready",
			zap.String("chain", cc.Name),
			zap.String("kind", string(cc.Kind)),
			zap.String("owner", domain.ShortAddress(c.Owner)))
	}
	if len(list) == 0 {
		return nil, &config.ConfigError{Field: "chains", Reason: "no chain has a matching wallet"}
	}
	return sniping.NewChains(list...), nil
}

func (r *Runner) evmChain(ctx context.Context, cc config.ChainConfig, wallets *wallet.Set, registry *dex.Registry) (*sniping.Chain, error) {
	ae := r.cfg.Trading.AutoExit
	client, err := evm.Dial(ctx, cc.RPCURLs[0], cc.ChainID, wallets.EVM, evm.GasConfig{
		Multiplier:          cc.Gas.Multiplier,
		PriorityFeeGwei:     cc.Gas.PriorityFeeGwei,
		EmergencyMaxFeeGwei: ae.EmergencyMaxFeeGwei,
		EmergencyTipGwei:    ae.EmergencyTipGwei,
	}, r.logger)
	if err != nil {
		return nil, fmt.Errorf("chain %s: %w", cc.Name, err)
	}
	r.shutdown.AddFunc("evm:"+cc.Name, func() error {
		client.Close()
		return nil
	})
	client = client.WithObserver(blockchain.Observer{Chain: cc.Name, Recorder: r.metrics})

	uni, err := dex.NewUniswap(client, dex.UniswapConfig{
		Router:        cc.UniswapRouter,
		Quoter:        cc.UniswapQuoter,
		Factory:       cc.UniswapFactory,
		WrappedNative: cc.WrappedNative,
		FeeTier:       uint32(r.cfg.Trading.Sniping.FeeTier),
	}, r.logger)
	if err != nil {
		return nil, fmt.Errorf("chain %s: %w", cc.Name, err)
	}
	registry.Register(cc.Name, uni)
	registry.SetQuoteAsset(cc.Name, cc.WrappedNative)

	return &sniping.Chain{
		Config: cc,
		Client: client,
		Owner:  wallets.Address(domain.ChainKindEVM),
		Fees:   client,
		Safety: safety.ChainContext{
			Name:        cc.Name,
			Kind:        cc.Kind,
			ChainID:     client.ChainID().Int64(),
			ExplorerURL: cc.ExplorerAPIURL,
			Reader:      client,
		},
		Fallback: wallets.FallbackEVM,
	}, nil
}

func (r *Runner) solanaChain(cc config.ChainConfig, wallets *wallet.Set, registry *dex.Registry, screener *dex.DexScreener) (*sniping.Chain, error) {
	endpoints, err := solrpc.NewEndpoints(cc.RPCURLs, cc.FallbackRPCs, r.logger)
	if err != nil {
		return nil, fmt.Errorf("chain %s: %w", cc.Name, err)
	}
	client := solbc.NewClient(endpoints.Primary(), wallets.Solana, solbc.BudgetConfig{
		Units:             cc.Gas.ComputeUnits,
		MicroLamportsUnit: cc.Gas.PriorityFeeMicroLamports,
	}, r.logger).WithObserver(blockchain.Observer{Chain: cc.Name, Recorder: r.metrics})

	clients := dex.SolbcClients(client)
	registry.Register(cc.Name, dex.NewRaydium(cc.RaydiumTradeURL, clients, screener, venueTimeout, r.logger))
	registry.SetAggregator(cc.Name, dex.NewJupiter(cc.JupiterBaseURL, clients, venueTimeout, r.logger))
	quote := cc.WrappedNative
	if quote == "" {
		quote = dex.NativeMint
	}
	registry.SetQuoteAsset(cc.Name, quote)

	return &sniping.Chain{
		Config:    cc,
		Client:    client,
		Owner:     wallets.Address(domain.ChainKindSolana),
		Endpoints: endpoints,
		Safety:    safety.ChainContext{Name: cc.Name, Kind: cc.Kind},
		Fallback:  wallets.FallbackSolana,
	}, nil
}

// baseChain is the chain whose native balance counts toward portfolio
// value. It defaults to the first configured chain that was built.
func (r *Runner) baseChain(chains sniping.Chains) (*sniping.Chain, string) {
	if name := r.cfg.Trading.Portfolio.BaseChain; name != "" {
		if c, ok := chains.Get(name); ok {
			return c, c.Owner
		}
		r.logger.Warn("Base chain not available", zap.String("chain", name))
	}
	for _, cc := range r.cfg.Chains {
		if c, ok := chains.Get(cc.Name); ok {
			return c, c.Owner
		}
	}
	return nil, ""
}

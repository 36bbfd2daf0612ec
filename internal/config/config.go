// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

// ConfigError is returned for missing or invalid settings. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

type Config struct {
	Logging       LoggingConfig      `mapstructure:"logging"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Chains        []ChainConfig      `mapstructure:"chains"`
	WalletsFile   string             `mapstructure:"wallets_file"`
	Trading       TradingConfig      `mapstructure:"trading"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Scanner       ScannerConfig      `mapstructure:"scanner"`
	Storage       StorageConfig      `mapstructure:"storage"`
}

type LoggingConfig struct {
	File        string `mapstructure:"file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxAge      int    `mapstructure:"max_age"`
	MaxBackups  int    `mapstructure:"max_backups"`
	Compress    bool   `mapstructure:"compress"`
	Development bool   `mapstructure:"development"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type CacheConfig struct {
	Backend     string        `mapstructure:"backend"` // memory | redis
	TTL         time.Duration `mapstructure:"ttl"`
	VolatileTTL time.Duration `mapstructure:"volatile_ttl"`
	Redis       RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	PoolSize int    `mapstructure:"pool_size"`
}

type GasConfig struct {
	Multiplier               float64 `mapstructure:"multiplier"`
	PriorityFeeGwei          float64 `mapstructure:"priority_fee_gwei"`
	ComputeUnits             uint32  `mapstructure:"compute_units"`
	PriorityFeeMicroLamports uint64  `mapstructure:"priority_fee_micro_lamports"`
}

type ChainConfig struct {
	Name            string           `mapstructure:"name"`
	Kind            domain.ChainKind `mapstructure:"kind"`
	ChainID         int64            `mapstructure:"chain_id"`
	RPCURLs         []string         `mapstructure:"rpc_urls"`
	FallbackRPCs    []string         `mapstructure:"fallback_rpcs"`
	NativeCurrency  string           `mapstructure:"native_currency"`
	WrappedNative   string           `mapstructure:"wrapped_native"`
	Dexes           []string         `mapstructure:"dexes"`
	BlockExplorer   string           `mapstructure:"block_explorer"`
	ExplorerAPIURL  string           `mapstructure:"explorer_api_url"`
	DexScreenerID   string           `mapstructure:"dexscreener_id"`
	Gas             GasConfig        `mapstructure:"gas"`
	UniswapRouter   string           `mapstructure:"uniswap_router"`
	UniswapQuoter   string           `mapstructure:"uniswap_quoter"`
	UniswapFactory  string           `mapstructure:"uniswap_factory"`
	JupiterBaseURL  string           `mapstructure:"jupiter_base_url"`
	RaydiumTradeURL string           `mapstructure:"raydium_trade_url"`
}

type TradingConfig struct {
	Sniping   SnipingConfig   `mapstructure:"sniping"`
	AntiRug   AntiRugConfig   `mapstructure:"anti_rug"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	AutoExit  AutoExitConfig  `mapstructure:"auto_exit"`
}

type SnipingConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	AmountIn         float64       `mapstructure:"amount_in"`
	MinBalance       float64       `mapstructure:"min_balance"`
	MaxSlippage      float64       `mapstructure:"max_slippage"`
	FeeTier          int64         `mapstructure:"fee_tier"`
	PendingTTL       time.Duration `mapstructure:"pending_ttl"`
	PersistBlacklist bool          `mapstructure:"persist_blacklist"`
	BlacklistTTL     time.Duration `mapstructure:"blacklist_ttl"`
	RPCRetries       int           `mapstructure:"rpc_retries"`
	RPCBackoffBase   time.Duration `mapstructure:"rpc_backoff_base"`
	RPCBackoffFactor float64       `mapstructure:"rpc_backoff_factor"`
	Workers          int           `mapstructure:"workers"`
}

// CredentialPolicy decides what a credential-gated check does without a key.
type CredentialPolicy string

const (
	FailOpen   CredentialPolicy = "fail_open"
	FailClosed CredentialPolicy = "fail_closed"
)

type AntiRugConfig struct {
	Enabled            bool              `mapstructure:"enabled"`
	CheckVerification  bool              `mapstructure:"check_verification"`
	CheckHoneypot      bool              `mapstructure:"check_honeypot"`
	CheckRenounced     bool              `mapstructure:"check_renounced"`
	CheckDevHolding    bool              `mapstructure:"check_dev_holding"`
	CheckHolderCount   bool              `mapstructure:"check_holder_count"`
	CheckLiquidityLock bool              `mapstructure:"check_liquidity_lock"`
	MaxDevOwnership    float64           `mapstructure:"max_dev_ownership"`
	MinHolderCount     int               `mapstructure:"min_holder_count"`
	MinLockedLiquidity float64           `mapstructure:"min_locked_liquidity"`
	Retries            int               `mapstructure:"retries"`
	RetryDelay         time.Duration     `mapstructure:"retry_delay"`
	HoneypotAPIURL     string            `mapstructure:"honeypot_api_url"`
	HoneypotAPIKey     string            `mapstructure:"honeypot_api_key"`
	ExplorerAPIKey     string            `mapstructure:"explorer_api_key"`
	CredentialPolicy   CredentialPolicy  `mapstructure:"credential_policy"`
	LPTokens           map[string]string `mapstructure:"lp_tokens"`
	RugPullThreshold   float64           `mapstructure:"rug_pull_threshold"`
	RequestTimeout     time.Duration     `mapstructure:"request_timeout"`
}

type PortfolioConfig struct {
	LedgerFile          string        `mapstructure:"ledger_file"`
	JournalFile         string        `mapstructure:"journal_file"`
	BaseChain           string        `mapstructure:"base_chain"`
	MaxRiskPerTrade     float64       `mapstructure:"max_risk_per_trade"`
	MinPositionSize     float64       `mapstructure:"min_position_size"`
	MaxPositionSize     float64       `mapstructure:"max_position_size"`
	TrailingStopEnabled bool          `mapstructure:"trailing_stop_enabled"`
	TrailingStopPercent float64       `mapstructure:"trailing_stop_percent"`
	ValuationBucket     time.Duration `mapstructure:"valuation_bucket"`
	MarkInterval        time.Duration `mapstructure:"mark_interval"`
	// BalanceInterval paces the low-balance alert.
	BalanceInterval time.Duration `mapstructure:"balance_check_interval"`
}

type StrategyConfig struct {
	Name         string        `mapstructure:"name"`
	Type         string        `mapstructure:"type"` // percentage | time | trailing
	Target       float64       `mapstructure:"target"`
	Duration     time.Duration `mapstructure:"duration"`
	TrailPercent float64       `mapstructure:"trail_percent"`
}

type AutoExitConfig struct {
	Enabled             bool             `mapstructure:"enabled"`
	MonitorInterval     time.Duration    `mapstructure:"monitor_interval"`
	ErrorCooldown       time.Duration    `mapstructure:"error_cooldown"`
	GlobalStopLoss      float64          `mapstructure:"global_stop_loss"`
	MaxSlippage         float64          `mapstructure:"max_slippage"`
	EmergencySlippage   float64          `mapstructure:"emergency_slippage"`
	NormalGasMultiplier float64          `mapstructure:"normal_gas_multiplier"`
	EmergencyMaxFeeGwei float64          `mapstructure:"emergency_max_fee_gwei"`
	EmergencyTipGwei    float64          `mapstructure:"emergency_tip_gwei"`
	Strategies          []StrategyConfig `mapstructure:"strategies"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	BaseURL  string `mapstructure:"base_url"`
}

type DiscordConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

type NotificationConfig struct {
	QueueSize    int            `mapstructure:"queue_size"`
	MaxPerMinute int            `mapstructure:"max_per_minute"`
	DedupeTTL    time.Duration  `mapstructure:"dedupe_ttl"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
	Discord      DiscordConfig  `mapstructure:"discord"`
}

type ScannerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	MinLiquidityUSD float64       `mapstructure:"min_liquidity_usd"`
	MaxTokenAge     time.Duration `mapstructure:"max_token_age"`
	BaseURL         string        `mapstructure:"base_url"`
}

type StorageConfig struct {
	PostgresURL string `mapstructure:"postgres_url"`
}

const (
	DefaultCacheTTL           = 300 * time.Second
	DefaultVolatileCacheTTL   = 30 * time.Second
	DefaultPendingTTL         = 120 * time.Second
	DefaultMonitorInterval    = 60 * time.Second
	DefaultErrorCooldown      = 30 * time.Second
	DefaultValuationBucket    = 300 * time.Second
	DefaultMinPositionSize    = 100.0
	DefaultMaxPositionSize    = 10000.0
	DefaultMaxDevOwnership    = 0.10
	DefaultMinHolderCount     = 50
	DefaultMinLockedLiquidity = 0.70
	DefaultRugPullThreshold   = 50.0
	DefaultGlobalStopLoss     = 10.0
	DefaultCheckRetries       = 3
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"logging.file":        "logs/chaincrawlr.log",
		"logging.max_size":    100,
		"logging.max_age":     7,
		"logging.max_backups": 3,
		"logging.compress":    true,
		"metrics.addr":        ":9090",

		"cache.backend":      "memory",
		"cache.ttl":          DefaultCacheTTL,
		"cache.volatile_ttl": DefaultVolatileCacheTTL,
		"cache.redis.prefix": "chaincrawlr:",
		"cache.redis.addr":   "127.0.0.1:6379",

		"wallets_file": "configs/wallets.yaml",

		"trading.sniping.enabled":            true,
		"trading.sniping.min_balance":        0.1,
		"trading.sniping.max_slippage":       0.05,
		"trading.sniping.fee_tier":           3000,
		"trading.sniping.pending_ttl":        DefaultPendingTTL,
		"trading.sniping.persist_blacklist":  true,
		"trading.sniping.blacklist_ttl":      24 * time.Hour,
		"trading.sniping.rpc_retries":        3,
		"trading.sniping.rpc_backoff_base":   time.Second,
		"trading.sniping.rpc_backoff_factor": 1.5,
		"trading.sniping.workers":            4,

		"trading.anti_rug.enabled":              true,
		"trading.anti_rug.check_verification":   true,
		"trading.anti_rug.check_honeypot":       true,
		"trading.anti_rug.check_renounced":      true,
		"trading.anti_rug.check_dev_holding":    true,
		"trading.anti_rug.check_holder_count":   true,
		"trading.anti_rug.check_liquidity_lock": true,
		"trading.anti_rug.max_dev_ownership":    DefaultMaxDevOwnership,
		"trading.anti_rug.min_holder_count":     DefaultMinHolderCount,
		"trading.anti_rug.min_locked_liquidity": DefaultMinLockedLiquidity,
		"trading.anti_rug.retries":              DefaultCheckRetries,
		"trading.anti_rug.retry_delay":          time.Second,
		"trading.anti_rug.honeypot_api_url":     "https://api.honeypot.is",
		"trading.anti_rug.credential_policy":    string(FailOpen),
		"trading.anti_rug.rug_pull_threshold":   DefaultRugPullThreshold,
		"trading.anti_rug.request_timeout":      5 * time.Second,

		"trading.portfolio.ledger_file":            "portfolio_data.json",
		"trading.portfolio.max_risk_per_trade":     1.0,
		"trading.portfolio.min_position_size":      DefaultMinPositionSize,
		"trading.portfolio.max_position_size":      DefaultMaxPositionSize,
		"trading.portfolio.trailing_stop_percent":  10.0,
		"trading.portfolio.valuation_bucket":       DefaultValuationBucket,
		"trading.portfolio.mark_interval":          30 * time.Second,
		"trading.portfolio.journal_file":           "logs/trades.csv",
		"trading.portfolio.balance_check_interval": 5 * time.Minute,

		"trading.auto_exit.enabled":                true,
		"trading.auto_exit.monitor_interval":       DefaultMonitorInterval,
		"trading.auto_exit.error_cooldown":         DefaultErrorCooldown,
		"trading.auto_exit.global_stop_loss":       DefaultGlobalStopLoss,
		"trading.auto_exit.max_slippage":           0.05,
		"trading.auto_exit.emergency_slippage":     0.2,
		"trading.auto_exit.normal_gas_multiplier":  1.3,
		"trading.auto_exit.emergency_max_fee_gwei": 200.0,
		"trading.auto_exit.emergency_tip_gwei":     5.0,

		"notifications.queue_size":        256,
		"notifications.max_per_minute":    30,
		"notifications.dedupe_ttl":        24 * time.Hour,
		"notifications.telegram.base_url": "https://api.telegram.org",

		"scanner.enabled":           true,
		"scanner.interval":          30 * time.Second,
		"scanner.min_liquidity_usd": 10000.0,
		"scanner.max_token_age":     60 * time.Minute,
		"scanner.base_url":          "https://api.dexscreener.com",
	}
}

// Load reads the YAML config at path, applies defaults and CHAINCRAWLR_* env overrides, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("CHAINCRAWLR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Field: path, Reason: err.Error()}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Field: path, Reason: err.Error()}
	}

	loadSecrets(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadSecrets lets API keys live in the environment instead of the file.
func loadSecrets(v *viper.Viper, cfg *Config) {
	if key := v.GetString("HONEYPOT_API_KEY"); key != "" {
		cfg.Trading.AntiRug.HoneypotAPIKey = key
	}
	if key := v.GetString("EXPLORER_API_KEY"); key != "" {
		cfg.Trading.AntiRug.ExplorerAPIKey = key
	}
	if token := v.GetString("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Notifications.Telegram.BotToken = token
	}
	if dsn := v.GetString("POSTGRES_URL"); dsn != "" {
		cfg.Storage.PostgresURL = dsn
	}
}

// Validate enforces the startup invariants.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return &ConfigError{Field: "chains", Reason: "at least one chain is required"}
	}
	seen := make(map[string]bool, len(c.Chains))
	for i, ch := range c.Chains {
		field := fmt.Sprintf("chains[%d]", i)
		if ch.Name == "" {
			return &ConfigError{Field: field + ".name", Reason: "missing"}
		}
		if seen[ch.Name] {
			return &ConfigError{Field: field + ".name", Reason: "duplicate chain " + ch.Name}
		}
		seen[ch.Name] = true
		if ch.Kind != domain.ChainKindEVM && ch.Kind != domain.ChainKindSolana {
			return &ConfigError{Field: field + ".kind", Reason: fmt.Sprintf("unsupported kind %q", ch.Kind)}
		}
		if len(ch.RPCURLs) == 0 {
			return &ConfigError{Field: field + ".rpc_urls", Reason: "missing"}
		}
		for _, u := range append(append([]string{}, ch.RPCURLs...), ch.FallbackRPCs...) {
			if err := validateURL(u, "http"); err != nil {
				return &ConfigError{Field: field + ".rpc_urls", Reason: err.Error()}
			}
		}
		if len(ch.Dexes) == 0 {
			return &ConfigError{Field: field + ".dexes", Reason: "missing"}
		}
	}

	s := c.Trading.Sniping
	if s.MaxSlippage < 0 || s.MaxSlippage >= 0.5 {
		return &ConfigError{Field: "trading.sniping.max_slippage", Reason: "must be in [0, 0.5)"}
	}
	if s.Enabled && s.AmountIn <= 0 {
		return &ConfigError{Field: "trading.sniping.amount_in", Reason: "must be positive"}
	}
	if s.RPCRetries < 1 {
		return &ConfigError{Field: "trading.sniping.rpc_retries", Reason: "must be at least 1"}
	}

	a := c.Trading.AutoExit
	if a.MaxSlippage < 0 || a.MaxSlippage >= 0.3 {
		return &ConfigError{Field: "trading.auto_exit.max_slippage", Reason: "must be in [0, 0.3)"}
	}
	if a.MonitorInterval <= 0 {
		return &ConfigError{Field: "trading.auto_exit.monitor_interval", Reason: "must be positive"}
	}
	for i, st := range a.Strategies {
		switch st.Type {
		case "percentage", "time", "trailing":
		default:
			return &ConfigError{Field: fmt.Sprintf("trading.auto_exit.strategies[%d].type", i), Reason: fmt.Sprintf("unknown strategy %q", st.Type)}
		}
	}

	r := c.Trading.AntiRug
	if r.CredentialPolicy != FailOpen && r.CredentialPolicy != FailClosed {
		return &ConfigError{Field: "trading.anti_rug.credential_policy", Reason: fmt.Sprintf("unknown policy %q", r.CredentialPolicy)}
	}
	if r.Retries < 1 {
		return &ConfigError{Field: "trading.anti_rug.retries", Reason: "must be at least 1"}
	}

	p := c.Trading.Portfolio
	if p.MinPositionSize <= 0 || p.MaxPositionSize < p.MinPositionSize {
		return &ConfigError{Field: "trading.portfolio", Reason: "position size bounds must satisfy 0 < min <= max"}
	}
	if p.BaseChain != "" && !seen[p.BaseChain] {
		return &ConfigError{Field: "trading.portfolio.base_chain", Reason: "unknown chain " + p.BaseChain}
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return &ConfigError{Field: "cache.backend", Reason: fmt.Sprintf("unknown backend %q", c.Cache.Backend)}
	}

	if c.Notifications.Discord.Enabled {
		if err := validateURL(c.Notifications.Discord.WebhookURL, "https"); err != nil {
			return &ConfigError{Field: "notifications.discord.webhook_url", Reason: err.Error()}
		}
	}
	if c.Notifications.Telegram.Enabled && (c.Notifications.Telegram.BotToken == "" || c.Notifications.Telegram.ChatID == "") {
		return &ConfigError{Field: "notifications.telegram", Reason: "bot_token and chat_id are required"}
	}
	return nil
}

// Chain returns the named chain configuration.
func (c *Config) Chain(name string) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if strings.EqualFold(ch.Name, name) {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return fmt.Errorf("invalid URL protocol %q", parsed.Scheme)
	}
	return nil
}

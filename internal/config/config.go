// Package config defines the top-level configuration for the sniper bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SNIPERBOT_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Solana    SolanaConfig    `toml:"solana"`
	Jupiter   JupiterConfig   `toml:"jupiter"`
	AI        AIConfig        `toml:"ai"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Portfolio PortfolioConfig `toml:"portfolio"`
	Risk      RiskConfig      `toml:"risk"`
	Position  PositionConfig  `toml:"position"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Executor  ExecutorConfig  `toml:"executor"`
	Feed      FeedConfig      `toml:"feed"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the Solana signing key. Either a raw base58 key or an
// encrypted keystore path must be provided for live trading.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	PublicKey        string `toml:"public_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SolanaConfig holds RPC endpoints and transaction parameters.
type SolanaConfig struct {
	RPCURL     string `toml:"rpc_url"`
	WSURL      string `toml:"ws_url"`
	Commitment string `toml:"commitment"`
}

// JupiterConfig holds the swap aggregator endpoints. APIKey is optional;
// the public endpoints work without one at lower rate limits.
type JupiterConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// AIConfig holds the optional trade-analysis service. The bot degrades to
// rule-based risk checks when it is disabled or unreachable.
type AIConfig struct {
	Enabled bool     `toml:"enabled"`
	BaseURL string   `toml:"base_url"`
	ApiKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls cold archival of closed positions to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// PortfolioConfig seeds the account state for paper trading and controls the
// tracker cadence.
type PortfolioConfig struct {
	InitialBalanceSOL float64  `toml:"initial_balance_sol"`
	RefreshInterval   duration `toml:"refresh_interval"`
}

// RiskConfig holds the portfolio-level risk limits.
type RiskConfig struct {
	GlobalMaxExposure       float64 `toml:"global_max_exposure"`
	MaxDailyLoss            float64 `toml:"max_daily_loss"`
	MaxDrawdown             float64 `toml:"max_drawdown"`
	PositionSizing          string  `toml:"position_sizing"`
	CircuitBreakerThreshold float64 `toml:"circuit_breaker_threshold"`
	EmergencyStopEnabled    bool    `toml:"emergency_stop_enabled"`
	MaxPositionSize         float64 `toml:"max_position_size"`
	MaxPortfolioExposure    float64 `toml:"max_portfolio_exposure"`
	MaxCorrelationExposure  float64 `toml:"max_correlation_exposure"`
}

// PositionConfig controls the position monitor loop and exit retries.
type PositionConfig struct {
	MonitorInterval   duration `toml:"monitor_interval"`
	ExecutionTimeout  duration `toml:"execution_timeout"`
	MaxCloseAttempts  int      `toml:"max_close_attempts"`
	CloseRetryBackoff duration `toml:"close_retry_backoff"`
	MaxOpenPositions  int      `toml:"max_open_positions"`
}

// StrategyConfig holds signal-generation parameters.
type StrategyConfig struct {
	Active      []string `toml:"active"`
	AutoExecute bool     `toml:"auto_execute"`

	LiquiditySnipe LiquiditySnipeConfig `toml:"liquidity_snipe"`
	VolumeSpike    VolumeSpikeConfig    `toml:"volume_spike"`
}

// LiquiditySnipeConfig holds config for the new-pool sniping strategy.
type LiquiditySnipeConfig struct {
	Enabled         bool    `toml:"enabled"`
	MinLiquiditySOL float64 `toml:"min_liquidity_sol"`
	MaxTokenAgeSec  int     `toml:"max_token_age_sec"`
	SizeSOL         float64 `toml:"size_sol"`
	CooldownSec     int     `toml:"cooldown_sec"`
}

// VolumeSpikeConfig holds config for the volume-spike momentum strategy.
type VolumeSpikeConfig struct {
	Enabled        bool    `toml:"enabled"`
	VolumeMultiple float64 `toml:"volume_multiple"`
	WindowSec      int     `toml:"window_sec"`
	SizeSOL        float64 `toml:"size_sol"`
	CooldownSec    int     `toml:"cooldown_sec"`
}

// ExecutorConfig selects the execution backend and its trade parameters.
type ExecutorConfig struct {
	Backend             string   `toml:"backend"`
	MaxSlippageBps      int      `toml:"max_slippage_bps"`
	PriorityFeeLamports uint64   `toml:"priority_fee_lamports"`
	PaperSlippageBps    int      `toml:"paper_slippage_bps"`
	PaperFeeSOL         float64  `toml:"paper_fee_sol"`
	DedupTTL            duration `toml:"dedup_ttl"`
}

// FeedConfig holds the market-data websocket parameters.
type FeedConfig struct {
	WSURL             string   `toml:"ws_url"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
	SubscribeNewPools bool     `toml:"subscribe_new_pools"`
	Tokens            []string `toml:"tokens"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	ApiKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:     "https://api.mainnet-beta.solana.com",
			WSURL:      "wss://api.mainnet-beta.solana.com",
			Commitment: "confirmed",
		},
		Jupiter: JupiterConfig{
			BaseURL: "https://quote-api.jup.ag/v6",
			Timeout: duration{10 * time.Second},
		},
		AI: AIConfig{
			Enabled: false,
			Timeout: duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "sniperbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sniperbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Portfolio: PortfolioConfig{
			InitialBalanceSOL: 100.0,
			RefreshInterval:   duration{30 * time.Second},
		},
		Risk: RiskConfig{
			GlobalMaxExposure:       10_000.0,
			MaxDailyLoss:            1_000.0,
			MaxDrawdown:             0.20,
			PositionSizing:          "percentage",
			CircuitBreakerThreshold: 0.05,
			EmergencyStopEnabled:    true,
			MaxPositionSize:         10_000.0,
			MaxPortfolioExposure:    0.8,
			MaxCorrelationExposure:  0.3,
		},
		Position: PositionConfig{
			MonitorInterval:   duration{2 * time.Second},
			ExecutionTimeout:  duration{10 * time.Second},
			MaxCloseAttempts:  3,
			CloseRetryBackoff: duration{5 * time.Second},
			MaxOpenPositions:  10,
		},
		Strategy: StrategyConfig{
			Active:      []string{"liquidity_snipe"},
			AutoExecute: true,
			LiquiditySnipe: LiquiditySnipeConfig{
				Enabled:         true,
				MinLiquiditySOL: 25.0,
				MaxTokenAgeSec:  120,
				SizeSOL:         0.5,
				CooldownSec:     30,
			},
			VolumeSpike: VolumeSpikeConfig{
				Enabled:        false,
				VolumeMultiple: 3.0,
				WindowSec:      300,
				SizeSOL:        0.5,
				CooldownSec:    60,
			},
		},
		Executor: ExecutorConfig{
			Backend:             "paper",
			MaxSlippageBps:      300,
			PriorityFeeLamports: 100_000,
			PaperSlippageBps:    50,
			PaperFeeSOL:         0.000105,
			DedupTTL:            duration{2 * time.Minute},
		},
		Feed: FeedConfig{
			WSURL:             "wss://pumpportal.fun/api/data",
			ReconnectDelay:    duration{2 * time.Second},
			SubscribeNewPools: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "risk_rejected", "emergency_stop", "error"},
		},
		Mode:     "all",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"api":     true,
	"all":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validSizingModes enumerates the accepted values for Risk.PositionSizing.
var validSizingModes = map[string]bool{
	"fixed":               true,
	"percentage":          true,
	"volatility_adjusted": true,
}

// validBackends enumerates the accepted values for Executor.Backend.
var validBackends = map[string]bool{
	"paper": true,
	"live":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, api, all)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Live execution needs a signing key from somewhere.
	needsWallet := c.Executor.Backend == "live" && (c.Mode == "trade" || c.Mode == "all")
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live execution")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Solana endpoints
	if c.Solana.RPCURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}
	if c.Solana.Commitment != "processed" && c.Solana.Commitment != "confirmed" && c.Solana.Commitment != "finalized" {
		errs = append(errs, fmt.Sprintf("solana: commitment must be processed, confirmed or finalized, got %q", c.Solana.Commitment))
	}

	// Jupiter
	if c.Jupiter.BaseURL == "" {
		errs = append(errs, "jupiter: base_url must not be empty")
	}

	// AI endpoint is required only when enabled.
	if c.AI.Enabled && c.AI.BaseURL == "" {
		errs = append(errs, "ai: base_url must not be empty when enabled")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 settings are required only when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Portfolio
	if c.Portfolio.InitialBalanceSOL < 0 {
		errs = append(errs, "portfolio: initial_balance_sol must be >= 0")
	}
	if c.Portfolio.RefreshInterval.Duration <= 0 {
		errs = append(errs, "portfolio: refresh_interval must be > 0")
	}

	// Risk
	if c.Risk.GlobalMaxExposure <= 0 {
		errs = append(errs, "risk: global_max_exposure must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0")
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_drawdown must be in (0,1], got %v", c.Risk.MaxDrawdown))
	}
	if !validSizingModes[c.Risk.PositionSizing] {
		errs = append(errs, fmt.Sprintf("risk: position_sizing must be fixed, percentage or volatility_adjusted, got %q", c.Risk.PositionSizing))
	}
	if c.Risk.CircuitBreakerThreshold <= 0 || c.Risk.CircuitBreakerThreshold >= 1 {
		errs = append(errs, fmt.Sprintf("risk: circuit_breaker_threshold must be in (0,1), got %v", c.Risk.CircuitBreakerThreshold))
	}
	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, "risk: max_position_size must be > 0")
	}

	// Position
	if c.Position.MonitorInterval.Duration <= 0 {
		errs = append(errs, "position: monitor_interval must be > 0")
	}
	if c.Position.ExecutionTimeout.Duration <= 0 {
		errs = append(errs, "position: execution_timeout must be > 0")
	}
	if c.Position.MaxCloseAttempts < 1 {
		errs = append(errs, "position: max_close_attempts must be >= 1")
	}
	if c.Position.MaxOpenPositions < 1 {
		errs = append(errs, "position: max_open_positions must be >= 1")
	}

	// Executor
	if !validBackends[c.Executor.Backend] {
		errs = append(errs, fmt.Sprintf("executor: backend must be paper or live, got %q", c.Executor.Backend))
	}
	if c.Executor.MaxSlippageBps < 0 || c.Executor.MaxSlippageBps > 10_000 {
		errs = append(errs, fmt.Sprintf("executor: max_slippage_bps must be 0-10000, got %d", c.Executor.MaxSlippageBps))
	}

	// Feed
	if c.Mode == "trade" || c.Mode == "all" {
		if c.Feed.WSURL == "" {
			errs = append(errs, "feed: ws_url must not be empty for mode "+c.Mode)
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

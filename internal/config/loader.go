package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SNIPERBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SNIPERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SNIPERBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PublicKey, "SNIPERBOT_WALLET_PUBLIC_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SNIPERBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SNIPERBOT_WALLET_KEY_PASSWORD")

	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "SNIPERBOT_SOLANA_RPC_URL")
	setStr(&cfg.Solana.WSURL, "SNIPERBOT_SOLANA_WS_URL")
	setStr(&cfg.Solana.Commitment, "SNIPERBOT_SOLANA_COMMITMENT")

	// ── Jupiter ──
	setStr(&cfg.Jupiter.BaseURL, "SNIPERBOT_JUPITER_BASE_URL")
	setDuration(&cfg.Jupiter.Timeout, "SNIPERBOT_JUPITER_TIMEOUT")

	// ── AI ──
	setBool(&cfg.AI.Enabled, "SNIPERBOT_AI_ENABLED")
	setStr(&cfg.AI.BaseURL, "SNIPERBOT_AI_BASE_URL")
	setStr(&cfg.AI.ApiKey, "SNIPERBOT_AI_API_KEY")
	setDuration(&cfg.AI.Timeout, "SNIPERBOT_AI_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SNIPERBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "SNIPERBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SNIPERBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SNIPERBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SNIPERBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SNIPERBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SNIPERBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SNIPERBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SNIPERBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SNIPERBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SNIPERBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SNIPERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SNIPERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SNIPERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SNIPERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SNIPERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SNIPERBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SNIPERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SNIPERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SNIPERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SNIPERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SNIPERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SNIPERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SNIPERBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SNIPERBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SNIPERBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "SNIPERBOT_ARCHIVE_INTERVAL")

	// ── Portfolio ──
	setFloat64(&cfg.Portfolio.InitialBalanceSOL, "SNIPERBOT_PORTFOLIO_INITIAL_BALANCE_SOL")
	setDuration(&cfg.Portfolio.RefreshInterval, "SNIPERBOT_PORTFOLIO_REFRESH_INTERVAL")

	// ── Risk ──
	setFloat64(&cfg.Risk.GlobalMaxExposure, "SNIPERBOT_RISK_GLOBAL_MAX_EXPOSURE")
	setFloat64(&cfg.Risk.MaxDailyLoss, "SNIPERBOT_RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.MaxDrawdown, "SNIPERBOT_RISK_MAX_DRAWDOWN")
	setStr(&cfg.Risk.PositionSizing, "SNIPERBOT_RISK_POSITION_SIZING")
	setFloat64(&cfg.Risk.CircuitBreakerThreshold, "SNIPERBOT_RISK_CIRCUIT_BREAKER_THRESHOLD")
	setBool(&cfg.Risk.EmergencyStopEnabled, "SNIPERBOT_RISK_EMERGENCY_STOP_ENABLED")
	setFloat64(&cfg.Risk.MaxPositionSize, "SNIPERBOT_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxPortfolioExposure, "SNIPERBOT_RISK_MAX_PORTFOLIO_EXPOSURE")
	setFloat64(&cfg.Risk.MaxCorrelationExposure, "SNIPERBOT_RISK_MAX_CORRELATION_EXPOSURE")

	// ── Position ──
	setDuration(&cfg.Position.MonitorInterval, "SNIPERBOT_POSITION_MONITOR_INTERVAL")
	setDuration(&cfg.Position.ExecutionTimeout, "SNIPERBOT_POSITION_EXECUTION_TIMEOUT")
	setInt(&cfg.Position.MaxCloseAttempts, "SNIPERBOT_POSITION_MAX_CLOSE_ATTEMPTS")
	setDuration(&cfg.Position.CloseRetryBackoff, "SNIPERBOT_POSITION_CLOSE_RETRY_BACKOFF")
	setInt(&cfg.Position.MaxOpenPositions, "SNIPERBOT_POSITION_MAX_OPEN_POSITIONS")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Active, "SNIPERBOT_STRATEGY_ACTIVE")
	setBool(&cfg.Strategy.AutoExecute, "SNIPERBOT_STRATEGY_AUTO_EXECUTE")
	setBool(&cfg.Strategy.LiquiditySnipe.Enabled, "SNIPERBOT_STRATEGY_LIQUIDITY_SNIPE_ENABLED")
	setFloat64(&cfg.Strategy.LiquiditySnipe.SizeSOL, "SNIPERBOT_STRATEGY_LIQUIDITY_SNIPE_SIZE_SOL")
	setBool(&cfg.Strategy.VolumeSpike.Enabled, "SNIPERBOT_STRATEGY_VOLUME_SPIKE_ENABLED")
	setFloat64(&cfg.Strategy.VolumeSpike.SizeSOL, "SNIPERBOT_STRATEGY_VOLUME_SPIKE_SIZE_SOL")

	// ── Executor ──
	setStr(&cfg.Executor.Backend, "SNIPERBOT_EXECUTOR_BACKEND")
	setInt(&cfg.Executor.MaxSlippageBps, "SNIPERBOT_EXECUTOR_MAX_SLIPPAGE_BPS")
	setUint64(&cfg.Executor.PriorityFeeLamports, "SNIPERBOT_EXECUTOR_PRIORITY_FEE_LAMPORTS")
	setDuration(&cfg.Executor.DedupTTL, "SNIPERBOT_EXECUTOR_DEDUP_TTL")

	// ── Feed ──
	setStr(&cfg.Feed.WSURL, "SNIPERBOT_FEED_WS_URL")
	setDuration(&cfg.Feed.ReconnectDelay, "SNIPERBOT_FEED_RECONNECT_DELAY")
	setBool(&cfg.Feed.SubscribeNewPools, "SNIPERBOT_FEED_SUBSCRIBE_NEW_POOLS")
	setStringSlice(&cfg.Feed.Tokens, "SNIPERBOT_FEED_TOKENS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SNIPERBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SNIPERBOT_SERVER_PORT")
	setStr(&cfg.Server.ApiKey, "SNIPERBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SNIPERBOT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SNIPERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SNIPERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SNIPERBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SNIPERBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SNIPERBOT_MODE")
	setStr(&cfg.LogLevel, "SNIPERBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

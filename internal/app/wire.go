package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sniperlabs/sniperbot/internal/ai"
	s3blob "github.com/sniperlabs/sniperbot/internal/blob/s3"
	"github.com/sniperlabs/sniperbot/internal/cache/redis"
	"github.com/sniperlabs/sniperbot/internal/config"
	"github.com/sniperlabs/sniperbot/internal/domain"
	"github.com/sniperlabs/sniperbot/internal/notify"
	"github.com/sniperlabs/sniperbot/internal/platform/jupiter"
	"github.com/sniperlabs/sniperbot/internal/platform/solana"
	"github.com/sniperlabs/sniperbot/internal/store/postgres"
)

// Dependencies bundles every infrastructure-level dependency the run modes
// compose services from. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Hot state and coordination
	Positions   domain.PositionStore
	Portfolio   domain.PortfolioStore
	Prices      domain.PriceCache
	Tokens      domain.TokenCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	SignalBus   domain.SignalBus

	// Durable history
	Closed     domain.ClosedPositionStore
	RiskEvents domain.RiskEventStore

	// Chain access
	Solana  *solana.Client
	Jupiter *jupiter.Client

	// Cold storage; nil unless archival is enabled
	Archiver *s3blob.Archiver

	// Advisory; nil unless the AI service is enabled
	Advisor *ai.Client

	// Notifications; a senderless notifier when no channel is configured
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL: closed-position history and the risk audit log ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: int32(cfg.Postgres.PoolMaxConns),
		MinConns: int32(cfg.Postgres.PoolMinConns),
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Closed = postgres.NewClosedPositionStore(pool)
	deps.RiskEvents = postgres.NewRiskEventStore(pool)

	// --- Redis: open positions, prices, coordination, the signal bus ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Positions = redis.NewPositionStore(redisClient)
	deps.Portfolio = redis.NewPortfolioStore(redisClient)
	deps.Prices = redis.NewPriceCache(redisClient)
	deps.Tokens = redis.NewTokenCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Chain access ---
	deps.Solana = solana.NewClient(cfg.Solana.RPCURL, cfg.Solana.Commitment)
	deps.Jupiter = jupiter.NewClient(cfg.Jupiter.BaseURL, cfg.Jupiter.APIKey, cfg.Jupiter.Timeout.Duration)

	// --- Cold archival of closed positions ---
	if cfg.Archive.Enabled {
		blob, err := s3blob.New(ctx, s3blob.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		archiver := s3blob.NewArchiver(blob, deps.Closed, deps.RiskEvents, s3blob.ArchiverConfig{
			RetentionDays: cfg.Archive.RetentionDays,
			Interval:      cfg.Archive.Interval.Duration,
		}, logger)
		archiver.SetLockManager(deps.Locks)
		deps.Archiver = archiver
	}

	// --- AI trade advisor ---
	if cfg.AI.Enabled {
		deps.Advisor = ai.NewClient(cfg.AI.BaseURL, cfg.AI.ApiKey, cfg.AI.Timeout.Duration, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sniperlabs/sniperbot/internal/crypto"
	"github.com/sniperlabs/sniperbot/internal/domain"
	"github.com/sniperlabs/sniperbot/internal/executor"
	"github.com/sniperlabs/sniperbot/internal/feed"
	"github.com/sniperlabs/sniperbot/internal/server"
	"github.com/sniperlabs/sniperbot/internal/server/handler"
	"github.com/sniperlabs/sniperbot/internal/server/ws"
	"github.com/sniperlabs/sniperbot/internal/service"
	"github.com/sniperlabs/sniperbot/internal/strategy"
)

// signalBuffer sizes the strategy-to-executor channel. Bursts beyond it
// apply backpressure to the engine rather than dropping signals.
const signalBuffer = 32

// services holds the core domain services every mode composes from the
// wired dependencies.
type services struct {
	risk    *service.RiskManager
	tracker *service.PortfolioTracker
	manager *service.PositionManager
	backend domain.ExecutionBackend
	advisor executor.Advisor
}

// TradeMode runs the full trading loop: stream feed, strategy engine,
// executor, and position monitoring. The control API starts only when
// server.enabled is set.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runTrading(ctx, deps, a.cfg.Server.Enabled)
}

// AllMode runs the trading loop with the control API always on.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runTrading(ctx, deps, true)
}

// MonitorMode runs the market data plane and the control API without
// automated trading: strategies publish signals for inspection, open
// positions are reported but never auto-exited. Manual closes through the
// API still execute via the configured backend.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	svc, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	openMints, err := a.restoreState(ctx, deps, svc)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	engine, signalCh := a.buildEngine(true)

	stream := a.buildStream(deps, openMints)
	g.Go(func() error {
		defer stream.Close()
		return stream.Run(ctx)
	})

	// No position ticker: price flow must not trigger exits here.
	feeder := feed.NewBusFeeder(deps.SignalBus, engine, nil, a.logger)
	g.Go(func() error { return feeder.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return a.drainSignals(ctx, signalCh) })
	g.Go(func() error { return svc.tracker.Run(ctx) })
	g.Go(func() error { return a.runDailyReset(ctx, svc) })

	a.startHTTPServer(ctx, g, deps, svc, engine)

	return g.Wait()
}

// APIMode serves only the control API and the event stream. No market data
// flows and no loops run; the strategy catalog is visible but idle, and
// manual closes still execute through the configured backend.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)

	svc, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("api mode: %w", err)
	}
	if _, err := a.restoreState(ctx, deps, svc); err != nil {
		return fmt.Errorf("api mode: %w", err)
	}

	engine, _ := a.buildEngine(false)

	g.Go(func() error { return svc.tracker.Run(ctx) })
	a.startHTTPServer(ctx, g, deps, svc, engine)

	return g.Wait()
}

// runTrading is the shared body of TradeMode and AllMode.
func (a *App) runTrading(ctx context.Context, deps *Dependencies, withServer bool) error {
	g, ctx := errgroup.WithContext(ctx)

	svc, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("trading: %w", err)
	}
	openMints, err := a.restoreState(ctx, deps, svc)
	if err != nil {
		return fmt.Errorf("trading: %w", err)
	}

	engine, signalCh := a.buildEngine(true)

	stream := a.buildStream(deps, openMints)
	g.Go(func() error {
		defer stream.Close()
		return stream.Run(ctx)
	})

	feeder := feed.NewBusFeeder(deps.SignalBus, engine, svc.manager, a.logger)
	g.Go(func() error { return feeder.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return svc.manager.Run(ctx) })
	g.Go(func() error { return svc.tracker.Run(ctx) })
	g.Go(func() error { return a.runDailyReset(ctx, svc) })

	if a.cfg.Strategy.AutoExecute {
		exec := executor.NewExecutor(signalCh, svc.backend, svc.risk, svc.tracker, svc.manager, svc.advisor,
			executor.Options{
				MaxSlippageBps:      a.cfg.Executor.MaxSlippageBps,
				PriorityFeeLamports: a.cfg.Executor.PriorityFeeLamports,
				DedupTTL:            a.cfg.Executor.DedupTTL.Duration,
				ExecutionTimeout:    a.cfg.Position.ExecutionTimeout.Duration,
			}, a.logger)
		exec.SetAlerter(deps.Notifier)
		g.Go(func() error { return exec.Run(ctx) })
	} else {
		a.logger.InfoContext(ctx, "strategy.auto_execute is false; signals are published but not executed")
		g.Go(func() error { return a.drainSignals(ctx, signalCh) })
	}

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}

	if withServer {
		a.startHTTPServer(ctx, g, deps, svc, engine)
	}

	return g.Wait()
}

// buildServices assembles the risk manager, portfolio tracker, and position
// manager around the configured execution backend.
func (a *App) buildServices(deps *Dependencies) (*services, error) {
	risk := service.NewRiskManager(service.RiskManagerConfig{
		GlobalMaxExposure:       a.cfg.Risk.GlobalMaxExposure,
		MaxDailyLoss:            a.cfg.Risk.MaxDailyLoss,
		MaxDrawdown:             a.cfg.Risk.MaxDrawdown,
		PositionSizing:          a.cfg.Risk.PositionSizing,
		CircuitBreakerThreshold: a.cfg.Risk.CircuitBreakerThreshold,
		EmergencyStopEnabled:    a.cfg.Risk.EmergencyStopEnabled,
		Limits: domain.PositionLimits{
			MaxPositionSize:        a.cfg.Risk.MaxPositionSize,
			MaxPortfolioExposure:   a.cfg.Risk.MaxPortfolioExposure,
			MaxCorrelationExposure: a.cfg.Risk.MaxCorrelationExposure,
		},
	}, deps.RiskEvents, deps.Notifier, a.logger)

	tracker := service.NewPortfolioTracker(
		a.cfg.Portfolio.InitialBalanceSOL,
		deps.Portfolio,
		deps.Prices,
		risk,
		a.cfg.Portfolio.RefreshInterval.Duration,
		a.logger,
	)

	backend, wallet, err := a.buildBackend(deps)
	if err != nil {
		return nil, err
	}

	manager := service.NewPositionManager(
		deps.Positions,
		deps.Closed,
		deps.Prices,
		backend,
		risk,
		tracker,
		deps.SignalBus,
		deps.Notifier,
		service.PositionManagerConfig{
			MonitorInterval:   a.cfg.Position.MonitorInterval.Duration,
			ExecutionTimeout:  a.cfg.Position.ExecutionTimeout.Duration,
			MaxCloseAttempts:  a.cfg.Position.MaxCloseAttempts,
			CloseRetryBackoff: a.cfg.Position.CloseRetryBackoff.Duration,
			MaxOpenPositions:  a.cfg.Position.MaxOpenPositions,
		},
		a.logger,
	)
	tracker.SetPositionSource(manager)
	if wallet != "" {
		tracker.SetBalanceFetcher(deps.Solana, wallet)
	}

	var advisor executor.Advisor
	if deps.Advisor != nil {
		advisor = deps.Advisor
	}

	return &services{
		risk:    risk,
		tracker: tracker,
		manager: manager,
		backend: backend,
		advisor: advisor,
	}, nil
}

// buildBackend selects the execution backend. Live execution loads the
// signing key and returns the wallet address for on-chain balance reads;
// paper needs neither.
func (a *App) buildBackend(deps *Dependencies) (domain.ExecutionBackend, string, error) {
	if strings.ToLower(a.cfg.Executor.Backend) != "live" {
		return executor.NewPaperBackend(a.cfg.Executor.PaperSlippageBps, a.cfg.Executor.PaperFeeSOL, a.logger), "", nil
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, "", fmt.Errorf("load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return nil, "", fmt.Errorf("wallet signer: %w", err)
	}
	return executor.NewLiveBackend(deps.Jupiter, deps.Solana, signer, a.logger), signer.PublicKey(), nil
}

// buildEngine assembles the strategy registry from configuration. When
// enable is false the catalog is registered but nothing runs, which is what
// the api mode wants for its read-only views.
func (a *App) buildEngine(enable bool) (*strategy.Engine, chan domain.TradeSignal) {
	signalCh := make(chan domain.TradeSignal, signalBuffer)

	lsCfg := a.cfg.Strategy.LiquiditySnipe
	vsCfg := a.cfg.Strategy.VolumeSpike
	window := time.Duration(vsCfg.WindowSec) * time.Second
	if window <= 0 {
		window = time.Minute
	}

	reg := strategy.NewRegistry()
	reg.Register("liquidity_snipe", strategy.NewLiquiditySnipe(strategy.LiquiditySnipeConfig{
		MinLiquiditySOL: lsCfg.MinLiquiditySOL,
		MaxTokenAge:     time.Duration(lsCfg.MaxTokenAgeSec) * time.Second,
		SizeSOL:         lsCfg.SizeSOL,
		Cooldown:        time.Duration(lsCfg.CooldownSec) * time.Second,
	}, a.logger))
	reg.Register("volume_spike", strategy.NewVolumeSpike(strategy.VolumeSpikeConfig{
		VolumeMultiple: vsCfg.VolumeMultiple,
		Window:         window,
		SizeSOL:        vsCfg.SizeSOL,
		Cooldown:       time.Duration(vsCfg.CooldownSec) * time.Second,
	}, strategy.NewPriceTracker(2*window), a.logger))

	engine := strategy.NewEngine(reg, signalCh, a.logger)
	if !enable {
		return engine, signalCh
	}

	// strategy.active selects, the per-strategy enabled flag gates.
	var names []string
	for _, name := range a.cfg.Strategy.Active {
		switch name {
		case "liquidity_snipe":
			if lsCfg.Enabled {
				names = append(names, name)
			}
		case "volume_spike":
			if vsCfg.Enabled {
				names = append(names, name)
			}
		default:
			a.logger.Warn("unknown strategy in strategy.active", slog.String("strategy", name))
		}
	}
	if len(names) > 0 {
		if err := engine.SetEnabled(names); err != nil {
			a.logger.Warn("failed to enable strategies, engine will idle",
				slog.Any("strategies", names),
				slog.String("error", err.Error()),
			)
		}
	}
	return engine, signalCh
}

// buildStream creates the DEX stream feed and pre-subscribes the trade
// streams of restored open positions so their exits see prices again.
func (a *App) buildStream(deps *Dependencies, openMints []string) *feed.DexStreamFeed {
	stream := feed.NewDexStreamFeed(feed.StreamConfig{
		WSURL:             a.cfg.Feed.WSURL,
		ReconnectDelay:    a.cfg.Feed.ReconnectDelay.Duration,
		SubscribeNewPools: a.cfg.Feed.SubscribeNewPools,
		Tokens:            a.cfg.Feed.Tokens,
	}, deps.SignalBus, deps.Prices, a.logger)
	stream.SetTokenCache(deps.Tokens)
	if len(openMints) > 0 {
		// Not connected yet, so this only seeds the subscription set.
		_ = stream.SubscribeTrades(openMints...)
	}
	return stream
}

// restoreState reloads open positions, the portfolio snapshot, and today's
// realized PnL so a restart resumes where the previous process stopped. It
// returns the distinct mints of restored positions.
func (a *App) restoreState(ctx context.Context, deps *Dependencies, svc *services) ([]string, error) {
	restored, err := svc.manager.RestoreFromStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore positions: %w", err)
	}
	if restored > 0 {
		a.logger.InfoContext(ctx, "open positions restored", slog.Int("count", restored))
	}

	if err := svc.tracker.RestoreSnapshot(ctx); err != nil {
		a.logger.WarnContext(ctx, "portfolio snapshot restore failed, starting from initial balance",
			slog.String("error", err.Error()),
		)
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	if sum, err := deps.Closed.SumRealizedPnL(ctx, midnight); err != nil {
		a.logger.WarnContext(ctx, "daily pnl restore failed, counter starts at zero",
			slog.String("error", err.Error()),
		)
	} else if sum != 0 {
		svc.risk.UpdateDailyPnL(sum)
		a.logger.InfoContext(ctx, "daily pnl restored", slog.Float64("realized_today", sum))
	}

	open := svc.manager.ListOpenPositions()
	seen := make(map[string]struct{}, len(open))
	mints := make([]string, 0, len(open))
	for _, pos := range open {
		if _, ok := seen[pos.TokenMint]; ok {
			continue
		}
		seen[pos.TokenMint] = struct{}{}
		mints = append(mints, pos.TokenMint)
	}
	return mints, nil
}

// drainSignals consumes generated signals without executing them, so the
// engine never blocks and the recent-signal view stays live.
func (a *App) drainSignals(ctx context.Context, signalCh <-chan domain.TradeSignal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signalCh:
			if !ok {
				return nil
			}
			a.logger.InfoContext(ctx, "trade signal generated (execution disabled)",
				slog.String("signal_id", sig.ID),
				slog.String("strategy", sig.Strategy),
				slog.String("mint", sig.TokenMint),
				slog.String("side", string(sig.Side)),
			)
		}
	}
}

// runDailyReset zeroes the daily risk and portfolio counters at each UTC
// day boundary. The risk manager expects an external scheduler; this is it.
func (a *App) runDailyReset(ctx context.Context, svc *services) error {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			svc.risk.ResetDaily(ctx)
			svc.tracker.ResetDaily()
		}
	}
}

// startHTTPServer wires the control API and the WebSocket hub onto the
// errgroup. The engine may be idle in modes that generate no signals.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services, engine *strategy.Engine) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error { return hub.Run(ctx) })

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Solana, a.logger),
		Positions: handler.NewPositionHandler(svc.manager, a.logger),
		Portfolio: handler.NewPortfolioHandler(svc.tracker, a.logger),
		Risk:      handler.NewRiskHandler(svc.risk, a.logger),
		Signals:   handler.NewSignalHandler(engine, a.logger),
	}

	srv := server.New(server.Config{
		Port:        a.cfg.Server.Port,
		APIKey:      a.cfg.Server.ApiKey,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

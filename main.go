package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tradex-core/internal/api"
	"tradex-core/internal/engine"
	"tradex-core/internal/events"
	"tradex-core/internal/gateway"
	"tradex-core/internal/manual"
	"tradex-core/internal/market"
	"tradex-core/internal/monitor"
	"tradex-core/internal/order"
	"tradex-core/internal/reconciliation"
	"tradex-core/internal/strategy"
	"tradex-core/pkg/config"
	"tradex-core/pkg/crypto"
	"tradex-core/pkg/db"
	"tradex-core/pkg/instance"
	"tradex-core/pkg/logger"
	marketbinance "tradex-core/pkg/market/binance"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v2.0-dev"
	}
	stateDir := ""
	if cfg.DBPath != ":memory:" {
		stateDir = filepath.Dir(cfg.DBPath)
	}
	instanceID := instance.ID(stateDir)
	log.Info().Str("version", buildVersion).Str("instance_id", instanceID).Bool("dry_run", cfg.DryRun).
		Str("db_path", cfg.DBPath).Msg("starting tradex core")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal().Err(err).Msg("apply migrations")
	}

	registry, err := strategy.LoadRegistry(cfg.StrategyConfigPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StrategyConfigPath).Msg("load strategies")
	}
	log.Info().Int("strategies", registry.Len()).Msg("strategy registry loaded")

	// Market data: Redis when configured, in-process cache otherwise.
	var store market.Store = market.NewMemoryStore()
	var tiered *market.TieredStore
	if cfg.RedisAddr != "" {
		tiered = market.NewTieredStore(ctx, market.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger.Component(log, "cache"))
		store = tiered
	}
	source := market.NewSource(
		marketbinance.NewClient(cfg.BinanceTestnet, logger.Component(log, "binance")),
		store,
		market.Options{KlineTTL: cfg.CandleCacheTTL},
		logger.Component(log, "market"),
	)

	// Credentials are optional in dry-run; live trading needs a master key.
	var keyring *crypto.Keyring
	if len(cfg.MasterEncryptionKeys) > 0 {
		keyring, err = crypto.NewKeyring(cfg.MasterEncryptionKeys...)
		if err != nil {
			log.Fatal().Err(err).Msg("load master encryption keys")
		}
		log.Info().Int("key_version", keyring.CurrentVersion()).Msg("credential keyring ready")
	} else if !cfg.DryRun {
		log.Fatal().Msg("MASTER_ENCRYPTION_KEY is required when DRY_RUN=false")
	}

	gwCfg := gateway.DefaultConfig()
	var factory gateway.Factory
	if cfg.DryRun {
		gwCfg.SkipCredentials = true
		factory = gateway.PaperFactory(source, order.DryRunSimConfig{
			FeeRate:         cfg.DryRunFeeRate,
			SlippageBps:     cfg.DryRunSlippageBps,
			StartingBalance: cfg.DryRunStartingBalance,
		}, logger.Component(log, "paper"))
	} else {
		factory = gateway.SpotFactory(cfg.BinanceTestnet, logger.Component(log, "spot"))
	}
	var decrypter gateway.Decrypter
	if keyring != nil {
		decrypter = keyring
	}
	gateways := gateway.NewManager(database, decrypter, factory, gwCfg, logger.Component(log, "gateway"))
	gateways.Start(ctx)

	bus := events.NewBus()
	metrics := monitor.NewMetrics()

	scheduler := engine.NewScheduler(engine.Deps{
		Registry: registry,
		Market:   source,
		Gateways: gateways,
		Store:    database,
		Bus:      bus,
		Metrics:  metrics,
		Logs:     engine.NewLogBuffer(),
	}, engine.Options{
		PollInterval:    cfg.PollInterval,
		RetryDelay:      cfg.RetryDelay,
		OrderRetryDelay: cfg.OrderRetryDelay,
		CandleBuffer:    cfg.CandleBuffer,
		DefaultAmount:   cfg.DefaultTradeAmount,
		InstanceID:      instanceID,
		ResumeRuns:      cfg.ResumeRuns,
	}, logger.Component(log, "engine"))
	if err := scheduler.Reconcile(ctx); err != nil {
		log.Error().Err(err).Msg("reconcile persisted runs")
	}

	manualMon := manual.NewMonitor(database, source, gateways, bus, cfg.ManualPollInterval, logger.Component(log, "manual"))
	if n, err := manualMon.Resume(ctx); err != nil {
		log.Error().Err(err).Msg("resume manual trade monitors")
	} else if n > 0 {
		log.Info().Int("trades", n).Msg("manual trade monitors resumed")
	}

	metrics.RegisterGauge("active_runs", scheduler.ActiveRuns)
	metrics.RegisterGauge("gateways", func() int { return gateways.Stats().TotalGateways })
	if tiered != nil {
		metrics.RegisterGauge("redis_healthy", func() int {
			if tiered.Healthy() {
				return 1
			}
			return 0
		})
	}

	deps := api.Deps{
		Engine:    scheduler,
		Ledger:    reconciliation.Select(database, cfg.LedgerFeeRate),
		Store:     database,
		Klines:    source,
		Manual:    manualMon,
		Gateways:  gateways,
		Balances:  gateways,
		Bus:       bus,
		Metrics:   metrics,
		JWTSecret: cfg.JWTSecret,
		Meta: api.SystemMeta{
			DryRun:     cfg.DryRun,
			Testnet:    cfg.BinanceTestnet,
			InstanceID: instanceID,
			Version:    buildVersion,
		},
	}
	if keyring != nil {
		deps.Keys = keyring
	}
	server := api.NewServer(deps, logger.Component(log, "api"))
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	healthSrv := api.NewHealthServer(logger.Component(log, "grpc"))
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("grpc listen")
	}
	go func() {
		if err := healthSrv.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc server stopped")
		}
	}()
	healthSrv.SetServing(true)

	<-ctx.Done()
	log.Info().Msg("shutting down")
	healthSrv.SetServing(false)

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler shutdown")
	}
	if err := manualMon.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("manual monitor shutdown")
	}
	gateways.Stop()
	healthSrv.Stop(shutdownCtx)
	if tiered != nil {
		if err := tiered.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
	log.Info().Msg("bye")
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/coinhaven/swapd/internal/aggregator"
	"github.com/coinhaven/swapd/internal/api"
	"github.com/coinhaven/swapd/internal/catalog"
	"github.com/coinhaven/swapd/internal/config"
	"github.com/coinhaven/swapd/internal/publisher"
	"github.com/coinhaven/swapd/internal/quotecache"
	"github.com/coinhaven/swapd/internal/rate"
	"github.com/coinhaven/swapd/internal/swap"
	"github.com/coinhaven/swapd/internal/tradestore"
	"github.com/coinhaven/swapd/pkg/logger"
	"github.com/coinhaven/swapd/pkg/secrets"
	"github.com/coinhaven/swapd/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	logg := logger.S()
	logg.Info("starting [swapd]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- Aggregator credentials (AWS Secrets Manager, env fallback) ---
	var provider secrets.Provider
	if cfg.AggregatorSecretName != "" {
		awsProvider, err := secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		provider = awsProvider
	} else {
		logg.Warn("AGGREGATOR_SECRET_NAME not set; using static aggregator credentials from env")
	}

	credsCache := secrets.NewCache[aggregator.Credentials](cfg.SecretCacheTTL)
	stopCleaner := make(chan struct{})
	go credsCache.StartCleaner(cfg.SecretCleanupFreq, stopCleaner)

	resolver := aggregator.NewCredentialsResolver(
		logger.L(),
		provider,
		credsCache,
		cfg.AggregatorSecretName,
		aggregator.Credentials{BaseURL: cfg.AggregatorBaseURL, APIKey: cfg.AggregatorAPIKey},
	)

	// --- Outbound rate limiter ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.AggregatorRateLimit,
		Burst:             cfg.AggregatorBurst,
	})

	aggClient := aggregator.NewClient(logger.L(), rateMgr, resolver, cfg.AggregatorTimeout, cfg.AggregatorRetryMax)

	// --- Redis (quote cache, catalog cache, inbound rate limiting) ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logg.Fatalw("failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
	}
	quotes := quotecache.New(rdb, logger.L(), cfg.QuoteGrace)

	// --- Trade store (Postgres) ---
	store, err := tradestore.New(ctx, cfg.DatabaseURL, tradestore.PoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logger.L())
	if err != nil {
		logg.Fatalw("failed to init trade store", "error", err)
	}

	// --- NATS + event publisher ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}
	pub, err := publisher.New(nc, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Lifecycle engine ---
	validator := swap.NewValidator(logger.L(), aggClient)
	engine := swap.NewEngine(logger.L(), aggClient, quotes, store, validator, pub, swap.Options{
		RefreshThreshold: cfg.RefreshThreshold,
		PersistAttempts:  cfg.PersistAttempts,
		ExpiryPolicy:     cfg.ExpiryPolicy,
		DepositWindow:    cfg.DepositWindow,
	})

	// --- Background sweeper ---
	sweeper := swap.NewSweeper(logger.L(), engine, cfg.SweepInterval, cfg.SweepBatchSize)
	sweeper.Start(ctx)

	// --- Reference catalog ---
	catalogSvc := catalog.NewService(logger.L(), aggClient, rdb, store.Pool(), cfg.CatalogCacheTTL)
	catalogSvc.StartSync(ctx, cfg.ProviderSyncInterval)

	// --- Fiber HTTP server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	handler := api.NewHandler(logger.L(), engine, catalogSvc)
	rateLimit := api.NewRateLimiter(logger.L(), rdb, api.RateLimitConfig{
		MaxRequests: cfg.RateLimitMax,
		Window:      cfg.RateLimitWindow,
	})
	api.RegisterRoutes(app, handler, rateLimit, rdb, store, nc)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[swapd] running",
		"env", cfg.Env,
		"nats", cfg.NATSURL,
		"redis", cfg.RedisAddr,
		"refresh_threshold", cfg.RefreshThreshold,
		"expiry_policy", string(cfg.ExpiryPolicy))

	<-ctx.Done()
	logg.Info("shutting down [swapd]...")

	close(stopCleaner)
	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	store.Close()
	if err := rdb.Close(); err != nil {
		logg.Warnw("redis.close_failed", "error", err)
	}
}

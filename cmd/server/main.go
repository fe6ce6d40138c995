package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/pulsehq/pulse/auth"
	"github.com/pulsehq/pulse/internal/config"
	"github.com/pulsehq/pulse/internal/slogging"
	"github.com/pulsehq/pulse/realtime"
	"github.com/pulsehq/pulse/services"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server exited: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := slogging.Initialize(slogging.Config{
		Level:            slogging.ParseLogLevel(cfg.Logging.Level),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		AlsoLogToConsole: cfg.Logging.Console,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Infrastructure
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Database.Redis.Addr(),
		Password: cfg.Database.Redis.Password,
		DB:       cfg.Database.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	store, err := services.NewPostgresStore(ctx, cfg.Database.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	defer store.Close()

	// Auth
	blacklist := auth.NewTokenBlacklist(redisClient)
	verifier := auth.NewService(auth.Config{
		Secret:   cfg.Auth.JWT.Secret,
		Issuer:   cfg.Auth.JWT.Issuer,
		TokenTTL: time.Duration(cfg.Auth.JWT.ExpirationSeconds) * time.Second,
	}, blacklist, store)

	// Realtime core
	rt := cfg.Realtime
	hub := realtime.NewHub(rt.SendBufferSize)
	signer := realtime.NewSigner(realtime.SignerConfig{
		Secret:     cfg.Auth.JWT.Secret,
		TimeWindow: rt.ReplayWindow,
		CacheTTL:   rt.ReplayCacheTTL,
	})
	limiter := realtime.NewLimiter(realtime.LimiterConfig{
		Capacity:   rt.BucketCapacity,
		RefillRate: rt.BucketRefillRate,
		IdleTTL:    rt.BucketIdleTTL,
	})
	idempotency := realtime.NewIdempotencyCache(rt.IdempotencyTTL)
	caller := realtime.NewCaller(realtime.CallerConfig{
		MaxAttempts: rt.CallMaxAttempts,
		BaseBackoff: rt.CallBaseBackoff,
		Deadline:    rt.CallDeadline,
	})
	dispatcher := realtime.NewDispatcher(hub, limiter, idempotency, caller, store.Registry(), realtime.DispatcherConfig{
		MaxBatchSize: rt.MaxBatchSize,
	})
	handler := realtime.NewHandler(hub, dispatcher, signer, verifier, rt.MaxMessageSize)
	admin := realtime.NewAdminHandlers(hub, realtime.AdminConfig{
		IdleThreshold:  rt.IdleThreshold,
		MaxMessageSize: rt.MaxMessageSize,
	})

	// HTTP surface
	if !cfg.Logging.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", handler.HandleWS)
	admin.RegisterRoutes(router.Group("/admin"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:         cfg.Server.Interface + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Background maintenance, each independently cancellable
	g.Go(func() error {
		signer.RunSweeper(gctx, rt.CacheSweepEvery)
		return nil
	})
	g.Go(func() error {
		idempotency.RunSweeper(gctx, rt.CacheSweepEvery)
		return nil
	})
	g.Go(func() error {
		limiter.RunSweeper(gctx, rt.BucketIdleTTL)
		return nil
	})
	g.Go(func() error {
		hub.RunReaper(gctx, rt.ReapEvery, rt.IdleThreshold)
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"dealflow/api/internal/app"
	"dealflow/api/internal/archive"
	"dealflow/api/internal/auth"
	"dealflow/api/internal/config"
	"dealflow/api/internal/delivery"
	"dealflow/api/internal/pipeline"
	"dealflow/api/internal/ratelimit"
	"dealflow/api/internal/search"
	"dealflow/api/internal/store"
	"dealflow/api/internal/util"
)

// memoryDatabaseURL runs the API on the in-process store, for local demos.
const memoryDatabaseURL = "memory"

func main() {
	cfg, err := config.Load(os.Getenv("DEALFLOW_CONFIG"))
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("database setup failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	opts := app.Options{Rules: pipeline.Rules{Quorum: cfg.Quorum}}
	serverOpts := app.ServerOptions{CORSOrigin: cfg.CORSOrigin, TrustForwardedFor: cfg.TrustForwardedFor}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(redisOpts)
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}

		tracker := delivery.NewRedisTracker(client, cfg.DeliveryTTL)
		opts.Tracker = tracker
		serverOpts.Checks = map[string]app.Pinger{"redis": tracker}
		if cfg.WebhookRateLimitPerMinute > 0 {
			limiter, err := ratelimit.NewFixedWindowLimiter(client, "dealflow:ratelimit:webhook", cfg.WebhookRateLimitPerMinute, time.Minute)
			if err != nil {
				logger.Error("rate limiter setup failed", "error", err)
				os.Exit(1)
			}
			serverOpts.Limiter = limiter
		}
		logger.Info("redis enabled", "rate_limit_per_minute", cfg.WebhookRateLimitPerMinute)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewStoreFallback(dataStore))
	opts.Search = searchService
	go searchService.ReindexAll(ctx)

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		deliveries, err := archive.NewMinioArchive(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Error("minio setup failed", "error", err)
			os.Exit(1)
		}
		opts.Archive = deliveries
		logger.Info("delivery archive enabled", "bucket", cfg.MinioBucket)
	}

	verifier, err := auth.NewVerifier(auth.VerifierOptions{
		Secret:   []byte(cfg.AuthJWTSecret),
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
	})
	if err != nil {
		logger.Error("token verifier setup failed", "error", err)
		os.Exit(1)
	}
	serverOpts.Verifier = verifier

	service := app.New(dataStore, opts)
	httpServer := app.NewHTTPServer(service, serverOpts)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("dealflow API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	searchService.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (app.Store, func(), error) {
	if cfg.DatabaseURL == memoryDatabaseURL {
		slog.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	openCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	db, err := store.Open(openCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
}

// Package main is the entrypoint for the InboxPilot API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kiranshivaraju/inboxpilot/internal/ai"
	"github.com/kiranshivaraju/inboxpilot/internal/api"
	"github.com/kiranshivaraju/inboxpilot/internal/api/handler"
	mw "github.com/kiranshivaraju/inboxpilot/internal/api/middleware"
	"github.com/kiranshivaraju/inboxpilot/internal/assistant"
	"github.com/kiranshivaraju/inboxpilot/internal/cache"
	"github.com/kiranshivaraju/inboxpilot/internal/config"
	"github.com/kiranshivaraju/inboxpilot/internal/logging"
	"github.com/kiranshivaraju/inboxpilot/internal/mailbox"
	"github.com/kiranshivaraju/inboxpilot/internal/metrics"
	"github.com/kiranshivaraju/inboxpilot/internal/policy"
	"github.com/kiranshivaraju/inboxpilot/internal/ratelimit"
	"github.com/kiranshivaraju/inboxpilot/internal/store"
	"github.com/kiranshivaraju/inboxpilot/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer closeLog()
	slog.SetDefault(logger)
	slog.Info("config loaded", "llm_provider", cfg.LLM.Provider, "db_driver", cfg.Database.Driver, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the job store
	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Cache and admission limiter
	kv, limiter, err := openCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer kv.Close()

	// 4. LLM provider and client
	metrics.MustRegister()

	provider, err := ai.NewProvider(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("create LLM provider: %w", err)
	}
	slog.Info("LLM provider initialized", "provider", provider.Name(), "model", cfg.LLM.Model)

	callLog := ai.NewCallLog(st, cfg.LLM.CallLogBuffer)
	responses := cache.NewResponseCache(kv)
	client := ai.NewClient(provider, responses, callLog, ai.SettingsFromConfig(cfg.LLM))

	// 5. Collaborators and job handlers
	pol, err := policy.LoadFile(cfg.Policy.File)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	mailboxes := mailbox.NewRegistry()
	if cfg.IMAP.Host != "" {
		mailboxes.Register("apple", mailbox.NewIMAPProvider(cfg.IMAP))
		slog.Info("imap mailbox registered", "host", cfg.IMAP.Host, "mailbox", cfg.IMAP.Mailbox)
	}
	helper := assistant.New(client, mailboxes, policy.NewClassifier(pol), st, client.MaxInputChars())

	// 6. Worker
	wk := worker.New(st, limiter, worker.Handlers(helper), worker.Config{
		PollInterval:       cfg.Queue.PollInterval,
		RetryBase:          cfg.Queue.RetryBase,
		MaxRetries:         cfg.Queue.MaxRetries,
		RateLimitPerMinute: cfg.Queue.RateLimitPerMinute,
		MinCallInterval:    cfg.Queue.MinCallInterval,
		StaleAfter:         cfg.Queue.StaleAfter,
	}, worker.WithLogger(logger.With("component", "worker")))
	wk.Start(ctx)

	// 7. Build router with dependencies
	auth := mw.NewAuth(cfg.Auth.APIKeyHash)
	if !auth.Enabled() {
		slog.Warn("API_KEY_HASH not set, API authentication disabled")
	}
	syncAPI := handler.NewSync(helper, limiter, st, handler.Limits{
		PerMinute:   cfg.Queue.RateLimitPerMinute,
		MinInterval: cfg.Queue.MinCallInterval,
	})

	router := api.NewRouter(api.Dependencies{
		Auth:      auth,
		RateLimit: mw.NewRateLimit(kv, cfg.Auth.RequestsPerMinute),

		HealthHandler:       handler.NewHealthHandler(st, kv),
		MetricsHandler:      promhttp.Handler(),
		CreateJobHandler:    handler.NewCreateJobHandler(st),
		GetJobHandler:       handler.NewGetJobHandler(st),
		DebugStatusHandler:  handler.NewDebugStatusHandler(st, wk, limiter),
		SuggestReplyHandler: syncAPI.SuggestReply,
		TriageHandler:       syncAPI.Triage,
		ChatHandler:         syncAPI.Chat,
		ChatResetHandler:    handler.NewChatResetHandler(st),
	})

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: HTTP first, then the worker, then pending call logs.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown: %w", err)
	}
	wk.Stop()
	callLog.Close()

	if serveErr != nil {
		return serveErr
	}
	slog.Info("server stopped gracefully")
	return nil
}

// openStore connects the configured backend and applies its migrations.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := store.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := store.RunMigrations(cfg.URL, migrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database connected", "driver", "postgres")
		return store.NewPostgresStore(pool), pool.Close, nil
	default:
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		slog.Info("database connected", "driver", "sqlite", "path", cfg.SQLitePath)
		return s, func() { s.Close() }, nil
	}
}

// openCache returns Redis-backed cache and limiter when REDIS_URL is set, and
// in-process ones otherwise.
func openCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, ratelimit.Limiter, error) {
	if cfg.URL == "" {
		slog.Info("REDIS_URL not set, using in-memory cache and rate limiter")
		return cache.NewMemoryCache(), ratelimit.NewMemoryLimiter(), nil
	}

	rc, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return rc, ratelimit.NewRedisLimiter(rc.Client()), nil
}

package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scrapegrid/scrapegrid/internal/api"
	"github.com/scrapegrid/scrapegrid/internal/browser"
	"github.com/scrapegrid/scrapegrid/internal/config"
	"github.com/scrapegrid/scrapegrid/internal/credits"
	"github.com/scrapegrid/scrapegrid/internal/engine"
	"github.com/scrapegrid/scrapegrid/internal/identity"
	"github.com/scrapegrid/scrapegrid/internal/scheduler"
	"github.com/scrapegrid/scrapegrid/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(ctx, store.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	extractions := store.NewExtractionStore(db)
	users := store.NewUserStore(db)

	browserOpts := &browser.Options{
		Headless:       cfg.Browser.Headless,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		Locale:         cfg.Browser.Locale,
		TimezoneID:     cfg.Browser.TimezoneID,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		Timeout:        cfg.Engine.NavigationTimeout,
	}
	b, err := browser.New(browserOpts)
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	pool := identity.NewPool(cfg.Identity.UserAgents, cfg.ProxyConfigs(), cfg.Identity.MinDelay, cfg.Identity.MaxDelay)
	robots := identity.NewRobotsChecker(logger)

	eng := engine.New(b, robots, pool, engine.Config{
		NavigationTimeout: cfg.Engine.NavigationTimeout,
		SettleDelay:       cfg.Engine.SettleDelay,
		DefaultMaxResults: cfg.Engine.DefaultMaxResults,
		ReviewCap:         cfg.Engine.ReviewCap,
		MinReviewLength:   cfg.Engine.MinReviewLength,
		Browser:           browserOpts,
	}, logger)

	creditSvc := credits.NewService(users, logger)
	pricing := credits.Pricing{
		DefaultMaxResults: cfg.Engine.DefaultMaxResults,
		ReviewCap:         cfg.Engine.ReviewCap,
	}

	// Redis backs the job queue; without it the scheduler falls back to an
	// in-process queue, so pending jobs do not survive a restart.
	var queue scheduler.Queue
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-memory job queue", "error", err)
		queue = scheduler.NewMemoryQueue()
	} else {
		queue = scheduler.NewRedisQueue(redisClient, logger)
	}

	sched := scheduler.New(queue, extractions, logger)
	worker := scheduler.NewWorker(queue, extractions, creditSvc, eng, pool, pricing, cfg.Worker.PollInterval, logger)
	go worker.Start(ctx)

	handlers := api.NewHandlers(extractions, sched, creditSvc, eng, pool, pricing, logger)
	router := api.NewRouter(handlers)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

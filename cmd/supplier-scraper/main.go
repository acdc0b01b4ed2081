package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/supplier-scraper/internal/api"
	"github.com/maltedev/supplier-scraper/internal/batch"
	"github.com/maltedev/supplier-scraper/internal/config"
	"github.com/maltedev/supplier-scraper/internal/database"
	"github.com/maltedev/supplier-scraper/internal/events"
	"github.com/maltedev/supplier-scraper/internal/fetcher"
	"github.com/maltedev/supplier-scraper/internal/logger"
	"github.com/maltedev/supplier-scraper/internal/parser"
	"github.com/maltedev/supplier-scraper/internal/rules"
	"github.com/maltedev/supplier-scraper/internal/session"
	"github.com/maltedev/supplier-scraper/internal/storage"
	"github.com/redis/go-redis/v9"
)

func main() {
	boot := logger.Default()

	cfg, err := config.Load()
	if err != nil {
		boot.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log, closeLog, err := logger.New(os.Stdout, logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		boot.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ruleSet := rules.Default()
	if cfg.Scraper.RulesFile != "" {
		ruleSet, err = rules.Load(cfg.Scraper.RulesFile)
		if err != nil {
			log.Error("failed to load rules", "file", cfg.Scraper.RulesFile, "error", err)
			os.Exit(1)
		}
	}

	f := fetcher.New(&fetcher.Options{
		Timeout:      cfg.Scraper.Timeout,
		UserAgents:   cfg.Scraper.UserAgents,
		MaxBodyBytes: cfg.Scraper.MaxBodyBytes,
	}, log)
	runner := batch.NewRunner(f, parser.NewSelectorParser(log), storage.NewResultStore(), cfg.Scraper.ConcurrentLimit, log)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
	}

	var sessionStore storage.SessionStore
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		sessionStore = storage.NewRedisSessionStore(redisClient, cfg.Session.Key, cfg.Session.TTL)
	default:
		sessionStore = storage.NewFileSessionStore(cfg.Session.Path)
	}

	ws := session.New(runner, sessionStore, log)
	if err := ws.SetRules(ruleSet); err != nil {
		log.Error("invalid rule set", "error", err)
		os.Exit(1)
	}
	if err := ws.SetSettings(session.Settings{
		ActiveSupplier: cfg.Scraper.Supplier,
		ProxyTemplate:  cfg.Scraper.ProxyTemplate,
	}); err != nil {
		log.Error("invalid scraper settings", "error", err)
		os.Exit(1)
	}

	var backlog api.BacklogReporter
	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			URL:      cfg.Database.URL,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			log.Error("failed to prepare database", "error", err)
			os.Exit(1)
		}

		runner.SetRecorder(events.NewPublisher(db, log))

		if redisClient != nil {
			relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, log, database.RelayConfig{
				PollInterval: cfg.Relay.PollInterval,
				BatchSize:    cfg.Relay.BatchSize,
				StreamMaxLen: cfg.Relay.StreamMaxLen,
			})
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("relay stopped with error", "error", err)
				}
			}()
			backlog = relay
		} else {
			log.Warn("redis disabled, outbox events will not be relayed")
		}
	}

	handlers := api.NewHandlers(ctx, ws, backlog, log)
	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewRouter(handlers, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting",
		"addr", server.Addr,
		"concurrency", cfg.Scraper.ConcurrentLimit,
		"session_backend", cfg.Session.Backend,
		"database", cfg.Database.Enabled)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

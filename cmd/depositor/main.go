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

	"go.uber.org/zap"

	"github.com/deepgreen/swordout/internal/alert"
	"github.com/deepgreen/swordout/internal/config"
	"github.com/deepgreen/swordout/internal/db"
	"github.com/deepgreen/swordout/internal/depositor"
	"github.com/deepgreen/swordout/internal/jper"
	"github.com/deepgreen/swordout/internal/observ"
	"github.com/deepgreen/swordout/internal/ops"
	"github.com/deepgreen/swordout/internal/redis"
	"github.com/deepgreen/swordout/internal/sword"
	"github.com/deepgreen/swordout/internal/tmpstore"
)

func main() {
	once := flag.Bool("once", false, "run a single pass and exit")
	accountID := flag.String("account", "", "process only this account id")
	failOnError := flag.Bool("fail-on-error", false, "abort the pass on the first transport error")
	flag.Parse()

	if err := run(*once, *accountID, *failOnError); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(once bool, accountID string, failOnError bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting sword depositor",
		zap.String("env", cfg.Env),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Bool("once", once),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	var locker depositor.Locker
	if cfg.RedisHost != "" {
		redisClient, err := redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, account locking disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			locker = redis.NewAccountLocker(redisClient, logger)
		}
	}

	var alerter depositor.Alerter
	if cfg.AlertTo != "" {
		sesAlerter, err := alert.NewSESAlerter(ctx, alert.Config{
			Region: cfg.AlertRegion,
			From:   cfg.AlertFrom,
			To:     cfg.AlertTo,
		}, logger)
		if err != nil {
			logger.Warn("alerting unavailable", zap.Error(err))
		} else {
			alerter = sesAlerter
		}
	}

	tmp, err := tmpstore.New(cfg.TmpDir)
	if err != nil {
		return fmt.Errorf("failed to create tmp store: %w", err)
	}

	defaultSince, err := time.Parse(time.RFC3339, cfg.DefaultSinceDate)
	if err != nil {
		return fmt.Errorf("invalid DEFAULT_SINCE_DATE: %w", err)
	}

	jperCfg := jper.Config{
		BaseURL:      cfg.JPERBaseURL,
		RewriteHosts: cfg.ContentRewriteHosts,
		InternalHost: cfg.ContentInternalHost,
	}
	sources := func(apiKey string) depositor.NotificationSource {
		return depositor.NewJPERSource(jper.New(jperCfg, apiKey, logger))
	}
	conns := func(username, password string) depositor.SwordConnection {
		return sword.NewConnection(username, password, logger)
	}

	engine := depositor.New(repo, sources, conns, tmp, locker, alerter, depositor.Config{
		DefaultSinceDate:   defaultSince,
		SinceDeltaDays:     cfg.SinceDeltaDays,
		RetryDelay:         cfg.RetryDelay,
		RetryLimit:         cfg.RetryLimit,
		MaxDepositAttempts: cfg.MaxDepositAttempts,
		StoreResponseData:  cfg.StoreResponseData,
		ResponseDir:        cfg.ResponseDir,
	}, logger)

	// ops endpoints: health, metrics, status CSV
	opsServer := ops.New(repo, database, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: opsServer.Router(),
	}
	go func() {
		logger.Info("ops server listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	pass := func() error {
		if accountID != "" {
			acc, err := repo.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}
			if acc == nil {
				return fmt.Errorf("account not found: %s", accountID)
			}
			if acc.SwordCollection == "" {
				return fmt.Errorf("sword is not activated for account: %s", accountID)
			}
			return engine.ProcessAccount(ctx, acc)
		}
		return engine.Run(ctx, failOnError)
	}

	if once {
		return pass()
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	if err := pass(); err != nil {
		logger.Error("pass failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("depositor stopping")
			return nil
		case <-ticker.C:
			if err := pass(); err != nil {
				logger.Error("pass failed", zap.Error(err))
			}
		}
	}
}

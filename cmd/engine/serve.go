package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rawblock/fundflow-engine/internal/alerts"
	"github.com/rawblock/fundflow-engine/internal/api"
	"github.com/rawblock/fundflow-engine/internal/bitcoin"
	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/db"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cat, tpl, err := loadAssets(cfg)
	if err != nil {
		return err
	}
	engine, err := newEngine(cfg, cat, tpl, cfg.Currency, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := api.Deps{
		Engine:         engine,
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
		BitcoinLimit:   cfg.BTCHistoryLimit,
		Logger:         logger,
	}

	// Reports: Postgres when configured, otherwise process memory.
	if cfg.PGDSN != "" {
		store, err := db.Connect(ctx, cfg.PGDSN, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.InitSchema(ctx); err != nil {
			return err
		}
		deps.Store = store
		deps.Persistent = true
	} else {
		logger.Warn("pg-dsn not set; reports are kept in memory only")
		deps.Store = db.NewMemoryStore()
	}

	// Alerts: websocket stream always, Kafka and webhook when configured.
	hub := api.NewHub(cfg.AllowedOrigins, logger)
	go hub.Run(ctx)
	deps.Hub = hub

	manager := alerts.NewManager(models.RiskLevel(cfg.AlertMinLevel), logger, alerts.NewBroadcastSink(hub.Broadcast))
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := alerts.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer sink.Close()
		manager.AddSink(sink)
		logger.Info("kafka alert sink enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	if cfg.AlertWebhookURL != "" {
		manager.AddSink(alerts.NewWebhookSink(cfg.AlertWebhookURL, nil))
		logger.Info("webhook alert sink enabled")
	}
	deps.Alerts = manager

	// Bitcoin history is optional; a node that cannot be reached only
	// disables the /bitcoin routes.
	if cfg.BTCRPCHost != "" {
		client, err := bitcoin.NewClient(bitcoin.Config{
			Host:    cfg.BTCRPCHost,
			User:    cfg.BTCRPCUser,
			Pass:    cfg.BTCRPCPass,
			Network: cfg.BTCNetwork,
		}, logger)
		if err != nil {
			logger.Warn("bitcoin RPC unavailable", zap.Error(err))
		} else {
			defer client.Shutdown()
			btcEngine, err := newEngine(cfg, cat, tpl, "BTC", logger)
			if err != nil {
				return err
			}
			deps.Bitcoin = client
			deps.BitcoinEngine = btcEngine
		}
	}

	limiter := api.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst)
	defer limiter.Stop()
	deps.RateLimiter = limiter

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.SetupRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("engine listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.Int("patterns", len(cat.Patterns)),
			zap.String("currency", cfg.Currency),
			zap.Bool("persistent", deps.Persistent),
			zap.Bool("bitcoin", deps.Bitcoin != nil),
			zap.String("alertMinLevel", string(manager.MinLevel())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

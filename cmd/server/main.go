package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sheikh-saqib/lesson-credit-ledger/internal/analytics"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/api"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/config"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/events/kafka"
	interfaces "github.com/sheikh-saqib/lesson-credit-ledger/internal/interfaces"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/ledger"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/storage/postgres"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store interfaces.LedgerStore
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store = memory.NewMemoryLedgerStore()
	} else {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("connect postgres", zap.Error(err))
		}
		defer db.Close()

		pg := postgres.NewPostgresLedgerStore(db)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("migrate postgres", zap.Error(err))
		}
		store = pg
	}

	opts := []ledger.Option{ledger.WithLogger(logger.Named("ledger"))}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers)
		defer publisher.Close()
		opts = append(opts, ledger.WithPublisher(publisher, cfg.KafkaTopic))
		logger.Info("publishing ledger events",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	ledgerService := ledger.NewLedger(store, opts...)
	// runs before publisher.Close so queued events are flushed first
	defer ledgerService.Close()
	engine := analytics.NewEngine(store)

	e := api.NewServer(&api.Handler{
		Ledger:    ledgerService,
		Analytics: engine,
		Defaults: api.Defaults{
			LowBalanceThreshold: cfg.LowBalanceThreshold,
			AbsenceDays:         cfg.AbsenceDays,
			UsageMonths:         cfg.UsageMonths,
			HistoryLimit:        cfg.HistoryLimit,
		},
		Log: logger.Named("http"),
	})

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Addr()))
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Env == "dev" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

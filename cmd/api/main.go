package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mabruquaye/cardpay/internal/api"
	"github.com/mabruquaye/cardpay/internal/auth"
	"github.com/mabruquaye/cardpay/internal/config"
	"github.com/mabruquaye/cardpay/internal/events"
	"github.com/mabruquaye/cardpay/internal/idempotency"
	"github.com/mabruquaye/cardpay/internal/logging"
	"github.com/mabruquaye/cardpay/internal/resolver"
	"github.com/mabruquaye/cardpay/internal/service"
	"github.com/mabruquaye/cardpay/internal/store"
)

func main() {
	logger, err := logging.NewFromEnv()
	if err != nil {
		os.Stderr.WriteString("logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores: Postgres when configured, in-memory for local development.
	var (
		cards store.CardStore
		txlog store.TransactionStore
		notes store.NotificationStore
	)
	if cfg.DBSource != "" {
		pg, err := store.NewPostgres(ctx, cfg.DBSource)
		if err != nil {
			logger.Fatal("database connect failed", zap.Error(err))
		}
		defer pg.Close()
		cards, txlog, notes = pg.Cards, pg.Transactions, pg.Notifications
	} else {
		logger.Warn("DB_SOURCE not set, using in-memory stores")
		mem := store.NewMemory()
		cards, txlog, notes = mem.Cards, mem.Transactions, mem.Notifications
	}

	// Idempotency guard: Redis when configured, otherwise process-local.
	var guard idempotency.Guard
	if cfg.RedisAddr != "" {
		guard, err = idempotency.NewRedisGuard(idempotency.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.IdempotencyTTL,
		})
		if err != nil {
			logger.Fatal("redis connect failed", zap.Error(err))
		}
	} else {
		guard = idempotency.NewMemoryGuard(idempotency.MemoryConfig{TTL: cfg.IdempotencyTTL})
	}
	defer guard.Close()

	// Settlement event side channel, optional.
	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQP(cfg.AMQPURL, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Fatal("amqp connect failed", zap.Error(err))
		}
		publisher = amqpPub
	}
	defer publisher.Close()

	res := resolver.New(cards, resolver.Config{CandidateLimit: cfg.ResolverCandidates}, logger)
	if err := res.Warm(ctx); err != nil {
		logger.Warn("resolver warmup failed, lookups will always scan", zap.Error(err))
	}

	svcCfg := service.Config{Currency: cfg.Currency, MaxAmount: cfg.MaxAmount}
	notifier := service.NewNotifier(notes, logger)
	transfers := service.NewTransferEngine(cards, txlog, res, notifier, publisher, svcCfg, logger)
	deposits := service.NewDepositWorkflow(cards, txlog, notifier, publisher, service.AlwaysConfirm{},
		service.DepositConfig{Config: svcCfg, Expiry: cfg.EscrowExpiry}, logger)
	payments := service.NewPaymentService(cards, txlog, svcCfg, logger)

	handler := api.NewHandler(cards, txlog, notes, transfers, deposits, payments, guard, logger)
	router := api.NewRouter(handler, auth.NewJWTResolver(cfg.JWTSecret), logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

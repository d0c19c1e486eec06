package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nkhatri/upi-switch/internal/adapter"
	"github.com/nkhatri/upi-switch/internal/config"
	"github.com/nkhatri/upi-switch/internal/directory"
	"github.com/nkhatri/upi-switch/internal/domain"
	"github.com/nkhatri/upi-switch/internal/handler"
	"github.com/nkhatri/upi-switch/internal/infra/observability"
	"github.com/nkhatri/upi-switch/internal/infra/postgres"
	redisinfra "github.com/nkhatri/upi-switch/internal/infra/redis"
	"github.com/nkhatri/upi-switch/internal/infra/store"
	"github.com/nkhatri/upi-switch/internal/port"
	"github.com/nkhatri/upi-switch/internal/service"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Strings("bank_codes", cfg.BankCodes),
		zap.Duration("adapter_timeout", cfg.AdapterTimeout),
		zap.Float64("bank_health_threshold", cfg.BankHealthThreshold),
		zap.Int("compensation_retries", cfg.CompensationRetries),
		zap.Duration("settlement_interval", cfg.SettlementInterval),
		zap.Bool("use_postgres", cfg.PostgresDSN != ""),
		zap.Bool("use_redis", cfg.RedisAddr != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "upi-switch")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Persistence backend ---
	var txnStore port.TransactionStore
	var settlementStore port.SettlementStore
	if cfg.PostgresDSN != "" {
		logger.Info("using Postgres as transaction backend")
		db, err := postgres.Open(cfg.PostgresDSN, logger)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer db.Close()
		txnStore = postgres.NewTransactionStore(db)
		settlementStore = postgres.NewSettlementStore(db)
	} else {
		logger.Info("using in-memory transaction backend")
		txnStore = store.NewMemoryTransactionStore()
		settlementStore = store.NewMemorySettlementStore()
	}
	bankStore := store.NewMemoryBankStore()

	// --- Cache backend ---
	var resolutionCache port.ResolutionCache
	var idemCache port.IdempotencyCache
	if cfg.RedisAddr != "" {
		logger.Info("using Redis as cache backend", zap.String("addr", cfg.RedisAddr))
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		resolutionCache = redisinfra.NewResolutionCache(rdb, cfg.VPACacheTTL, logger)
		idemCache = redisinfra.NewIdempotencyCache(rdb, logger)
	} else {
		logger.Info("using in-memory cache backend")
		resolutionCache = store.NewMemoryResolutionCache(cfg.VPACacheTTL)
		idemCache = store.NewMemoryIdempotencyCache(cfg.IdempotencyTTL)
	}

	// --- Events ---
	events := store.NewLogEventPublisher(logger)

	// --- VPA directory ---
	dir := directory.New(resolutionCache, metrics, logger)

	// --- Services ---
	registrySvc := service.NewRegistryService(bankStore, cfg.BankHealthThreshold, metrics, logger)
	switchSvc := service.NewSwitchService(txnStore, dir, registrySvc, idemCache, events, metrics, logger, service.SwitchOptions{
		AdapterTimeout:      cfg.AdapterTimeout,
		CompensationRetries: cfg.CompensationRetries,
		CompensationBackoff: cfg.CompensationBackoff,
		IdempotencyTTL:      cfg.IdempotencyTTL,
		MaxConcurrency:      cfg.MaxConcurrency,
	})
	settlementSvc := service.NewSettlementService(txnStore, settlementStore, metrics, logger)

	// --- Hosted bank adapters ---
	ctx := context.Background()
	for _, code := range cfg.BankCodes {
		bankAdapter := adapter.New(code, cfg.DefaultDailyLimitPaisa, logger)
		switchSvc.RegisterAdapter(bankAdapter)
		if _, err := registrySvc.Register(ctx, &domain.RegisterBankRequest{
			BankCode: code,
			Name:     code + " (hosted)",
			Features: []string{"UPI", "IMPS"},
		}); err != nil {
			logger.Fatal("failed to register hosted bank", zap.String("bank_code", code), zap.Error(err))
		}
	}

	// --- Settlement scheduler ---
	schedCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	if cfg.SettlementInterval > 0 {
		go settlementSvc.RunScheduler(schedCtx, cfg.SettlementInterval, registrySvc)
	}

	// --- Router ---
	router := handler.NewRouter(switchSvc, settlementSvc, registrySvc, dir, metrics, cfg.SigningSecret, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	stopScheduler()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

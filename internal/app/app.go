package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nath-hub/transaction/internal/config"
	"github.com/nath-hub/transaction/internal/db"
	"github.com/nath-hub/transaction/internal/directory"
	"github.com/nath-hub/transaction/internal/domain"
	"github.com/nath-hub/transaction/internal/gateway"
	"github.com/nath-hub/transaction/internal/geo"
	"github.com/nath-hub/transaction/internal/notify"
	"github.com/nath-hub/transaction/internal/observability"
	"github.com/nath-hub/transaction/internal/repository"
	"github.com/nath-hub/transaction/internal/service"
	"github.com/nath-hub/transaction/internal/worker"
)

// Suite bundles the services bound to one environment's database.
type Suite struct {
	Settlement   *service.SettlementEngine
	Transactions *service.TransactionService
	Refunds      *service.RefundEngine
	Reconciler   *service.ReconciliationService

	poller *worker.Poller
	sweep  *worker.SweepWorker
}

// Run bootstraps the service suites, background workers and the ops
// listener, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pools := map[domain.Environment]*pgxpool.Pool{}
	sandboxPool, err := db.Connect(ctx, cfg.SandboxDatabaseURL)
	if err != nil {
		return fmt.Errorf("connect sandbox database: %w", err)
	}
	defer sandboxPool.Close()
	pools[domain.EnvSandbox] = sandboxPool

	if cfg.ProductionDatabaseURL != "" {
		productionPool, err := db.Connect(ctx, cfg.ProductionDatabaseURL)
		if err != nil {
			return fmt.Errorf("connect production database: %w", err)
		}
		defer productionPool.Close()
		pools[domain.EnvProduction] = productionPool
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	dirClient := directory.NewClient(directory.Config{
		BaseURL:      cfg.IdentityServiceURL,
		ServiceToken: cfg.IdentityServiceToken,
	})
	locator := geo.NewLocator(cfg.DefaultCountry, geo.NewRedisCache(redisClient), geo.NewIPAPIProvider())
	gateways := buildGateways(cfg, redisClient)
	notifier := notify.NewWebhookSender()
	provider := repository.NewProvider(pools)

	suites := make(map[domain.Environment]*Suite, len(pools))
	for env := range pools {
		suite, err := buildSuite(cfg, env, provider, dirClient, locator, gateways, notifier)
		if err != nil {
			return err
		}
		suites[env] = suite
		suite.sweep.Run(ctx)
		logger.Info("environment suite started", zap.String("environment", string(env)))
	}

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      opsRoutes(cfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ops server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	for env, suite := range suites {
		logger.Info("stopping workers", zap.String("environment", string(env)))
		suite.sweep.Stop()
		suite.poller.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func buildSuite(cfg *config.Config, env domain.Environment, provider *repository.Provider, dirClient *directory.Client, locator *geo.Locator, gateways *gateway.Registry, notifier service.Notifier) (*Suite, error) {
	store, err := provider.For(env)
	if err != nil {
		return nil, err
	}

	reconciler := service.NewReconciliationService(store, gateways, dirClient, notifier)
	poller := worker.NewPoller(reconciler).
		WithDelay(cfg.PollDelay).
		WithMaxAttempts(cfg.PollMaxAttempts)
	sweep := worker.NewSweepWorker(reconciler).WithInterval(cfg.SweepInterval)

	settlement := service.NewSettlementEngine(store, dirClient, locator).WithScheduler(poller)
	transactions := service.NewTransactionService(store).WithScheduler(poller)
	refunds := service.NewRefundEngine(store, gateways).WithRefundWindow(cfg.RefundWindow())

	return &Suite{
		Settlement:   settlement,
		Transactions: transactions,
		Refunds:      refunds,
		Reconciler:   reconciler,
		poller:       poller,
		sweep:        sweep,
	}, nil
}

// buildGateways wires the operator gateways. Mock gateways replace the real
// ones in development so the full settlement loop runs without operator
// credentials.
func buildGateways(cfg *config.Config, redisClient *redis.Client) *gateway.Registry {
	registry := gateway.NewRegistry()

	if cfg.UseMockGateways {
		mock := gateway.NewMockGateway()
		for _, code := range []string{"ORANGE", "OM", "MTN", "MOMO"} {
			registry.Register(code, mock)
		}
		return registry
	}

	orange := gateway.NewOrangeMoney(gateway.OrangeMoneyConfig{
		BaseURL:        cfg.OrangeBaseURL,
		RefundTokenURL: cfg.OrangeRefundTokenURL,
		RefundURL:      cfg.OrangeRefundURL,
		CustomerKey:    cfg.OrangeCustomerKey,
		CustomerSecret: cfg.OrangeCustomerSecret,
		AuthToken:      cfg.OrangeAuthToken,
		ChannelMSISDN:  cfg.OrangeChannelMSISDN,
		PIN:            cfg.OrangePIN,
		NotifURL:       cfg.OrangeNotifURL,
	}, gateway.NewRedisTokenCache(redisClient))
	registry.Register("ORANGE", orange)
	registry.Register("OM", orange)

	momo := gateway.NewMTNMoMo(gateway.MTNMoMoConfig{
		BaseURL:         cfg.MomoBaseURL,
		SubscriptionKey: cfg.MomoSubscriptionKey,
	})
	registry.Register("MTN", momo)
	registry.Register("MOMO", momo)

	return registry
}

// opsRoutes serves the operational endpoints: liveness and metrics.
func opsRoutes(cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(httprate.LimitByIP(cfg.OpsRateLimitRPS, time.Second))
	r.Use(httpMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		observability.ObserveHTTP(r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

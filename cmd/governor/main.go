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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/netops-governor/internal/audit"
	"github.com/xela07ax/netops-governor/internal/batch"
	"github.com/xela07ax/netops-governor/internal/console/handler"
	"github.com/xela07ax/netops-governor/internal/console/server"
	"github.com/xela07ax/netops-governor/internal/console/service"
	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/engine"
	"github.com/xela07ax/netops-governor/internal/executor"
	"github.com/xela07ax/netops-governor/internal/infra"
	"github.com/xela07ax/netops-governor/internal/infra/auth"
	"github.com/xela07ax/netops-governor/internal/inventory"
	"github.com/xela07ax/netops-governor/internal/notify"
	"github.com/xela07ax/netops-governor/internal/policy"
	"github.com/xela07ax/netops-governor/internal/repository/postgres"
	"github.com/xela07ax/netops-governor/internal/reputation"
	"github.com/xela07ax/netops-governor/internal/store"
)

// backend — хранилище ядра плюс учетные записи операторов.
type backend interface {
	store.Store
	store.UserStore
}

func main() {
	var configPath string
	root := &cobra.Command{
		Use:           "governor",
		Short:         "Policy decision and batch execution service for network automation agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml or ./configs/config.yaml)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "governor:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	instanceID := cfg.Engine.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger = logger.With(zap.String("instance", instanceID))

	// 2. Инфраструктура: хранилище и Redis
	st, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis: ping %s: %w", cfg.Redis.Addr, err)
		}
		defer rdb.Close()
	} else {
		logger.Warn("redis is not configured: restrictions, overrides and policy updates stay local to this instance")
	}

	// 3. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := engine.NewMetrics(reg)
	batchMetrics := batch.NewMetrics(reg)
	execMetrics := executor.NewMetrics(reg)
	logFill := promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "governor_execution_log_buffer",
		Help: "Execution records waiting to be flushed",
	})

	// 4. Control plane: ограничения агентов и overrides
	ks := engine.NewKillSwitchManager(rdb, st, logger)
	qm := engine.NewQuarantineManager(rdb, st, logger)
	for _, m := range []*engine.AgentStateManager{ks, qm} {
		if err := m.Init(ctx); err != nil {
			return fmt.Errorf("restrictions warmup: %w", err)
		}
		go m.StartListener(ctx)
	}

	overrides := policy.NewOverrideCache(st, rdb, infra.RedisChanOverrides, logger)
	if err := overrides.Refresh(ctx); err != nil {
		// Холодный кэш: fail-safe BLOCK для агентов, пока слушатель не перечитает
		logger.Error("override cache warmup failed", zap.Error(err))
	}
	go overrides.StartListener(ctx)

	// 5. Decision Engine
	opts := []engine.Option{
		engine.WithOverrides(overrides),
		engine.WithRestrictions(ks, qm),
		engine.WithMetrics(engineMetrics),
	}
	if path := cfg.Engine.InventoryPath; path != "" {
		inv, err := inventory.LoadFile(path, logger)
		if err != nil {
			return err
		}
		logger.Info("inventory loaded", zap.String("path", path), zap.Int("devices", inv.Len()))
		opts = append(opts, engine.WithEnricher(inv))
	}
	var psync *engine.PolicySync
	if rdb != nil {
		psync = engine.NewPolicySync(rdb, infra.RedisChanPolicyUpdate, instanceID, logger)
		opts = append(opts, engine.WithPublisher(psync))
	}
	eng, err := engine.New(engine.Config{
		AgentScope:    cfg.Engine.AgentScope,
		InitialEAS:    cfg.Engine.InitialEAS,
		HistoryWindow: cfg.Engine.HistoryWindow,
	}, st, logger, opts...)
	if err != nil {
		return err
	}
	if err := eng.Bootstrap(ctx, cfg.Engine.PolicyPath); err != nil {
		return fmt.Errorf("policy bootstrap: %w", err)
	}
	if psync != nil {
		go psync.Listen(ctx, eng, cfg.Engine.PolicyPath)
	}

	// 6. Execution layer: транспорт -> надежность -> лимит на устройство
	base, closeExec, err := openExecutor(cfg.Executor, logger)
	if err != nil {
		return err
	}
	defer closeExec()
	exec := executor.NewDeviceLimiter(
		executor.NewReliabilityWrapper(base, cfg.Executor.ReliabilityConfig, execMetrics, logger),
		cfg.Executor.PerDevice, cfg.Executor.QueueTimeout)

	execLog := audit.NewExecutionLog(st, cfg.ExecutionLog, logFill, logger)
	execLog.Start()
	defer execLog.Stop()

	orch := batch.NewOrchestrator(exec, cfg.Batch, execLog, batchMetrics, logger)

	// 7. Уведомления
	var sinks []notify.Notifier
	if cfg.Notify.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlack(cfg.Notify.SlackWebhookURL, cfg.Notify.Timeout))
	}
	if rdb != nil {
		sinks = append(sinks, notify.NewRedis(rdb))
	}
	notifier := notify.NewFanout(logger, sinks...)

	// 8. Аутентификация операторов
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	authSvc := service.NewAuthService(st, privKey, cfg.Auth.TokenTTL, cfg.Auth.Issuer, cfg.Auth.BcryptCost)
	if pw := os.Getenv("GOVERNOR_ADMIN_PASSWORD"); pw != "" {
		if err := authSvc.EnsureUser(ctx, "admin", pw, domain.ScopeAdmin); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	// 9. HTTP
	scorer := reputation.NewCalculator(st, cfg.Engine.Reputation.Weights, cfg.Engine.Reputation.HalfLife, cfg.Engine.Reputation.Window)
	agentSvc := service.NewAgentService(st, rdb, map[domain.RestrictionKind]service.LocalState{
		domain.RestrictionKillSwitch: ks,
		domain.RestrictionQuarantine: qm,
	}, overrides, scorer, logger)

	api := server.New(logger, auth.NewValidator(pubKey, cfg.Auth.Issuer),
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		server.Handlers{
			Auth:       handler.NewAuthHandler(authSvc, logger),
			Evaluate:   handler.NewEvaluateHandler(eng, notifier, logger),
			Batch:      handler.NewBatchHandler(eng, orch, notifier, cfg.Batch.RollbackOnFailure, logger),
			Policy:     handler.NewPolicyHandler(service.NewPolicyService(eng, st, cfg.Engine.PolicyPath), logger),
			Escalation: handler.NewEscalationHandler(service.NewEscalationService(st, orch, rdb, logger), cfg.Batch.RollbackOnFailure),
			Agent:      handler.NewAgentHandler(agentSvc),
		})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("governor started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// 10. Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	logger.Info("governor stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("governor exited properly")
	return nil
}

// openStore: PostgreSQL при заданном URL, иначе in-memory хранилище для dev.
func openStore(ctx context.Context, cfg infra.DatabaseConfig, logger *zap.Logger) (backend, func(), error) {
	if cfg.URL == "" {
		logger.Warn("database.url is empty: using in-memory store, state is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	db, err := postgres.Open(cfg.URL, cfg.MaxConns, cfg.MinConns)
	if err != nil {
		return nil, nil, err
	}
	pg := postgres.New(db)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pg.Ping(pingCtx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
	}
	return pg, func() { _ = pg.Close() }, nil
}

func openExecutor(cfg infra.ExecutorConfig, logger *zap.Logger) (executor.Executor, func(), error) {
	switch cfg.Mode {
	case "grpc":
		conn, err := grpc.NewClient(cfg.GRPCTarget, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("executor: dial %s: %w", cfg.GRPCTarget, err)
		}
		return executor.NewGRPCAdapter(conn, cfg.CallTimeout), func() { _ = conn.Close() }, nil
	case "simulator", "":
		logger.Warn("executor runs in simulator mode: no device is touched")
		return executor.NewSimulator(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("executor: unknown mode %q", cfg.Mode)
	}
}

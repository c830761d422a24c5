package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/silkworks/keygate/internal/adapters/cache"
	eventadapter "github.com/silkworks/keygate/internal/adapters/events"
	grpcadapter "github.com/silkworks/keygate/internal/adapters/grpc"
	httpadapter "github.com/silkworks/keygate/internal/adapters/http"
	mongoadapter "github.com/silkworks/keygate/internal/adapters/mongo"
	"github.com/silkworks/keygate/internal/adapters/postgres"
	"github.com/silkworks/keygate/internal/adapters/security"
	"github.com/silkworks/keygate/internal/application"
	"github.com/silkworks/keygate/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	outbox     *eventadapter.OutboxWorker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("bootstrapping keygate licensing engine",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage_driver", cfg.StorageDriver,
	)

	repos, closeStore, err := connectStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		closeStore(ctx)
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		closeStore(ctx)
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	tokenSigner, err := security.NewJWTSigner(cfg.JWTKeyID, cfg.JWTPrivateKeyPEM, cfg.JWTPublicKeyPEM)
	if err != nil {
		if !cfg.AllowEphemeralJWT {
			closeStore(ctx)
			_ = redisClient.Close()
			return nil, fmt.Errorf("init jwt signer: %w", err)
		}
		logger.Warn("using ephemeral JWT keys for local/dev runtime")
		tokenSigner, err = security.NewEphemeralJWTSigner(cfg.JWTKeyID)
		if err != nil {
			closeStore(ctx)
			_ = redisClient.Close()
			return nil, fmt.Errorf("init ephemeral jwt signer: %w", err)
		}
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			SessionTokenTTL:      cfg.SessionTokenTTL,
			FailedLoginThreshold: cfg.FailedLoginThreshold,
			ThrottleWindow:       cfg.ThrottleWindow,
			IdempotencyTTL:       cfg.IdempotencyTTL,
		},
		Apps:        repos.Applications,
		Keys:        repos.Keys,
		Accounts:    repos.Accounts,
		LoginLog:    repos.LoginLog,
		AuditOutbox: repos.AuditOutbox,
		Idempotency: repos.Idempotency,
		Throttle:    cacheadapter.NewRedisThrottleStore(redisClient),
		Hasher:      security.NewBcryptHasher(cfg.BcryptCost),
		Signer:      tokenSigner,
	})

	handler := httpadapter.NewHandler(svc)
	router := httpadapter.NewRouter(handler)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewSessionInternalServer(svc))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		closeStore(ctx)
		_ = redisClient.Close()
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	// Audit delivery defaults to structured log output; a webhook endpoint
	// upgrades it to an HTTP push without touching the worker.
	var publisher ports.EventPublisher = eventadapter.NewLoggingPublisher(logger)
	if cfg.AuditWebhookURL != "" {
		publisher = eventadapter.NewWebhookPublisher(cfg.AuditWebhookURL, cfg.AuditWebhookTimeout)
	}
	outbox := eventadapter.NewOutboxWorker(
		logger,
		repos.AuditOutbox,
		publisher,
		cfg.OutboxPollInterval,
		cfg.OutboxBatchSize,
		cfg.OutboxClaimTTL,
		cfg.OutboxMaxRetries,
	)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		outbox:     outbox,
		cleanupFn: func(ctx context.Context) {
			_ = redisClient.Close()
			closeStore(ctx)
		},
	}, nil
}

// connectStorage builds the repository set for the configured driver.
// Both drivers satisfy the same ports so the rest of bootstrap is agnostic.
func connectStorage(ctx context.Context, cfg Config) (ports.Repositories, func(context.Context), error) {
	switch cfg.StorageDriver {
	case "mongo":
		store, err := mongoadapter.Connect(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return ports.Repositories{}, nil, fmt.Errorf("connect mongo: %w", err)
		}
		return store.Repositories(), func(ctx context.Context) { _ = store.Close(ctx) }, nil
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, int32(cfg.MaxDBConns))
		if err != nil {
			return ports.Repositories{}, nil, fmt.Errorf("connect postgres: %w", err)
		}
		sqlDB, err := pool.DB()
		if err != nil {
			return ports.Repositories{}, nil, fmt.Errorf("gorm sql db: %w", err)
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			_ = sqlDB.Close()
			return ports.Repositories{}, nil, fmt.Errorf("run migrations: %w", err)
		}
		return postgres.NewRepositories(pool), func(context.Context) { _ = sqlDB.Close() }, nil
	default:
		return ports.Repositories{}, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}

package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/silkworks/keygate/internal/ports"
)

const serviceName = "keygate"

// Config is the read-only runtime configuration of the engine. It is loaded
// once at start-up; the engine holds no other process-wide mutable state.
type Config struct {
	SessionTokenTTL      time.Duration
	FailedLoginThreshold int
	ThrottleWindow       time.Duration
	IdempotencyTTL       time.Duration
}

// Service is the license and device-binding engine. Every method handles one
// request independently; all durable state lives behind the repository ports.
type Service struct {
	cfg         Config
	apps        ports.ApplicationRepository
	keys        ports.LicenseKeyRepository
	accounts    ports.AccountRepository
	loginLog    ports.LoginLogRepository
	outbox      ports.AuditOutboxRepository
	idempotency ports.IdempotencyRepository
	throttle    ports.ThrottleStore
	hasher      ports.PasswordHasher
	signer      ports.TokenSigner
	nowFn       func() time.Time
}

type Dependencies struct {
	Config      Config
	Apps        ports.ApplicationRepository
	Keys        ports.LicenseKeyRepository
	Accounts    ports.AccountRepository
	LoginLog    ports.LoginLogRepository
	AuditOutbox ports.AuditOutboxRepository
	Idempotency ports.IdempotencyRepository
	Throttle    ports.ThrottleStore
	Hasher      ports.PasswordHasher
	Signer      ports.TokenSigner
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.SessionTokenTTL <= 0 {
		cfg.SessionTokenTTL = 24 * time.Hour
	}
	if cfg.FailedLoginThreshold <= 0 {
		cfg.FailedLoginThreshold = 5
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = 10 * time.Minute
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	return &Service{
		cfg:         cfg,
		apps:        deps.Apps,
		keys:        deps.Keys,
		accounts:    deps.Accounts,
		loginLog:    deps.LoginLog,
		outbox:      deps.AuditOutbox,
		idempotency: deps.Idempotency,
		throttle:    deps.Throttle,
		hasher:      deps.Hasher,
		signer:      deps.Signer,
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
}

func appLogger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "application",
		"layer", "application",
	)
}

func logOperationWarn(ctx context.Context, operation, msg string, fields ...any) {
	all := append([]any{"operation", operation, "outcome", "warning"}, fields...)
	appLogger().WarnContext(ctx, msg, all...)
}

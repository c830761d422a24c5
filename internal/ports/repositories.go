package ports

import (
	"context"
	"time"

	"github.com/silkworks/keygate/internal/domain"
)

// ActivationParams captures the state written by the Unused->Activated swap.
// A nil ExpiresAt activates a lifetime key.
type ActivationParams struct {
	HWID        string
	ActivatedAt time.Time
	ExpiresAt   *time.Time
}

// ApplicationRepository defines persistence operations for tenant registrations.
type ApplicationRepository interface {
	Create(ctx context.Context, app domain.Application) error
	GetByID(ctx context.Context, id string) (domain.Application, error)
	GetByNameOwner(ctx context.Context, name, ownerAccountID string) (domain.Application, error)
	SetStatus(ctx context.Context, id string, status domain.AppStatus) error
}

// LicenseKeyRepository defines persistence operations for license keys.
//
// ActivateIfUnused is the store-level compare-and-swap behind the exactly-once
// Unused->Activated transition: it must only apply when the key's stored
// status is still Unused, and report false otherwise. The store's document
// granularity guarantees that two concurrent first redemptions cannot both
// observe a successful swap.
type LicenseKeyRepository interface {
	InsertBatch(ctx context.Context, keys []domain.LicenseKey) error
	GetByAppAndKey(ctx context.Context, applicationID, key string) (domain.LicenseKey, error)
	ActivateIfUnused(ctx context.Context, applicationID, key string, params ActivationParams) (bool, error)
	LinkAccount(ctx context.Context, applicationID, key, accountID string) error
	UpdateHWID(ctx context.Context, applicationID, key, hwid string) error
	UpdateComponents(ctx context.Context, applicationID, key string, fp domain.ComponentFingerprint) error
	TouchLastSeen(ctx context.Context, applicationID, key string, at time.Time) error
}

// AccountRepository defines persistence operations for end-user identities.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (domain.Account, error)
	GetByUsername(ctx context.Context, applicationID, username string) (domain.Account, error)
	UpdateHWID(ctx context.Context, id, hwid string) error
	UpdateComponents(ctx context.Context, id string, fp domain.ComponentFingerprint) error
	RecordLogin(ctx context.Context, id string, at time.Time, ip string) error
	CountByApplication(ctx context.Context, applicationID string) (int64, error)
}

// LoginLogRepository stores the append-only client check-in trail.
// Entries are never updated or deleted by the engine.
type LoginLogRepository interface {
	Append(ctx context.Context, entry domain.LoginLogEntry) error
}

// AuditEvent is the write-side audit payload prior to storage.
// It is adapter-neutral to keep application code independent of the
// collaborator that eventually receives it.
type AuditEvent struct {
	EventID    string
	EventType  string
	Payload    []byte
	OccurredAt time.Time
}

// AuditRecord represents durable outbox state, including retry/error metadata.
type AuditRecord struct {
	OutboxID       string
	EventType      string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// AuditOutboxRepository controls the publish-retry workflow for audit events.
// The engine only ever calls Enqueue; the remaining methods belong to the
// outbox worker, so audit delivery never sits on a request path.
type AuditOutboxRepository interface {
	Enqueue(ctx context.Context, event AuditEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]AuditRecord, error)
	MarkPublished(ctx context.Context, outboxID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
}

// IdempotencyRecord tracks a previously accepted mutating request.
// Storing the response body lets replays of a key-generation batch return the
// original keys instead of minting a second batch.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       string
	ResponseBody []byte
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IdempotencyRepository enforces idempotent mutation semantics.
type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseBody []byte, at time.Time) error
}

// Repositories bundles the store-backed ports so bootstrap can swap storage
// drivers behind one seam.
type Repositories struct {
	Applications ApplicationRepository
	Keys         LicenseKeyRepository
	Accounts     AccountRepository
	LoginLog     LoginLogRepository
	AuditOutbox  AuditOutboxRepository
	Idempotency  IdempotencyRepository
}

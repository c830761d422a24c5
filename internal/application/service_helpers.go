package application

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/silkworks/keygate/internal/domain"
	"github.com/silkworks/keygate/internal/ports"
)

// Audit event types emitted to the collaborator queue.
const (
	eventKeyCreated       = "key.created"
	eventKeyRedeemed      = "key.redeemed"
	eventLoginSuccess     = "login.success"
	eventSuspiciousAccess = "access.suspicious"
	eventHWIDUpdated      = "hwid.updated"
)

// audit enqueues an event for the outbox worker. Delivery is fire-and-forget:
// enqueue failures are logged and swallowed so the audit channel can never
// affect a caller-visible result.
func (s *Service) audit(ctx context.Context, eventType string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{}`)
	}
	event := ports.AuditEvent{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		Payload:    raw,
		OccurredAt: s.nowFn(),
	}
	if err := s.outbox.Enqueue(ctx, event); err != nil {
		logOperationWarn(ctx, "audit_enqueue", "audit event dropped",
			"event_type", eventType,
			"error", err.Error(),
		)
	}
}

// storageErr maps unexpected repository failures onto the StorageError kind.
// Domain sentinels pass through untouched.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrInvalidArgument) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStorage, op, err)
}

func secretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// loadActiveApplication resolves an application by id and enforces its
// lifecycle status for client-facing operations.
func (s *Service) loadActiveApplication(ctx context.Context, applicationID string) (domain.Application, error) {
	if strings.TrimSpace(applicationID) == "" {
		return domain.Application{}, fmt.Errorf("%w: appId is required", domain.ErrInvalidArgument)
	}
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return domain.Application{}, storageErr("get application", err)
	}
	if app.Status == domain.AppDisabled {
		return domain.Application{}, fmt.Errorf("%w: application disabled", domain.ErrForbidden)
	}
	return app, nil
}

// resolvePrivileged maps a bearer session token to an account with partner or
// admin role. Every failure path emits a suspicious-access audit event before
// the caller sees the error, per the access policy for privileged operations.
func (s *Service) resolvePrivileged(ctx context.Context, token string) (domain.Account, error) {
	claims, err := s.signer.ParseAndValidate(token)
	if err != nil || claims.AccountID == "" {
		s.audit(ctx, eventSuspiciousAccess, map[string]any{
			"reason": "invalid or anonymous session token",
		})
		return domain.Account{}, fmt.Errorf("%w: invalid session token", domain.ErrForbidden)
	}
	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		s.audit(ctx, eventSuspiciousAccess, map[string]any{
			"reason":     "token account not found",
			"account_id": claims.AccountID,
		})
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Account{}, fmt.Errorf("%w: unknown account", domain.ErrForbidden)
		}
		return domain.Account{}, storageErr("get account", err)
	}
	if !account.Role.Privileged() {
		s.audit(ctx, eventSuspiciousAccess, map[string]any{
			"reason":     "insufficient role",
			"account_id": account.ID,
			"username":   account.Username,
			"role":       string(account.Role),
		})
		return domain.Account{}, fmt.Errorf("%w: insufficient role", domain.ErrForbidden)
	}
	return account, nil
}

func hashRequest(req any) string {
	raw, _ := json.Marshal(req)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

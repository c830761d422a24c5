package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/silkworks/keygate/internal/domain"
)

// GenerateAndStoreKeys mints a batch of license keys for an application. The
// caller must present a privileged session token, and a partner token only
// reaches applications the partner owns. When an idempotency key is
// supplied, a replay of a completed batch returns the original keys instead
// of minting new ones; a replay that races an in-flight batch is rejected as
// a conflict.
func (s *Service) GenerateAndStoreKeys(ctx context.Context, token, idempotencyKey string, req GenerateKeysRequest) (GenerateKeysResponse, error) {
	caller, err := s.resolvePrivileged(ctx, token)
	if err != nil {
		return GenerateKeysResponse{}, err
	}
	app, err := s.loadActiveApplication(ctx, req.ApplicationID)
	if err != nil {
		return GenerateKeysResponse{}, err
	}
	// Partners mint keys only for their own applications; admins for any.
	if caller.Role != domain.RoleAdmin && app.OwnerAccountID != caller.ID {
		s.audit(ctx, eventSuspiciousAccess, map[string]any{
			"reason":         "caller does not own application",
			"application_id": app.ID,
			"account_id":     caller.ID,
			"username":       caller.Username,
		})
		return GenerateKeysResponse{}, fmt.Errorf("%w: not the application owner", domain.ErrForbidden)
	}
	if req.Days < 0 {
		return GenerateKeysResponse{}, fmt.Errorf("%w: days must not be negative", domain.ErrInvalidArgument)
	}
	if req.Level < 0 {
		return GenerateKeysResponse{}, fmt.Errorf("%w: level must not be negative", domain.ErrInvalidArgument)
	}

	now := s.nowFn()
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" {
		if err := s.idempotency.Reserve(ctx, idempotencyKey, hashRequest(req), now.Add(s.cfg.IdempotencyTTL)); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return s.replayKeyBatch(ctx, idempotencyKey, req)
			}
			return GenerateKeysResponse{}, storageErr("reserve idempotency key", err)
		}
	}

	keyStrings, err := domain.GenerateKeys(req.Count, req.Mask)
	if err != nil {
		return GenerateKeysResponse{}, err
	}

	kind := domain.KeyKindDays
	if req.Days == 0 {
		kind = domain.KeyKindLifetime
	}
	batch := make([]domain.LicenseKey, 0, len(keyStrings))
	for _, k := range keyStrings {
		batch = append(batch, domain.LicenseKey{
			Key:           k,
			ApplicationID: app.ID,
			Kind:          kind,
			Days:          req.Days,
			Level:         req.Level,
			Status:        domain.KeyUnused,
			Note:          req.Note,
			CreatedAt:     now,
		})
	}
	if err := s.keys.InsertBatch(ctx, batch); err != nil {
		return GenerateKeysResponse{}, storageErr("insert key batch", err)
	}

	resp := GenerateKeysResponse{Keys: keyStrings}
	if idempotencyKey != "" {
		body, _ := json.Marshal(resp)
		if err := s.idempotency.Complete(ctx, idempotencyKey, body, s.nowFn()); err != nil {
			logOperationWarn(ctx, "generate_keys", "idempotency completion failed",
				"idempotency_key", idempotencyKey, "error", err.Error())
		}
	}

	s.audit(ctx, eventKeyCreated, map[string]any{
		"application_id": app.ID,
		"account_id":     caller.ID,
		"count":          len(keyStrings),
		"days":           req.Days,
		"level":          req.Level,
		"lifetime":       kind == domain.KeyKindLifetime,
	})
	return resp, nil
}

func (s *Service) replayKeyBatch(ctx context.Context, idempotencyKey string, req GenerateKeysRequest) (GenerateKeysResponse, error) {
	record, err := s.idempotency.Get(ctx, idempotencyKey)
	if err != nil {
		return GenerateKeysResponse{}, storageErr("get idempotency record", err)
	}
	if record == nil {
		return GenerateKeysResponse{}, fmt.Errorf("%w: idempotency key in flight", domain.ErrConflict)
	}
	if record.RequestHash != hashRequest(req) {
		return GenerateKeysResponse{}, fmt.Errorf("%w: idempotency key reused with a different request", domain.ErrConflict)
	}
	if record.Status != "completed" || len(record.ResponseBody) == 0 {
		return GenerateKeysResponse{}, fmt.Errorf("%w: idempotency key in flight", domain.ErrConflict)
	}
	var resp GenerateKeysResponse
	if err := json.Unmarshal(record.ResponseBody, &resp); err != nil {
		return GenerateKeysResponse{}, fmt.Errorf("%w: decode replayed batch: %v", domain.ErrStorage, err)
	}
	return resp, nil
}

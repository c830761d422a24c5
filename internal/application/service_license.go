package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/silkworks/keygate/internal/domain"
	"github.com/silkworks/keygate/internal/ports"
)

// RedeemKey drives the key lifecycle state machine.
//
// A key in Unused state is activated through a store-level compare-and-swap,
// so under concurrent first redemptions exactly one caller wins the
// transition; losers re-read the key and fall through to the already-
// activated path, where the hardware binding policy decides for them. An
// activated key is checked against the binding policy first, then against
// its expiry; Expired is always derived here at read time, never stored.
func (s *Service) RedeemKey(ctx context.Context, req RedeemRequest) (LicenseInfo, error) {
	app, err := s.loadActiveApplication(ctx, req.ApplicationID)
	if err != nil {
		return LicenseInfo{}, err
	}
	if strings.TrimSpace(req.Key) == "" {
		return LicenseInfo{}, fmt.Errorf("%w: key is required", domain.ErrInvalidArgument)
	}

	key, err := s.keys.GetByAppAndKey(ctx, app.ID, req.Key)
	if err != nil {
		return LicenseInfo{}, storageErr("get key", err)
	}

	now := s.nowFn()
	if key.Status == domain.KeyUnused {
		var expiry *time.Time
		if key.Kind != domain.KeyKindLifetime {
			e := domain.ComputeExpiry(now, key.Days)
			expiry = &e
		}
		won, err := s.keys.ActivateIfUnused(ctx, app.ID, key.Key, ports.ActivationParams{
			HWID:        req.HWID,
			ActivatedAt: now,
			ExpiresAt:   expiry,
		})
		if err != nil {
			return LicenseInfo{}, storageErr("activate key", err)
		}
		if won {
			key.Status = domain.KeyActivated
			key.HWID = &req.HWID
			key.ActivatedAt = &now
			key.ExpiresAt = expiry
			if key.AccountID == nil {
				s.autoProvisionAccount(ctx, app, &key, now)
			}
			s.touchKey(ctx, app.ID, key.Key, now)
			s.audit(ctx, eventKeyRedeemed, map[string]any{
				"application_id": app.ID,
				"key":            key.Key,
				"hwid":           req.HWID,
				"first_use":      true,
			})
			return licenseInfoFor(key, now), nil
		}
		// Lost the activation race: someone else bound the key between our
		// read and the swap. Re-read and treat it as already activated.
		key, err = s.keys.GetByAppAndKey(ctx, app.ID, req.Key)
		if err != nil {
			return LicenseInfo{}, storageErr("get key", err)
		}
	}

	switch domain.CheckBinding(deref(key.HWID), req.HWID) {
	case domain.BindNew:
		if req.HWID != "" {
			if err := s.keys.UpdateHWID(ctx, app.ID, key.Key, req.HWID); err != nil {
				return LicenseInfo{}, storageErr("bind key hwid", err)
			}
			key.HWID = &req.HWID
		}
	case domain.BindDeny:
		if app.HWIDLock {
			s.audit(ctx, eventSuspiciousAccess, map[string]any{
				"reason":         "key hardware mismatch",
				"application_id": app.ID,
				"key":            key.Key,
				"hwid":           req.HWID,
			})
			return LicenseInfo{}, domain.ErrHardwareMismatch
		}
	}

	if domain.IsExpired(key.ExpiresAt, now) {
		return LicenseInfo{}, domain.ErrExpired
	}

	s.touchKey(ctx, app.ID, key.Key, now)
	s.audit(ctx, eventKeyRedeemed, map[string]any{
		"application_id": app.ID,
		"key":            key.Key,
		"hwid":           req.HWID,
		"first_use":      false,
	})
	return licenseInfoFor(key, now), nil
}

// autoProvisionAccount creates the implicit account for a freshly activated
// key: username = password = the key string, carrying the key's entitlement
// and expiry. The step is best-effort; a failure never rolls back or fails
// the redemption and is not retried.
func (s *Service) autoProvisionAccount(ctx context.Context, app domain.Application, key *domain.LicenseKey, now time.Time) {
	passwordHash, err := s.hasher.Hash(key.Key)
	if err != nil {
		logOperationWarn(ctx, "auto_provision_account", "hash key password failed",
			"application_id", app.ID, "key", key.Key, "error", err.Error())
		return
	}
	account := domain.Account{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		Username:      key.Key,
		PasswordHash:  passwordHash,
		Role:          domain.RoleUser,
		HWID:          key.HWID,
		ExpiresAt:     key.ExpiresAt,
		Level:         key.Level,
		CreatedAt:     now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		logOperationWarn(ctx, "auto_provision_account", "account creation failed",
			"application_id", app.ID, "key", key.Key, "error", err.Error())
		return
	}
	if err := s.keys.LinkAccount(ctx, app.ID, key.Key, account.ID); err != nil {
		logOperationWarn(ctx, "auto_provision_account", "account link failed",
			"application_id", app.ID, "key", key.Key, "error", err.Error())
		return
	}
	key.AccountID = &account.ID
}

// UpdateHWID is the deliberate escape hatch for legitimate hardware changes:
// it overwrites the binding unconditionally, bypassing the binding policy,
// and keeps a linked account's binding in lock-step.
func (s *Service) UpdateHWID(ctx context.Context, req UpdateHWIDRequest) error {
	app, err := s.loadActiveApplication(ctx, req.ApplicationID)
	if err != nil {
		return err
	}
	key, err := s.keys.GetByAppAndKey(ctx, app.ID, req.Key)
	if err != nil {
		return storageErr("get key", err)
	}

	if err := s.keys.UpdateHWID(ctx, app.ID, key.Key, req.HWID); err != nil {
		return storageErr("update key hwid", err)
	}
	if key.AccountID != nil {
		if err := s.accounts.UpdateHWID(ctx, *key.AccountID, req.HWID); err != nil {
			return storageErr("update account hwid", err)
		}
	}

	s.audit(ctx, eventHWIDUpdated, map[string]any{
		"application_id": app.ID,
		"key":            key.Key,
		"hwid":           req.HWID,
	})
	return nil
}

// RecordComponents replaces the component fingerprint wholesale on the key
// and any linked account, returning the previous snapshot as a diff signal.
func (s *Service) RecordComponents(ctx context.Context, req ComponentsRequest) (ComponentsResponse, error) {
	app, err := s.loadActiveApplication(ctx, req.ApplicationID)
	if err != nil {
		return ComponentsResponse{}, err
	}
	key, err := s.keys.GetByAppAndKey(ctx, app.ID, req.Key)
	if err != nil {
		return ComponentsResponse{}, storageErr("get key", err)
	}

	current := domain.ComponentFingerprint{
		GPU:         req.GPU,
		Motherboard: req.Motherboard,
		CPU:         req.CPU,
		RecordedAt:  s.nowFn(),
	}
	if err := s.keys.UpdateComponents(ctx, app.ID, key.Key, current); err != nil {
		return ComponentsResponse{}, storageErr("update key components", err)
	}
	if key.AccountID != nil {
		if err := s.accounts.UpdateComponents(ctx, *key.AccountID, current); err != nil {
			return ComponentsResponse{}, storageErr("update account components", err)
		}
	}

	return ComponentsResponse{Previous: key.Components, Current: current}, nil
}

// LogLogin appends a check-in entry to the append-only login trail. When the
// caller omits the fingerprint the previously stored one is used. Beyond the
// last-seen/last-login touch, no license state changes here.
func (s *Service) LogLogin(ctx context.Context, req LogLoginRequest) error {
	app, err := s.loadActiveApplication(ctx, req.ApplicationID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Identifier) == "" {
		return fmt.Errorf("%w: username_or_key is required", domain.ErrInvalidArgument)
	}

	now := s.nowFn()
	components := req.Components
	if key, err := s.keys.GetByAppAndKey(ctx, app.ID, req.Identifier); err == nil {
		if components == nil {
			components = key.Components
		}
		s.touchKey(ctx, app.ID, key.Key, now)
	} else if account, err := s.accounts.GetByUsername(ctx, app.ID, req.Identifier); err == nil {
		if components == nil {
			components = account.Components
		}
		if err := s.accounts.RecordLogin(ctx, account.ID, now, req.IPAddress); err != nil {
			logOperationWarn(ctx, "log_login", "last login touch failed", "error", err.Error())
		}
	}

	entry := domain.LoginLogEntry{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		Identifier:    req.Identifier,
		HWID:          req.HWID,
		Components:    components,
		IP:            req.IPAddress,
		At:            now,
	}
	if err := s.loginLog.Append(ctx, entry); err != nil {
		return storageErr("append login log", err)
	}
	return nil
}

func (s *Service) touchKey(ctx context.Context, applicationID, key string, now time.Time) {
	if err := s.keys.TouchLastSeen(ctx, applicationID, key, now); err != nil {
		logOperationWarn(ctx, "touch_key", "last seen touch failed",
			"application_id", applicationID, "key", key, "error", err.Error())
	}
}

func licenseInfoFor(key domain.LicenseKey, now time.Time) LicenseInfo {
	username := key.Key
	return LicenseInfo{
		Key:       key.Key,
		Username:  username,
		Level:     key.Level,
		ExpiresAt: key.ExpiresAt,
		TimeLeft:  domain.TimeLeft(key.ExpiresAt, now),
		Lifetime:  key.Kind == domain.KeyKindLifetime,
	}
}

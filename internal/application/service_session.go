package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/silkworks/keygate/internal/domain"
	"github.com/silkworks/keygate/internal/ports"
)

// InitSession validates the application handshake: shared secret, lifecycle
// status, and expected client version. The returned session token is
// informational; the engine tracks no session state server-side.
func (s *Service) InitSession(ctx context.Context, req InitRequest) (InitResponse, error) {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.OwnerID) == "" {
		return InitResponse{}, fmt.Errorf("%w: name and ownerid are required", domain.ErrInvalidArgument)
	}

	app, err := s.apps.GetByNameOwner(ctx, req.Name, req.OwnerID)
	if err != nil {
		return InitResponse{}, storageErr("get application", err)
	}
	if !secretsEqual(app.Secret, req.Secret) {
		s.audit(ctx, eventSuspiciousAccess, map[string]any{
			"reason":         "application secret mismatch",
			"application_id": app.ID,
		})
		return InitResponse{}, fmt.Errorf("%w: secret mismatch", domain.ErrForbidden)
	}
	if app.Status == domain.AppDisabled {
		return InitResponse{}, fmt.Errorf("%w: application disabled", domain.ErrForbidden)
	}
	if req.ClientVersion != app.Version {
		return InitResponse{}, &domain.UpdateRequiredError{
			Version:     app.Version,
			DownloadURL: app.DownloadURL,
		}
	}

	numUsers, err := s.accounts.CountByApplication(ctx, app.ID)
	if err != nil {
		return InitResponse{}, storageErr("count accounts", err)
	}

	now := s.nowFn()
	token, err := s.signer.Sign(ports.SessionClaims{
		ApplicationID: app.ID,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.cfg.SessionTokenTTL),
	})
	if err != nil {
		return InitResponse{}, fmt.Errorf("sign session token: %w", err)
	}

	return InitResponse{
		SessionID:     token,
		ApplicationID: app.ID,
		NumUsers:      numUsers,
		Version:       app.Version,
	}, nil
}

// LoginWithCredentials validates a username/password pair, applies the
// hardware binding policy, and rejects expired accounts. Failed attempts feed
// the throttle store so repeated guessing trips a temporary block before any
// further store reads happen. Each successful login lands in the append-only
// login trail next to the key check-ins.
func (s *Service) LoginWithCredentials(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	app, err := s.loadActiveApplication(ctx, req.ApplicationID)
	if err != nil {
		return LoginResponse{}, err
	}
	if strings.TrimSpace(req.Username) == "" {
		return LoginResponse{}, fmt.Errorf("%w: username is required", domain.ErrInvalidArgument)
	}

	now := s.nowFn()
	throttleKey := app.ID + ":" + strings.ToLower(req.Username)
	state, err := s.throttle.Get(ctx, throttleKey)
	if err != nil {
		// Throttle storage trouble must not lock everyone out.
		logOperationWarn(ctx, "login_throttle", "throttle lookup failed", "error", err.Error())
	}
	if state.BlockedUntil != nil && state.BlockedUntil.After(now) {
		return LoginResponse{}, fmt.Errorf("%w: too many failed attempts", domain.ErrRateLimited)
	}

	account, err := s.accounts.GetByUsername(ctx, app.ID, req.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.recordLoginFailure(ctx, throttleKey, now)
			return LoginResponse{}, domain.ErrNotFound
		}
		return LoginResponse{}, storageErr("get account", err)
	}

	if err := s.hasher.Compare(account.PasswordHash, req.Password); err != nil {
		s.recordLoginFailure(ctx, throttleKey, now)
		return LoginResponse{}, domain.ErrInvalidCredentials
	}

	switch domain.CheckBinding(deref(account.HWID), req.HWID) {
	case domain.BindNew:
		if req.HWID != "" {
			if err := s.accounts.UpdateHWID(ctx, account.ID, req.HWID); err != nil {
				return LoginResponse{}, storageErr("bind account hwid", err)
			}
			account.HWID = &req.HWID
		}
	case domain.BindDeny:
		if app.HWIDLock {
			s.recordLoginFailure(ctx, throttleKey, now)
			s.audit(ctx, eventSuspiciousAccess, map[string]any{
				"reason":         "account hardware mismatch",
				"application_id": app.ID,
				"username":       account.Username,
				"hwid":           req.HWID,
			})
			return LoginResponse{}, domain.ErrHardwareMismatch
		}
	}

	if domain.IsExpired(account.ExpiresAt, now) {
		return LoginResponse{}, domain.ErrExpired
	}

	if err := s.throttle.Clear(ctx, throttleKey); err != nil {
		logOperationWarn(ctx, "login_throttle", "throttle clear failed", "error", err.Error())
	}
	if err := s.accounts.RecordLogin(ctx, account.ID, now, req.IPAddress); err != nil {
		return LoginResponse{}, storageErr("record login", err)
	}
	account.LastLoginAt = &now
	account.LastIP = req.IPAddress

	if err := s.loginLog.Append(ctx, domain.LoginLogEntry{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		Identifier:    account.Username,
		HWID:          req.HWID,
		Components:    account.Components,
		IP:            req.IPAddress,
		At:            now,
	}); err != nil {
		return LoginResponse{}, storageErr("append login log", err)
	}

	token, err := s.signer.Sign(ports.SessionClaims{
		ApplicationID: app.ID,
		AccountID:     account.ID,
		Username:      account.Username,
		Role:          string(account.Role),
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.cfg.SessionTokenTTL),
	})
	if err != nil {
		return LoginResponse{}, fmt.Errorf("sign session token: %w", err)
	}

	s.audit(ctx, eventLoginSuccess, map[string]any{
		"application_id": app.ID,
		"username":       account.Username,
		"hwid":           req.HWID,
		"ip":             req.IPAddress,
	})

	return LoginResponse{
		Account: AccountInfo{
			Username:    account.Username,
			Level:       account.Level,
			ExpiresAt:   account.ExpiresAt,
			TimeLeft:    domain.TimeLeft(account.ExpiresAt, now),
			Lifetime:    account.ExpiresAt == nil,
			HWID:        deref(account.HWID),
			CreatedAt:   account.CreatedAt,
			LastLoginAt: account.LastLoginAt,
		},
		Token: token,
	}, nil
}

// LoginWithKey is license-only login: it is the same state transition as key
// redemption and delegates to it.
func (s *Service) LoginWithKey(ctx context.Context, req RedeemRequest) (LicenseInfo, error) {
	return s.RedeemKey(ctx, req)
}

// ValidateSession verifies a session token on behalf of internal callers.
// The token account must still exist; claims alone are not enough because
// accounts can be removed while tokens remain in flight.
func (s *Service) ValidateSession(ctx context.Context, token string) (ports.SessionClaims, error) {
	claims, err := s.signer.ParseAndValidate(token)
	if err != nil {
		return ports.SessionClaims{}, fmt.Errorf("%w: invalid session token", domain.ErrInvalidCredentials)
	}
	if claims.AccountID != "" {
		if _, err := s.accounts.GetByID(ctx, claims.AccountID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return ports.SessionClaims{}, fmt.Errorf("%w: unknown account", domain.ErrInvalidCredentials)
			}
			return ports.SessionClaims{}, storageErr("get account", err)
		}
	}
	return claims, nil
}

func (s *Service) recordLoginFailure(ctx context.Context, throttleKey string, now time.Time) {
	if _, err := s.throttle.RecordFailure(ctx, throttleKey, now, s.cfg.FailedLoginThreshold, s.cfg.ThrottleWindow); err != nil {
		logOperationWarn(ctx, "login_throttle", "throttle record failed", "error", err.Error())
	}
}

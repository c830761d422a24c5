package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/silkworks/keygate/internal/domain"
)

// CreateApplication registers a new tenant application owned by the caller.
// The generated secret is returned exactly once; hardware-binding
// enforcement defaults to on unless the request disables it.
func (s *Service) CreateApplication(ctx context.Context, token string, req CreateApplicationRequest) (CreateApplicationResponse, error) {
	caller, err := s.resolvePrivileged(ctx, token)
	if err != nil {
		return CreateApplicationResponse{}, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return CreateApplicationResponse{}, fmt.Errorf("%w: name is required", domain.ErrInvalidArgument)
	}

	secret, err := newAppSecret()
	if err != nil {
		return CreateApplicationResponse{}, fmt.Errorf("%w: generate secret: %v", domain.ErrStorage, err)
	}
	hwidLock := true
	if req.HWIDLock != nil {
		hwidLock = *req.HWIDLock
	}
	app := domain.Application{
		ID:             uuid.NewString(),
		OwnerAccountID: caller.ID,
		Name:           req.Name,
		Secret:         secret,
		Version:        req.Version,
		Status:         domain.AppActive,
		HWIDLock:       hwidLock,
		DownloadURL:    req.DownloadURL,
		CreatedAt:      s.nowFn(),
	}
	if err := s.apps.Create(ctx, app); err != nil {
		return CreateApplicationResponse{}, storageErr("create application", err)
	}
	return CreateApplicationResponse{Application: app}, nil
}

// SetApplicationStatus flips an application between active and disabled.
// Disabling is the kill switch: every client-facing operation refuses a
// disabled application at its entry check.
func (s *Service) SetApplicationStatus(ctx context.Context, token string, req SetApplicationStatusRequest) error {
	if _, err := s.resolvePrivileged(ctx, token); err != nil {
		return err
	}
	if strings.TrimSpace(req.ApplicationID) == "" {
		return fmt.Errorf("%w: appId is required", domain.ErrInvalidArgument)
	}

	var status domain.AppStatus
	switch req.Status {
	case string(domain.AppActive):
		status = domain.AppActive
	case string(domain.AppDisabled):
		status = domain.AppDisabled
	default:
		return fmt.Errorf("%w: status must be active or disabled", domain.ErrInvalidArgument)
	}

	if _, err := s.apps.GetByID(ctx, req.ApplicationID); err != nil {
		return storageErr("get application", err)
	}
	if err := s.apps.SetStatus(ctx, req.ApplicationID, status); err != nil {
		return storageErr("set application status", err)
	}
	return nil
}

func newAppSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

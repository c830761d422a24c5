package postgres

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/silkworks/keygate/internal/domain"
)

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// mapErr folds GORM failures onto the domain sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case isUniqueViolation(err):
		return domain.ErrConflict
	default:
		return err
	}
}

// Component fingerprints live in a jsonb column; a nil pointer maps to NULL.
func fingerprintToJSON(fp *domain.ComponentFingerprint) *string {
	if fp == nil {
		return nil
	}
	raw, err := json.Marshal(fp)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}

func fingerprintFromJSON(raw *string) *domain.ComponentFingerprint {
	if raw == nil || *raw == "" {
		return nil
	}
	var fp domain.ComponentFingerprint
	if err := json.Unmarshal([]byte(*raw), &fp); err != nil {
		return nil
	}
	return &fp
}

func toDomainApplication(m applicationModel) domain.Application {
	return domain.Application{
		ID:             m.ID,
		OwnerAccountID: m.OwnerAccountID,
		Name:           m.Name,
		Secret:         m.Secret,
		Version:        m.Version,
		Status:         domain.AppStatus(m.Status),
		HWIDLock:       m.HWIDLock,
		DownloadURL:    m.DownloadURL,
		CreatedAt:      m.CreatedAt,
	}
}

func toDomainKey(m licenseKeyModel) domain.LicenseKey {
	return domain.LicenseKey{
		Key:           m.Key,
		ApplicationID: m.ApplicationID,
		Kind:          domain.KeyKind(m.Kind),
		Days:          m.Days,
		Level:         m.Level,
		Status:        domain.KeyStatus(m.Status),
		HWID:          m.HWID,
		ActivatedAt:   m.ActivatedAt,
		ExpiresAt:     m.ExpiresAt,
		AccountID:     m.AccountID,
		Components:    fingerprintFromJSON(m.Components),
		LastSeenAt:    m.LastSeenAt,
		Note:          m.Note,
		CreatedAt:     m.CreatedAt,
	}
}

func toDomainAccount(m accountModel) domain.Account {
	return domain.Account{
		ID:            m.ID,
		ApplicationID: m.ApplicationID,
		Username:      m.Username,
		PasswordHash:  m.PasswordHash,
		Role:          domain.Role(m.Role),
		HWID:          m.HWID,
		ExpiresAt:     m.ExpiresAt,
		Level:         m.Level,
		Components:    fingerprintFromJSON(m.Components),
		CreatedAt:     m.CreatedAt,
		LastLoginAt:   m.LastLoginAt,
		LastIP:        m.LastIP,
	}
}

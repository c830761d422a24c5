package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/silkworks/keygate/internal/domain"
	"github.com/silkworks/keygate/internal/ports"
)

// NewRepositories wires every port to its table-backed implementation.
func NewRepositories(db *gorm.DB) ports.Repositories {
	return ports.Repositories{
		Applications: &applicationRepository{db: db},
		Keys:         &keyRepository{db: db},
		Accounts:     &accountRepository{db: db},
		LoginLog:     &loginLogRepository{db: db},
		AuditOutbox:  &outboxRepository{db: db},
		Idempotency:  &idempotencyRepository{db: db},
	}
}

type applicationRepository struct {
	db *gorm.DB
}

func (r *applicationRepository) Create(ctx context.Context, app domain.Application) error {
	rec := applicationModel{
		ID:             app.ID,
		OwnerAccountID: app.OwnerAccountID,
		Name:           app.Name,
		Secret:         app.Secret,
		Version:        app.Version,
		Status:         string(app.Status),
		HWIDLock:       app.HWIDLock,
		DownloadURL:    app.DownloadURL,
		CreatedAt:      app.CreatedAt.UTC(),
	}
	return mapErr(r.db.WithContext(ctx).Create(&rec).Error)
}

func (r *applicationRepository) GetByID(ctx context.Context, id string) (domain.Application, error) {
	var rec applicationModel
	if err := r.db.WithContext(ctx).Where("application_id = ?", id).Take(&rec).Error; err != nil {
		return domain.Application{}, mapErr(err)
	}
	return toDomainApplication(rec), nil
}

func (r *applicationRepository) GetByNameOwner(ctx context.Context, name, ownerAccountID string) (domain.Application, error) {
	var rec applicationModel
	err := r.db.WithContext(ctx).
		Where("name = ? AND owner_account_id = ?", name, ownerAccountID).
		Take(&rec).Error
	if err != nil {
		return domain.Application{}, mapErr(err)
	}
	return toDomainApplication(rec), nil
}

func (r *applicationRepository) SetStatus(ctx context.Context, id string, status domain.AppStatus) error {
	res := r.db.WithContext(ctx).
		Model(&applicationModel{}).
		Where("application_id = ?", id).
		Update("status", string(status))
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type keyRepository struct {
	db *gorm.DB
}

// InsertBatch runs inside one transaction so a failure never leaves a
// partial batch visible.
func (r *keyRepository) InsertBatch(ctx context.Context, keys []domain.LicenseKey) error {
	if len(keys) == 0 {
		return nil
	}
	recs := make([]licenseKeyModel, 0, len(keys))
	for _, k := range keys {
		recs = append(recs, licenseKeyModel{
			ApplicationID: k.ApplicationID,
			Key:           k.Key,
			Kind:          string(k.Kind),
			Days:          k.Days,
			Level:         k.Level,
			Status:        string(k.Status),
			HWID:          k.HWID,
			ActivatedAt:   k.ActivatedAt,
			ExpiresAt:     k.ExpiresAt,
			AccountID:     k.AccountID,
			Components:    fingerprintToJSON(k.Components),
			LastSeenAt:    k.LastSeenAt,
			Note:          k.Note,
			CreatedAt:     k.CreatedAt.UTC(),
		})
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&recs).Error
	})
	return mapErr(err)
}

func (r *keyRepository) GetByAppAndKey(ctx context.Context, applicationID, key string) (domain.LicenseKey, error) {
	var rec licenseKeyModel
	err := r.db.WithContext(ctx).
		Where("application_id = ? AND key = ?", applicationID, key).
		Take(&rec).Error
	if err != nil {
		return domain.LicenseKey{}, mapErr(err)
	}
	return toDomainKey(rec), nil
}

// ActivateIfUnused performs the exactly-once activation swap. The status
// guard in the WHERE clause makes the row update atomic: of two concurrent
// callers, at most one sees an affected row.
func (r *keyRepository) ActivateIfUnused(ctx context.Context, applicationID, key string, params ports.ActivationParams) (bool, error) {
	updates := map[string]any{
		"status":       string(domain.KeyActivated),
		"hwid":         params.HWID,
		"activated_at": params.ActivatedAt.UTC(),
	}
	if params.ExpiresAt != nil {
		updates["expires_at"] = params.ExpiresAt.UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&licenseKeyModel{}).
		Where("application_id = ? AND key = ? AND status = ?", applicationID, key, string(domain.KeyUnused)).
		Updates(updates)
	if res.Error != nil {
		return false, mapErr(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *keyRepository) LinkAccount(ctx context.Context, applicationID, key, accountID string) error {
	return r.update(ctx, applicationID, key, map[string]any{"account_id": accountID})
}

func (r *keyRepository) UpdateHWID(ctx context.Context, applicationID, key, hwid string) error {
	return r.update(ctx, applicationID, key, map[string]any{"hwid": hwid})
}

func (r *keyRepository) UpdateComponents(ctx context.Context, applicationID, key string, fp domain.ComponentFingerprint) error {
	return r.update(ctx, applicationID, key, map[string]any{"components": fingerprintToJSON(&fp)})
}

func (r *keyRepository) TouchLastSeen(ctx context.Context, applicationID, key string, at time.Time) error {
	return r.update(ctx, applicationID, key, map[string]any{"last_seen_at": at.UTC()})
}

func (r *keyRepository) update(ctx context.Context, applicationID, key string, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&licenseKeyModel{}).
		Where("application_id = ? AND key = ?", applicationID, key).
		Updates(updates)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type accountRepository struct {
	db *gorm.DB
}

func (r *accountRepository) Create(ctx context.Context, account domain.Account) error {
	rec := accountModel{
		ID:            account.ID,
		ApplicationID: account.ApplicationID,
		Username:      account.Username,
		PasswordHash:  account.PasswordHash,
		Role:          string(account.Role),
		HWID:          account.HWID,
		ExpiresAt:     account.ExpiresAt,
		Level:         account.Level,
		Components:    fingerprintToJSON(account.Components),
		CreatedAt:     account.CreatedAt.UTC(),
		LastLoginAt:   account.LastLoginAt,
		LastIP:        account.LastIP,
	}
	return mapErr(r.db.WithContext(ctx).Create(&rec).Error)
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (domain.Account, error) {
	var rec accountModel
	if err := r.db.WithContext(ctx).Where("account_id = ?", id).Take(&rec).Error; err != nil {
		return domain.Account{}, mapErr(err)
	}
	return toDomainAccount(rec), nil
}

func (r *accountRepository) GetByUsername(ctx context.Context, applicationID, username string) (domain.Account, error) {
	var rec accountModel
	err := r.db.WithContext(ctx).
		Where("application_id = ? AND username = ?", applicationID, username).
		Take(&rec).Error
	if err != nil {
		return domain.Account{}, mapErr(err)
	}
	return toDomainAccount(rec), nil
}

func (r *accountRepository) UpdateHWID(ctx context.Context, id, hwid string) error {
	return r.update(ctx, id, map[string]any{"hwid": hwid})
}

func (r *accountRepository) UpdateComponents(ctx context.Context, id string, fp domain.ComponentFingerprint) error {
	return r.update(ctx, id, map[string]any{"components": fingerprintToJSON(&fp)})
}

func (r *accountRepository) RecordLogin(ctx context.Context, id string, at time.Time, ip string) error {
	return r.update(ctx, id, map[string]any{"last_login_at": at.UTC(), "last_ip": ip})
}

func (r *accountRepository) CountByApplication(ctx context.Context, applicationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&accountModel{}).
		Where("application_id = ?", applicationID).
		Count(&count).Error
	if err != nil {
		return 0, mapErr(err)
	}
	return count, nil
}

func (r *accountRepository) update(ctx context.Context, id string, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&accountModel{}).
		Where("account_id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type loginLogRepository struct {
	db *gorm.DB
}

func (r *loginLogRepository) Append(ctx context.Context, entry domain.LoginLogEntry) error {
	rec := loginLogModel{
		ID:            entry.ID,
		ApplicationID: entry.ApplicationID,
		Identifier:    entry.Identifier,
		HWID:          entry.HWID,
		Components:    fingerprintToJSON(entry.Components),
		IP:            entry.IP,
		At:            entry.At.UTC(),
	}
	return mapErr(r.db.WithContext(ctx).Create(&rec).Error)
}

package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/silkworks/keygate/internal/domain"
	"github.com/silkworks/keygate/internal/ports"
)

type keyRepo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type fingerprintDoc struct {
	GPU         string    `bson:"gpu"`
	Motherboard string    `bson:"motherboard"`
	CPU         string    `bson:"cpu"`
	RecordedAt  time.Time `bson:"recorded_at"`
}

type keyDoc struct {
	Key           string          `bson:"key"`
	ApplicationID string          `bson:"application_id"`
	Kind          string          `bson:"kind"`
	Days          int             `bson:"days"`
	Level         int             `bson:"level"`
	Status        string          `bson:"status"`
	HWID          *string         `bson:"hwid,omitempty"`
	ActivatedAt   *time.Time      `bson:"activated_at,omitempty"`
	ExpiresAt     *time.Time      `bson:"expires_at,omitempty"`
	AccountID     *string         `bson:"account_id,omitempty"`
	Components    *fingerprintDoc `bson:"components,omitempty"`
	LastSeenAt    *time.Time      `bson:"last_seen_at,omitempty"`
	Note          string          `bson:"note,omitempty"`
	CreatedAt     time.Time       `bson:"created_at"`
}

func fingerprintToDoc(fp *domain.ComponentFingerprint) *fingerprintDoc {
	if fp == nil {
		return nil
	}
	return &fingerprintDoc{
		GPU:         fp.GPU,
		Motherboard: fp.Motherboard,
		CPU:         fp.CPU,
		RecordedAt:  fp.RecordedAt.UTC(),
	}
}

func (d *fingerprintDoc) toDomain() *domain.ComponentFingerprint {
	if d == nil {
		return nil
	}
	return &domain.ComponentFingerprint{
		GPU:         d.GPU,
		Motherboard: d.Motherboard,
		CPU:         d.CPU,
		RecordedAt:  d.RecordedAt,
	}
}

func keyToDoc(k domain.LicenseKey) keyDoc {
	return keyDoc{
		Key:           k.Key,
		ApplicationID: k.ApplicationID,
		Kind:          string(k.Kind),
		Days:          k.Days,
		Level:         k.Level,
		Status:        string(k.Status),
		HWID:          k.HWID,
		ActivatedAt:   k.ActivatedAt,
		ExpiresAt:     k.ExpiresAt,
		AccountID:     k.AccountID,
		Components:    fingerprintToDoc(k.Components),
		LastSeenAt:    k.LastSeenAt,
		Note:          k.Note,
		CreatedAt:     k.CreatedAt.UTC(),
	}
}

func (d keyDoc) toDomain() domain.LicenseKey {
	return domain.LicenseKey{
		Key:           d.Key,
		ApplicationID: d.ApplicationID,
		Kind:          domain.KeyKind(d.Kind),
		Days:          d.Days,
		Level:         d.Level,
		Status:        domain.KeyStatus(d.Status),
		HWID:          d.HWID,
		ActivatedAt:   d.ActivatedAt,
		ExpiresAt:     d.ExpiresAt,
		AccountID:     d.AccountID,
		Components:    d.Components.toDomain(),
		LastSeenAt:    d.LastSeenAt,
		Note:          d.Note,
		CreatedAt:     d.CreatedAt,
	}
}

// InsertBatch persists a generated batch inside one transaction so a failure
// never leaves a partial batch visible.
func (r *keyRepo) InsertBatch(ctx context.Context, keys []domain.LicenseKey) error {
	if len(keys) == 0 {
		return nil
	}
	docs := make([]any, 0, len(keys))
	for _, k := range keys {
		docs = append(docs, keyToDoc(k))
	}

	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		_, err := r.coll.InsertMany(ctx, docs)
		return nil, err
	})
	return mapErr(err)
}

func (r *keyRepo) GetByAppAndKey(ctx context.Context, applicationID, key string) (domain.LicenseKey, error) {
	filter := bson.M{"application_id": applicationID, "key": key}
	var doc keyDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return domain.LicenseKey{}, mapErr(err)
	}
	return doc.toDomain(), nil
}

// ActivateIfUnused performs the exactly-once activation swap. The status
// guard in the filter makes the document-level update atomic: of two
// concurrent callers, at most one observes a modified document.
func (r *keyRepo) ActivateIfUnused(ctx context.Context, applicationID, key string, params ports.ActivationParams) (bool, error) {
	filter := bson.M{
		"application_id": applicationID,
		"key":            key,
		"status":         string(domain.KeyUnused),
	}
	set := bson.M{
		"status":       string(domain.KeyActivated),
		"hwid":         params.HWID,
		"activated_at": params.ActivatedAt.UTC(),
	}
	if params.ExpiresAt != nil {
		set["expires_at"] = params.ExpiresAt.UTC()
	}
	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, mapErr(err)
	}
	return res.ModifiedCount == 1, nil
}

func (r *keyRepo) LinkAccount(ctx context.Context, applicationID, key, accountID string) error {
	return r.setField(ctx, applicationID, key, bson.M{"account_id": accountID})
}

func (r *keyRepo) UpdateHWID(ctx context.Context, applicationID, key, hwid string) error {
	return r.setField(ctx, applicationID, key, bson.M{"hwid": hwid})
}

func (r *keyRepo) UpdateComponents(ctx context.Context, applicationID, key string, fp domain.ComponentFingerprint) error {
	return r.setField(ctx, applicationID, key, bson.M{"components": fingerprintToDoc(&fp)})
}

func (r *keyRepo) TouchLastSeen(ctx context.Context, applicationID, key string, at time.Time) error {
	return r.setField(ctx, applicationID, key, bson.M{"last_seen_at": at.UTC()})
}

func (r *keyRepo) setField(ctx context.Context, applicationID, key string, set bson.M) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"application_id": applicationID, "key": key},
		bson.M{"$set": set},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

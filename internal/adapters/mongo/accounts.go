package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/silkworks/keygate/internal/domain"
)

type accountRepo struct {
	coll *mongo.Collection
}

type accountDoc struct {
	ID            string          `bson:"_id"`
	ApplicationID string          `bson:"application_id"`
	Username      string          `bson:"username"`
	PasswordHash  string          `bson:"password_hash"`
	Role          string          `bson:"role"`
	HWID          *string         `bson:"hwid,omitempty"`
	ExpiresAt     *time.Time      `bson:"expires_at,omitempty"`
	Level         int             `bson:"level"`
	Components    *fingerprintDoc `bson:"components,omitempty"`
	CreatedAt     time.Time       `bson:"created_at"`
	LastLoginAt   *time.Time      `bson:"last_login_at,omitempty"`
	LastIP        string          `bson:"last_ip,omitempty"`
}

func accountToDoc(a domain.Account) accountDoc {
	return accountDoc{
		ID:            a.ID,
		ApplicationID: a.ApplicationID,
		Username:      a.Username,
		PasswordHash:  a.PasswordHash,
		Role:          string(a.Role),
		HWID:          a.HWID,
		ExpiresAt:     a.ExpiresAt,
		Level:         a.Level,
		Components:    fingerprintToDoc(a.Components),
		CreatedAt:     a.CreatedAt.UTC(),
		LastLoginAt:   a.LastLoginAt,
		LastIP:        a.LastIP,
	}
}

func (d accountDoc) toDomain() domain.Account {
	return domain.Account{
		ID:            d.ID,
		ApplicationID: d.ApplicationID,
		Username:      d.Username,
		PasswordHash:  d.PasswordHash,
		Role:          domain.Role(d.Role),
		HWID:          d.HWID,
		ExpiresAt:     d.ExpiresAt,
		Level:         d.Level,
		Components:    d.Components.toDomain(),
		CreatedAt:     d.CreatedAt,
		LastLoginAt:   d.LastLoginAt,
		LastIP:        d.LastIP,
	}
}

func (r *accountRepo) Create(ctx context.Context, account domain.Account) error {
	_, err := r.coll.InsertOne(ctx, accountToDoc(account))
	return mapErr(err)
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (domain.Account, error) {
	var doc accountDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return domain.Account{}, mapErr(err)
	}
	return doc.toDomain(), nil
}

func (r *accountRepo) GetByUsername(ctx context.Context, applicationID, username string) (domain.Account, error) {
	filter := bson.M{"application_id": applicationID, "username": username}
	var doc accountDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return domain.Account{}, mapErr(err)
	}
	return doc.toDomain(), nil
}

func (r *accountRepo) UpdateHWID(ctx context.Context, id, hwid string) error {
	return r.setField(ctx, id, bson.M{"hwid": hwid})
}

func (r *accountRepo) UpdateComponents(ctx context.Context, id string, fp domain.ComponentFingerprint) error {
	return r.setField(ctx, id, bson.M{"components": fingerprintToDoc(&fp)})
}

func (r *accountRepo) RecordLogin(ctx context.Context, id string, at time.Time, ip string) error {
	return r.setField(ctx, id, bson.M{"last_login_at": at.UTC(), "last_ip": ip})
}

func (r *accountRepo) CountByApplication(ctx context.Context, applicationID string) (int64, error) {
	count, err := r.coll.CountDocuments(ctx, bson.M{"application_id": applicationID})
	if err != nil {
		return 0, mapErr(err)
	}
	return count, nil
}

func (r *accountRepo) setField(ctx context.Context, id string, set bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/silkworks/keygate/internal/domain"
	"github.com/silkworks/keygate/internal/ports"
)

const (
	collApplications = "applications"
	collKeys         = "license_keys"
	collAccounts     = "accounts"
	collLoginLog     = "login_log"
	collAuditOutbox  = "audit_outbox"
	collIdempotency  = "idempotency_keys"
)

// Store owns the database handle shared by all repositories. The caller
// manages the client lifecycle through Close.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := &Store{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Repositories wires every port to its collection-backed implementation.
func (s *Store) Repositories() ports.Repositories {
	return ports.Repositories{
		Applications: &applicationRepo{coll: s.db.Collection(collApplications)},
		Keys:         &keyRepo{client: s.client, coll: s.db.Collection(collKeys)},
		Accounts:     &accountRepo{coll: s.db.Collection(collAccounts)},
		LoginLog:     &loginLogRepo{coll: s.db.Collection(collLoginLog)},
		AuditOutbox:  &outboxRepo{coll: s.db.Collection(collAuditOutbox)},
		Idempotency:  &idempotencyRepo{coll: s.db.Collection(collIdempotency)},
	}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	byColl := map[string][]mongo.IndexModel{
		collApplications: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}, {Key: "owner_account_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		collKeys: {
			{
				Keys:    bson.D{{Key: "application_id", Value: 1}, {Key: "key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		collAccounts: {
			{
				Keys:    bson.D{{Key: "application_id", Value: 1}, {Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		collLoginLog: {
			{Keys: bson.D{{Key: "application_id", Value: 1}, {Key: "at", Value: -1}}},
		},
		collAuditOutbox: {
			{Keys: bson.D{{Key: "published_at", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		collIdempotency: {
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
	}
	for coll, indexes := range byColl {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("collection %s: %w", coll, err)
		}
	}
	return nil
}

// mapErr folds driver failures onto the domain sentinels the application
// layer dispatches on.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return domain.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: duplicate document", domain.ErrConflict)
	default:
		return err
	}
}

package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/silkworks/keygate/internal/domain"
	"github.com/silkworks/keygate/internal/ports"
)

type idempotencyRepo struct {
	coll *mongo.Collection
}

type idempotencyDoc struct {
	Key          string    `bson:"_id"`
	RequestHash  string    `bson:"request_hash"`
	Status       string    `bson:"status"`
	ResponseBody []byte    `bson:"response_body,omitempty"`
	ExpiresAt    time.Time `bson:"expires_at"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (r *idempotencyRepo) Get(ctx context.Context, key string) (*ports.IdempotencyRecord, error) {
	var doc idempotencyDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &ports.IdempotencyRecord{
		Key:          doc.Key,
		RequestHash:  doc.RequestHash,
		Status:       doc.Status,
		ResponseBody: doc.ResponseBody,
		ExpiresAt:    doc.ExpiresAt,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

// Reserve relies on the _id uniqueness guarantee: a concurrent duplicate
// insert surfaces as ErrConflict and the caller replays instead of minting.
func (r *idempotencyRepo) Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error {
	now := time.Now().UTC()
	_, err := r.coll.InsertOne(ctx, idempotencyDoc{
		Key:         key,
		RequestHash: requestHash,
		Status:      "pending",
		ExpiresAt:   expiresAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return mapErr(err)
}

func (r *idempotencyRepo) Complete(ctx context.Context, key string, responseBody []byte, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{
			"status":        "completed",
			"response_body": responseBody,
			"updated_at":    at.UTC(),
		}},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/silkworks/keygate/internal/domain"
	"github.com/silkworks/keygate/internal/ports"
)

type outboxRepo struct {
	coll *mongo.Collection
}

type outboxDoc struct {
	ID             string     `bson:"_id"`
	EventType      string     `bson:"event_type"`
	Payload        []byte     `bson:"payload"`
	RetryCount     int        `bson:"retry_count"`
	LastError      *string    `bson:"last_error,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	PublishedAt    *time.Time `bson:"published_at,omitempty"`
	LastErrorAt    *time.Time `bson:"last_error_at,omitempty"`
	ClaimToken     *string    `bson:"claim_token,omitempty"`
	ClaimUntil     *time.Time `bson:"claim_until,omitempty"`
	DeadLetteredAt *time.Time `bson:"dead_lettered_at,omitempty"`
}

func (d outboxDoc) toRecord() ports.AuditRecord {
	return ports.AuditRecord{
		OutboxID:       d.ID,
		EventType:      d.EventType,
		Payload:        d.Payload,
		RetryCount:     d.RetryCount,
		LastError:      d.LastError,
		CreatedAt:      d.CreatedAt,
		PublishedAt:    d.PublishedAt,
		LastErrorAt:    d.LastErrorAt,
		ClaimToken:     d.ClaimToken,
		ClaimUntil:     d.ClaimUntil,
		DeadLetteredAt: d.DeadLetteredAt,
	}
}

func (r *outboxRepo) Enqueue(ctx context.Context, event ports.AuditEvent) error {
	_, err := r.coll.InsertOne(ctx, outboxDoc{
		ID:        event.EventID,
		EventType: event.EventType,
		Payload:   event.Payload,
		CreatedAt: event.OccurredAt.UTC(),
	})
	return mapErr(err)
}

// ClaimUnpublished atomically claims up to limit unpublished records for one
// worker. Each claim is a single FindOneAndUpdate so two workers can never
// hold the same record while a claim is live.
func (r *outboxRepo) ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.AuditRecord, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"published_at":     bson.M{"$exists": false},
		"dead_lettered_at": bson.M{"$exists": false},
		"$or": []bson.M{
			{"claim_until": bson.M{"$exists": false}},
			{"claim_until": bson.M{"$lt": now}},
		},
	}
	update := bson.M{"$set": bson.M{
		"claim_token": claimToken,
		"claim_until": claimUntil.UTC(),
	}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "created_at", Value: 1}})

	var claimed []ports.AuditRecord
	for i := 0; i < limit; i++ {
		var doc outboxDoc
		err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return claimed, mapErr(err)
		}
		claimed = append(claimed, doc.toRecord())
	}
	return claimed, nil
}

func (r *outboxRepo) MarkPublished(ctx context.Context, outboxID, claimToken string, at time.Time) error {
	return r.updateClaimed(ctx, outboxID, claimToken, bson.M{
		"$set":   bson.M{"published_at": at.UTC()},
		"$unset": bson.M{"claim_token": "", "claim_until": ""},
	})
}

func (r *outboxRepo) MarkFailed(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error {
	return r.updateClaimed(ctx, outboxID, claimToken, bson.M{
		"$set":   bson.M{"last_error": errMsg, "last_error_at": at.UTC()},
		"$inc":   bson.M{"retry_count": 1},
		"$unset": bson.M{"claim_token": "", "claim_until": ""},
	})
}

func (r *outboxRepo) MarkDeadLettered(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error {
	return r.updateClaimed(ctx, outboxID, claimToken, bson.M{
		"$set": bson.M{
			"dead_lettered_at": at.UTC(),
			"last_error":       errMsg,
			"last_error_at":    at.UTC(),
		},
		"$unset": bson.M{"claim_token": "", "claim_until": ""},
	})
}

func (r *outboxRepo) updateClaimed(ctx context.Context, outboxID, claimToken string, update bson.M) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": outboxID, "claim_token": claimToken},
		update,
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

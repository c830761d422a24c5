package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/silkworks/keygate/internal/domain"
)

type loginLogRepo struct {
	coll *mongo.Collection
}

type loginLogDoc struct {
	ID            string          `bson:"_id"`
	ApplicationID string          `bson:"application_id"`
	Identifier    string          `bson:"identifier"`
	HWID          string          `bson:"hwid,omitempty"`
	Components    *fingerprintDoc `bson:"components,omitempty"`
	IP            string          `bson:"ip,omitempty"`
	At            time.Time       `bson:"at"`
}

func (r *loginLogRepo) Append(ctx context.Context, entry domain.LoginLogEntry) error {
	_, err := r.coll.InsertOne(ctx, loginLogDoc{
		ID:            entry.ID,
		ApplicationID: entry.ApplicationID,
		Identifier:    entry.Identifier,
		HWID:          entry.HWID,
		Components:    fingerprintToDoc(entry.Components),
		IP:            entry.IP,
		At:            entry.At.UTC(),
	})
	return mapErr(err)
}

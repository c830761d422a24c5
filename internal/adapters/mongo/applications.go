package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/silkworks/keygate/internal/domain"
)

type applicationRepo struct {
	coll *mongo.Collection
}

type applicationDoc struct {
	ID             string    `bson:"_id"`
	OwnerAccountID string    `bson:"owner_account_id"`
	Name           string    `bson:"name"`
	Secret         string    `bson:"secret"`
	Version        string    `bson:"version"`
	Status         string    `bson:"status"`
	HWIDLock       bool      `bson:"hwid_lock"`
	DownloadURL    string    `bson:"download_url,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

func applicationToDoc(app domain.Application) applicationDoc {
	return applicationDoc{
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
}

func (d applicationDoc) toDomain() domain.Application {
	return domain.Application{
		ID:             d.ID,
		OwnerAccountID: d.OwnerAccountID,
		Name:           d.Name,
		Secret:         d.Secret,
		Version:        d.Version,
		Status:         domain.AppStatus(d.Status),
		HWIDLock:       d.HWIDLock,
		DownloadURL:    d.DownloadURL,
		CreatedAt:      d.CreatedAt,
	}
}

func (r *applicationRepo) Create(ctx context.Context, app domain.Application) error {
	_, err := r.coll.InsertOne(ctx, applicationToDoc(app))
	return mapErr(err)
}

func (r *applicationRepo) GetByID(ctx context.Context, id string) (domain.Application, error) {
	var doc applicationDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return domain.Application{}, mapErr(err)
	}
	return doc.toDomain(), nil
}

func (r *applicationRepo) GetByNameOwner(ctx context.Context, name, ownerAccountID string) (domain.Application, error) {
	filter := bson.M{"name": name, "owner_account_id": ownerAccountID}
	var doc applicationDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return domain.Application{}, mapErr(err)
	}
	return doc.toDomain(), nil
}

func (r *applicationRepo) SetStatus(ctx context.Context, id string, status domain.AppStatus) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": string(status)}},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

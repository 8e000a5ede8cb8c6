package sessions

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store provides refresh-token persistence. Delete reports whether a record
// was actually removed so that concurrent redemptions of the same token have
// exactly one winner.
type Store interface {
	Create(ctx context.Context, t *RefreshToken) error
	Get(ctx context.Context, token string) (*RefreshToken, error)
	Delete(ctx context.Context, token string) (bool, error)
	DeleteAllForOwner(ctx context.Context, ownerID string) error
}

// MongoStore implements Store using a Mongo collection with a unique index on
// the token value and a secondary index on the owner for bulk revocation.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(col *mongo.Collection) *MongoStore {
	return &MongoStore{col: col}
}

// EnsureIndexes creates the indexes the store relies on. Call once at startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "ownerId", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("refresh token indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, t *RefreshToken) error {
	_, err := s.col.InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	return err
}

func (s *MongoStore) Get(ctx context.Context, token string) (*RefreshToken, error) {
	var t RefreshToken
	if err := s.col.FindOne(ctx, bson.M{"token": token}).Decode(&t); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *MongoStore) Delete(ctx context.Context, token string) (bool, error) {
	res, err := s.col.DeleteOne(ctx, bson.M{"token": token})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) DeleteAllForOwner(ctx context.Context, ownerID string) error {
	_, err := s.col.DeleteMany(ctx, bson.M{"ownerId": ownerID})
	return err
}

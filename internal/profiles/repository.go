package profiles

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when no profile exists for the given identity.
// Registration creates profiles; this package never creates them implicitly.
var ErrNotFound = errors.New("profiles: profile not found")

// Repository defines persistence operations for user profiles
type Repository interface {
	GetByOwnerID(ctx context.Context, ownerID string) (*Profile, error)
	GetRefreshCache(ctx context.Context, ownerID string) (string, error)
	SetRefreshCache(ctx context.Context, ownerID, email, token string) error
	SoftDelete(ctx context.Context, ownerID string) error
}

// MongoRepository implements Repository using MongoDB
type MongoRepository struct {
	col *mongo.Collection
}

// NewMongoRepository creates a new repository for the given collection
func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

// EnsureIndexes creates the unique ownerId index used by every lookup.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "ownerId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *MongoRepository) GetByOwnerID(ctx context.Context, ownerID string) (*Profile, error) {
	var p Profile
	if err := r.col.FindOne(ctx, bson.M{"ownerId": ownerID}).Decode(&p); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetRefreshCache returns the cached provider refresh token for the owner.
// An existing profile with no cached token yields an empty string and no error.
func (r *MongoRepository) GetRefreshCache(ctx context.Context, ownerID string) (string, error) {
	var p struct {
		ProviderRefreshToken string `bson:"providerRefreshToken"`
	}
	opts := options.FindOne().SetProjection(bson.M{"providerRefreshToken": 1})
	if err := r.col.FindOne(ctx, bson.M{"ownerId": ownerID}, opts).Decode(&p); err != nil {
		if err == mongo.ErrNoDocuments {
			return "", ErrNotFound
		}
		return "", err
	}
	return p.ProviderRefreshToken, nil
}

// SetRefreshCache updates the cached provider refresh token on an existing
// profile (update-by-identity, never an upsert).
func (r *MongoRepository) SetRefreshCache(ctx context.Context, ownerID, email, token string) error {
	set := bson.M{
		"providerRefreshToken": token,
		"updatedAt":            time.Now().UTC(),
	}
	if email != "" {
		set["email"] = email
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"ownerId": ownerID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks the profile inactive and drops the cached provider token.
// Already-deleted and missing profiles are treated as success (idempotent).
func (r *MongoRepository) SoftDelete(ctx context.Context, ownerID string) error {
	update := bson.M{
		"$set":   bson.M{"active": false, "updatedAt": time.Now().UTC()},
		"$unset": bson.M{"providerRefreshToken": ""},
	}
	_, err := r.col.UpdateOne(ctx, bson.M{"ownerId": ownerID}, update)
	return err
}

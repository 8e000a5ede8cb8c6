package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// retentionGrace keeps redeemed-too-late records around past their logical
// expiry so an expired redemption can be told apart from an unknown token.
const retentionGrace = 24 * time.Hour

// RedisStore implements Store using Redis. Records are stored as JSON under
// "<prefix><token>" with a TTL slightly past their logical expiry, plus a
// per-owner set "<prefix>owner:<id>" for bulk revocation.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed refresh token store. Prefix may be empty.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rt:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

func (s *RedisStore) ownerKey(ownerID string) string {
	return s.prefix + "owner:" + ownerID
}

func (s *RedisStore) Create(ctx context.Context, t *RefreshToken) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ttl := time.Until(t.ExpiresAt) + retentionGrace
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, s.key(t.Token), b, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if err := s.client.SAdd(ctx, s.ownerKey(t.OwnerID), t.Token).Err(); err != nil {
		// a token missing from the owner set would survive DeleteAllForOwner;
		// roll the record back rather than leave it unrevocable
		_ = s.client.Del(ctx, s.key(t.Token)).Err()
		return err
	}
	return nil
}

// Get returns the record even when logically expired; expiry policy belongs to
// the manager so that stale tokens produce the expired (not unknown) outcome.
func (s *RedisStore) Get(ctx context.Context, token string) (*RefreshToken, error) {
	b, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var t RefreshToken
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Delete removes the record and reports whether it existed. The DEL reply
// count makes this a single-winner primitive under concurrent redemption.
func (s *RedisStore) Delete(ctx context.Context, token string) (bool, error) {
	t, err := s.Get(ctx, token)
	if err != nil {
		return false, err
	}
	n, err := s.client.Del(ctx, s.key(token)).Result()
	if err != nil {
		return false, err
	}
	if t != nil {
		_ = s.client.SRem(ctx, s.ownerKey(t.OwnerID), token).Err()
	}
	return n > 0, nil
}

func (s *RedisStore) DeleteAllForOwner(ctx context.Context, ownerID string) error {
	tokens, err := s.client.SMembers(ctx, s.ownerKey(ownerID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, tok := range tokens {
		keys = append(keys, s.key(tok))
	}
	keys = append(keys, s.ownerKey(ownerID))
	return s.client.Del(ctx, keys...).Err()
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSessionKeyPrefix = "studyhub:session:"

// RedisSessionStore keeps sessions in Redis so multiple replicas share
// authentication state without a relational database. Redis key TTLs track
// the session expiry, so expired sessions vanish without a purge sweep.
type RedisSessionStore struct {
	client *redis.Client
}

type redisSessionPayload struct {
	UserID            string    `json:"userId"`
	ExpiresAt         time.Time `json:"expiresAt"`
	AbsoluteExpiresAt time.Time `json:"absoluteExpiresAt"`
}

// NewRedisSessionStore connects to Redis using the provided URL
// (redis://host:port/db) and verifies the connection.
func NewRedisSessionStore(url string) (*RedisSessionStore, error) {
	if url == "" {
		return nil, fmt.Errorf("redis session url required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis session url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis session store: %w", err)
	}
	return &RedisSessionStore{client: client}, nil
}

// Close releases the Redis client resources.
func (s *RedisSessionStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Save stores the session token with a TTL matching its expiry.
func (s *RedisSessionStore) Save(token, userID string, expiresAt, absoluteExpiresAt time.Time) error {
	if s.client == nil {
		return fmt.Errorf("redis session client not configured")
	}
	payload, err := json.Marshal(redisSessionPayload{
		UserID:            userID,
		ExpiresAt:         expiresAt.UTC(),
		AbsoluteExpiresAt: absoluteExpiresAt.UTC(),
	})
	if err != nil {
		return err
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.Set(context.Background(), redisSessionKeyPrefix+token, payload, ttl).Err()
}

// Get retrieves the session record for the provided token.
func (s *RedisSessionStore) Get(token string) (SessionRecord, bool, error) {
	if s.client == nil {
		return SessionRecord{}, false, fmt.Errorf("redis session client not configured")
	}
	raw, err := s.client.Get(context.Background(), redisSessionKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return SessionRecord{}, false, nil
		}
		return SessionRecord{}, false, err
	}
	var payload redisSessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return SessionRecord{}, false, err
	}
	return SessionRecord{
		Token:             token,
		UserID:            payload.UserID,
		ExpiresAt:         payload.ExpiresAt,
		AbsoluteExpiresAt: payload.AbsoluteExpiresAt,
	}, true, nil
}

// Delete removes the session token.
func (s *RedisSessionStore) Delete(token string) error {
	if s.client == nil {
		return fmt.Errorf("redis session client not configured")
	}
	return s.client.Del(context.Background(), redisSessionKeyPrefix+token).Err()
}

// PurgeExpired is a no-op: Redis evicts session keys via their TTL.
func (s *RedisSessionStore) PurgeExpired(time.Time) error {
	return nil
}

// Ping verifies the Redis session store is reachable.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis session client not configured")
	}
	return s.client.Ping(ctx).Err()
}

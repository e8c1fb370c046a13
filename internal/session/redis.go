package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "session:"

var _ Store = (*RedisStore)(nil)

// RedisStore keeps sessions in Redis under session:<id> with the TTL as
// the sole expiry mechanism. Redis evicting the key is what ends the
// session; no sweeper is needed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore builds a session store with the given rolling TTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("session: redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}
	return &RedisStore{client: client, ttl: ttl, now: time.Now}, nil
}

// WithClock overrides the time source, for tests.
func (s *RedisStore) WithClock(fn func() time.Time) *RedisStore {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *RedisStore) Create(ctx context.Context, principalID, role string) (*Session, error) {
	if principalID == "" {
		return nil, errors.New("session: principal id is required")
	}
	now := s.now().UTC()
	sess := &Session{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Role:        role,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, keyPrefix+sess.ID, payload, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	payload, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: get: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &sess, nil
}

// Touch rewrites the record with a pushed-out expiry and resets the key
// TTL, keeping the stored ExpiresAt and the Redis expiry in step.
func (s *RedisStore) Touch(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.ExpiresAt = s.now().UTC().Add(s.ttl)
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	// SET with XX: the key must still exist; a session that expired
	// between Get and here stays dead.
	ok, err := s.client.SetXX(ctx, keyPrefix+id, payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"recall-ai/internal/models"
)

const (
	sessionKeyPrefix = "session:"
	defaultRedisTTL  = 24 * time.Hour
)

// RedisStore stores each session as a JSON document under session:<id>.
// Keys expire after ttl without activity.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, sess *models.Session) error {
	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(sess.ID), val, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	key := s.key(id)
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess models.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	if sess.AuthTokens == nil {
		sess.AuthTokens = make(map[string]models.AuthToken)
	}

	// Refresh TTL on read
	_ = s.client.Expire(ctx, key, s.ttl).Err()

	return &sess, nil
}

func (s *RedisStore) Update(ctx context.Context, sess *models.Session) error {
	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.key(sess.ID), val, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

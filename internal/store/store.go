package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"recall-ai/internal/models"
)

var (
	// ErrNotFound is returned by drivers when no session exists for an id.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("session already exists")
	// ErrInvalidSession is returned to callers for a missing or unknown session id.
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidConfig is returned when a driver is missing a required option.
	ErrInvalidConfig = errors.New("invalid store configuration")
	// ErrInvalidStoreType is returned for an unknown driver name.
	ErrInvalidStoreType = errors.New("invalid store type")
)

// Store persists sessions keyed by id. Implementations must return copies so
// that a caller mutating a session never changes stored state until Update.
type Store interface {
	// Create inserts a new session, failing with ErrExists if the id is taken.
	Create(ctx context.Context, s *models.Session) error
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Session, error)
	// Update replaces an existing session or returns ErrNotFound.
	Update(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQLite StoreType = "sqlite"
)

// NewStore creates a Store for the given driver.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(cfg.redisClient, cfg.redisTTL), nil
	case StoreTypeSQLite:
		if cfg.db == nil {
			return nil, ErrInvalidConfig
		}
		return NewSQLiteStore(cfg.db), nil
	default:
		return nil, ErrInvalidStoreType
	}
}

// StoreOption is a functional option for configuring a store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
	db          sqlDB
}

// WithRedisClient sets the Redis client for the redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisTTL sets the expiry applied to session keys.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// WithDB sets the database handle for the sqlite driver.
func WithDB(db sqlDB) StoreOption {
	return func(c *storeConfig) {
		c.db = db
	}
}

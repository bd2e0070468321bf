// Package redis keeps the template snapshot under a single Redis key.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKey  = "helios:templates"
	pingTimeout = 5 * time.Second
)

// Config describes the Redis server and key holding the snapshot.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Snapshot stores the snapshot bytes in one Redis string.
type Snapshot struct {
	client redis.UniversalClient
	key    string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Snapshot, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewWithClient(client, cfg.Key), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, key string) *Snapshot {
	if key == "" {
		key = defaultKey
	}
	return &Snapshot{client: client, key: key}
}

// Key returns the Redis key holding the snapshot.
func (s *Snapshot) Key() string { return s.key }

// Name identifies the backend in logs.
func (s *Snapshot) Name() string { return "redis" }

// Load returns the stored snapshot, or nil when the key is absent.
func (s *Snapshot) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}
	return data, nil
}

// Save replaces the stored snapshot.
func (s *Snapshot) Save(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	return nil
}

// Close releases the client.
func (s *Snapshot) Close() error {
	return s.client.Close()
}

// Package redisstore implements the durable-store bridge's fallback
// tier: a weaker-durability backend behind go.mongodb.org/mongo-driver's
// primary, backed by Redis.
//
// This is a new component: goa-ai depends on github.com/redis/go-redis/v9
// directly (it appears in the pack's vendor surface for session caching)
// but has no dedicated run-store adapter for it, so the key layout and
// error handling here follow the same shape as mongostore rather than a
// specific upstream file.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kestrel-systems/harness/internal/store"
)

const defaultKeyPrefix = "harness:"

// Options configures the Redis-backed fallback store.
type Options struct {
	Client    *redis.Client
	KeyPrefix string // defaults to "harness:"
	TTL       time.Duration
}

// Store implements store.Store by serialising state as JSON under
// "<prefix><id>".
type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// New constructs a Store backed by an existing Redis client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redisstore: client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{client: opts.Client, keyPrefix: prefix, ttl: opts.TTL}, nil
}

func (s *Store) key(id string) string {
	return s.keyPrefix + id
}

func (s *Store) Persist(ctx context.Context, id string, state store.State) error {
	data, err := store.Marshal(state)
	if err != nil {
		return fmt.Errorf("redisstore: marshal state for %s: %w", id, err)
	}
	return s.client.Set(ctx, s.key(id), data, s.ttl).Err()
}

func (s *Store) Restore(ctx context.Context, id string) (store.State, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.State{}, store.ErrNotFound
	}
	if err != nil {
		return store.State{}, fmt.Errorf("redisstore: get %s: %w", id, err)
	}
	return store.Unmarshal(data)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// IsAvailable pings the Redis server with a short deadline.
func (s *Store) IsAvailable(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx).Err() == nil
}

// Package redisstore implements the sync state backend on Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devblac/event-watcher/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store keeps every namespace under a "<prefix>:<namespace>:" key prefix.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Open connects to Redis and verifies the connection.
func Open(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Store{rdb: rdb, prefix: "event-watcher"}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Open records the namespace (idempotent) and returns a scoped bucket.
func (s *Store) Open(ctx context.Context, namespace string) (storage.Bucket, error) {
	if namespace == "" {
		return nil, errors.New("namespace required")
	}
	if err := s.rdb.SAdd(ctx, s.prefix+":namespaces", namespace).Err(); err != nil {
		return nil, fmt.Errorf("open namespace: %w", err)
	}
	return &bucket{rdb: s.rdb, keyPrefix: s.prefix + ":" + namespace + ":"}, nil
}

type bucket struct {
	rdb       *redis.Client
	keyPrefix string
}

func (b *bucket) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.rdb.Get(ctx, b.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (b *bucket) Set(ctx context.Context, key string, value []byte) error {
	if err := b.rdb.Set(ctx, b.keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// BulkPut writes all pairs in a single MULTI/EXEC transaction.
func (b *bucket) BulkPut(ctx context.Context, kvs []storage.KV) error {
	if len(kvs) == 0 {
		return nil
	}
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, kv := range kvs {
			pipe.Set(ctx, b.keyPrefix+kv.Key, kv.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bulk put: %w", err)
	}
	return nil
}

func (b *bucket) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.rdb.Exists(ctx, b.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

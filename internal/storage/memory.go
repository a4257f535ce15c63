package storage

import (
	"context"
	"errors"
	"sync"
)

// Memory is a process-local backend, used for dry runs and tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

// Open creates the namespace on first use.
func (m *Memory) Open(_ context.Context, namespace string) (Bucket, error) {
	if namespace == "" {
		return nil, errors.New("namespace required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[namespace]; !ok {
		m.data[namespace] = make(map[string][]byte)
	}
	return &memoryBucket{m: m, namespace: namespace}, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

type memoryBucket struct {
	m         *Memory
	namespace string
}

func (b *memoryBucket) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	v, ok := b.m.data[b.namespace][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *memoryBucket) Set(_ context.Context, key string, value []byte) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	b.m.data[b.namespace][key] = append([]byte(nil), value...)
	return nil
}

func (b *memoryBucket) BulkPut(_ context.Context, kvs []KV) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	for _, kv := range kvs {
		b.m.data[b.namespace][kv.Key] = append([]byte(nil), kv.Value...)
	}
	return nil
}

func (b *memoryBucket) Exists(_ context.Context, key string) (bool, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()
	_, ok := b.m.data[b.namespace][key]
	return ok, nil
}

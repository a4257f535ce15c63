package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBucketSetGetExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b, err := store.Open(ctx, "0xabc")
	if err != nil {
		t.Fatalf("open namespace: %v", err)
	}
	if _, ok, err := b.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
	}
	if err := b.Set(ctx, "k", []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := b.Set(ctx, "k", []byte("2")); err != nil {
		t.Fatalf("set again: %v", err)
	}
	v, ok, err := b.Get(ctx, "k")
	if err != nil || !ok || string(v) != "2" {
		t.Fatalf("get = %q ok=%v err=%v", v, ok, err)
	}
	exists, err := b.Exists(ctx, "k")
	if err != nil || !exists {
		t.Fatalf("exists = %v err=%v", exists, err)
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, _ := store.Open(ctx, "a")
	b, _ := store.Open(ctx, "b")
	if err := a.Set(ctx, "k", []byte("x")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ok, _ := b.Exists(ctx, "k"); ok {
		t.Fatalf("namespace b should not see a's key")
	}

	// reopening is idempotent
	if _, err := store.Open(ctx, "a"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ns, err := store.Namespaces(ctx)
	if err != nil || len(ns) != 2 {
		t.Fatalf("namespaces = %v err=%v", ns, err)
	}
}

func TestBulkPutIsRepeatable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	b, _ := store.Open(ctx, "ns")

	kvs := []KV{{Key: "event:1", Value: []byte("true")}, {Key: "event:2", Value: []byte("true")}}
	if err := b.BulkPut(ctx, kvs); err != nil {
		t.Fatalf("bulk put: %v", err)
	}
	if err := b.BulkPut(ctx, kvs); err != nil {
		t.Fatalf("bulk put repeat: %v", err)
	}
	for _, kv := range kvs {
		if ok, _ := b.Exists(ctx, kv.Key); !ok {
			t.Fatalf("missing %s", kv.Key)
		}
	}
}

func TestMemoryBucket(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	b, err := m.Open(ctx, "ns")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := b.BulkPut(ctx, []KV{{Key: "a", Value: []byte("1")}}); err != nil {
		t.Fatalf("bulk put: %v", err)
	}
	if ok, _ := b.Exists(ctx, "a"); !ok {
		t.Fatalf("expected a to exist")
	}
	other, _ := m.Open(ctx, "other")
	if ok, _ := other.Exists(ctx, "a"); ok {
		t.Fatalf("namespaces leaked")
	}
}

func TestDedupeTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.MarkDedupe(ctx, "k1", now.Add(1*time.Second)); err != nil {
		t.Fatalf("mark dedupe: %v", err)
	}
	dup, err := store.IsDuplicate(ctx, "k1", now)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Fatalf("expected duplicate before expiry")
	}

	later := now.Add(2 * time.Second)
	dup, err = store.IsDuplicate(ctx, "k1", later)
	if err != nil {
		t.Fatalf("is duplicate later: %v", err)
	}
	if dup {
		t.Fatalf("expected non-duplicate after expiry")
	}
}

func TestExactlyOnceAlert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alert := Alert{
		ID:          "deposits:0x1",
		RouteID:     "deposits",
		EventHash:   "0x1",
		TxHash:      "0xabc",
		PayloadJSON: `{"x":1}`,
		CreatedAt:   time.Now(),
	}

	if err := store.InsertAlert(ctx, alert); err != nil {
		t.Fatalf("insert alert: %v", err)
	}
	if err := store.InsertAlert(ctx, alert); err == nil {
		t.Fatalf("expected duplicate alert insert to fail")
	}

	if err := store.InsertSend(ctx, Send{AlertID: alert.ID, SinkID: "ops", Status: "sent"}); err != nil {
		t.Fatalf("insert send: %v", err)
	}
	n, err := store.CountSends(ctx, alert.ID)
	if err != nil || n != 1 {
		t.Fatalf("count sends = %d err=%v", n, err)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	store.Close()
	if err := store.Ping(ctx); err == nil {
		t.Fatalf("expected ping to fail after close")
	}
}

func TestConcurrentWriters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := store.Open(ctx, fmt.Sprintf("ns-%d", i%2))
			if err != nil {
				errs <- err
				return
			}
			for j := 0; j < 20; j++ {
				key := fmt.Sprintf("w%d-%d", i, j)
				if err := b.BulkPut(ctx, []KV{{Key: key, Value: []byte("1")}, {Key: key + "-b", Value: []byte("2")}}); err != nil {
					errs <- err
					return
				}
				if err := store.MarkDedupe(ctx, key, time.Now().Add(time.Hour)); err != nil {
					errs <- err
					return
				}
				if _, err := store.IsDuplicate(ctx, key, time.Now()); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent write: %v", err)
	}

	b, _ := store.Open(ctx, "ns-1")
	if ok, err := b.Exists(ctx, "w7-19-b"); err != nil || !ok {
		t.Fatalf("expected last write to land, ok=%v err=%v", ok, err)
	}
}

func TestConnectionPragmas(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var timeout int
	if err := store.db.QueryRowContext(ctx, "PRAGMA busy_timeout;").Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", timeout)
	}
	var mode string
	if err := store.db.QueryRowContext(ctx, "PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

package syncdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/devblac/event-watcher/internal/event"
	"github.com/devblac/event-watcher/internal/storage"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	db := New(store, nil)
	if err := db.Open(context.Background(), "0xcontract"); err != nil {
		t.Fatalf("open syncdb: %v", err)
	}
	return db
}

func TestUninitializedAccessFails(t *testing.T) {
	db := New(storage.NewMemory(), nil)
	ctx := context.Background()

	if _, err := db.GetLastLoggedEventBlock(ctx, "Deposit"); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("get cursor: expected ErrUninitialized, got %v", err)
	}
	if err := db.SetLastSyncedBlock(ctx, 1); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("set sync block: expected ErrUninitialized, got %v", err)
	}
	if err := db.AddEvents(ctx, nil); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("add events: expected ErrUninitialized, got %v", err)
	}
	if _, err := db.HasEvent(ctx, event.Event{Hash: "0x1"}); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("has event: expected ErrUninitialized, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if b, err := db.GetLastLoggedEventBlock(ctx, "Deposit"); err != nil || b != -1 {
		t.Fatalf("cursor default = %d err=%v", b, err)
	}
	if b, err := db.GetLastSyncedBlock(ctx); err != nil || b != -1 {
		t.Fatalf("sync block default = %d err=%v", b, err)
	}
	txs, err := db.GetFailedTransactions(ctx)
	if err != nil || txs == nil || len(txs) != 0 {
		t.Fatalf("failed txs default = %v err=%v", txs, err)
	}
}

func TestCursorsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SetLastLoggedEventBlock(ctx, "Deposit", 10); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := db.SetLastSyncedBlock(ctx, 8); err != nil {
		t.Fatalf("set sync block: %v", err)
	}
	cursors, err := db.Cursors(ctx, []string{"Deposit", "Withdrawal"})
	if err != nil {
		t.Fatalf("cursors: %v", err)
	}
	if cursors["Deposit"] != 10 || cursors["Withdrawal"] != -1 {
		t.Fatalf("unexpected cursors: %v", cursors)
	}
	if b, _ := db.GetLastSyncedBlock(ctx); b != 8 {
		t.Fatalf("sync block = %d", b)
	}
}

func TestFailedTransactions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.AddFailedTransaction(ctx, "0xaa"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := db.AddFailedTransaction(ctx, "0xbb"); err != nil {
		t.Fatalf("add: %v", err)
	}
	txs, _ := db.GetFailedTransactions(ctx)
	if len(txs) != 2 || txs[0] != "0xaa" || txs[1] != "0xbb" {
		t.Fatalf("unexpected order: %v", txs)
	}
	if err := db.SetFailedTransactions(ctx, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if txs, _ := db.GetFailedTransactions(ctx); len(txs) != 0 {
		t.Fatalf("expected cleared list, got %v", txs)
	}
}

func TestAddEventsIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	evs := []event.Event{{Hash: "0x01"}, {Hash: "0x02"}}

	if ok, _ := db.HasEvent(ctx, evs[0]); ok {
		t.Fatalf("unexpected seen before add")
	}
	for i := 0; i < 2; i++ {
		if err := db.AddEvents(ctx, evs); err != nil {
			t.Fatalf("add events pass %d: %v", i, err)
		}
	}
	for _, ev := range evs {
		ok, err := db.HasEvent(ctx, ev)
		if err != nil || !ok {
			t.Fatalf("expected %s seen, ok=%v err=%v", ev.Hash, ok, err)
		}
	}
}

func TestOpenIsIdempotentPerNamespace(t *testing.T) {
	db := New(storage.NewMemory(), nil)
	ctx := context.Background()

	if err := db.Open(ctx, "0xa"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Open(ctx, "0xa"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := db.Open(ctx, "0xb"); !errors.Is(err, ErrNamespaceMismatch) {
		t.Fatalf("expected ErrNamespaceMismatch, got %v", err)
	}
	if db.Namespace() != "0xa" {
		t.Fatalf("namespace = %s", db.Namespace())
	}
}

type lateAddress struct {
	addr  string
	ready chan struct{}
}

func (l *lateAddress) HasAddress() bool {
	select {
	case <-l.ready:
		return true
	default:
		return false
	}
}
func (l *lateAddress) Address() string              { return l.addr }
func (l *lateAddress) Initialized() <-chan struct{} { return l.ready }

func TestOpenWhenReadyWaitsForAddress(t *testing.T) {
	db := New(storage.NewMemory(), nil)
	src := &lateAddress{ready: make(chan struct{})}

	done := make(chan error, 1)
	go func() { done <- db.OpenWhenReady(context.Background(), src) }()

	select {
	case err := <-done:
		t.Fatalf("opened before address known: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	src.addr = "0xlate"
	close(src.ready)

	if err := <-done; err != nil {
		t.Fatalf("open when ready: %v", err)
	}
	if db.Namespace() != "0xlate" {
		t.Fatalf("namespace = %s", db.Namespace())
	}
}

func TestOpenWhenReadyHonorsContext(t *testing.T) {
	db := New(storage.NewMemory(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := db.OpenWhenReady(ctx, &lateAddress{ready: make(chan struct{})})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type failingBackend struct{}

func (failingBackend) Open(context.Context, string) (storage.Bucket, error) {
	return failingBucket{}, nil
}

type failingBucket struct{}

func (failingBucket) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (failingBucket) Set(context.Context, string, []byte) error          { return errors.New("disk full") }
func (failingBucket) BulkPut(context.Context, []storage.KV) error        { return errors.New("disk full") }
func (failingBucket) Exists(context.Context, string) (bool, error)       { return false, nil }

func TestWriteFailuresWrapErrStoreWrite(t *testing.T) {
	db := New(failingBackend{}, nil)
	ctx := context.Background()
	if err := db.Open(ctx, "ns"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.SetLastLoggedEventBlock(ctx, "Deposit", 3); !errors.Is(err, ErrStoreWrite) {
		t.Fatalf("expected ErrStoreWrite, got %v", err)
	}
	if err := db.AddEvents(ctx, []event.Event{{Hash: "0x1"}}); !errors.Is(err, ErrStoreWrite) {
		t.Fatalf("expected ErrStoreWrite, got %v", err)
	}
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// KV is a single key/value pair for bulk writes.
type KV struct {
	Key   string
	Value []byte
}

// Bucket is a namespaced key/value view over a backend.
type Bucket interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	BulkPut(ctx context.Context, kvs []KV) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Store wraps SQLite-backed persistence for sync state, alerts, sends, and dedupe.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers from concurrent listeners; no caller
	// keeps rows open across another statement.
	db.SetMaxOpenConns(1)
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

// dsn attaches the connection pragmas so every pooled connection gets them,
// not only the first one.
func dsn(path string) string {
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var timeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout;").Scan(&timeout); err != nil {
		return fmt.Errorf("read busy_timeout: %w", err)
	}
	if timeout == 0 {
		return errors.New("sqlite driver ignored connection pragmas")
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS namespaces (
  id          TEXT PRIMARY KEY,
  created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS kv (
  namespace   TEXT NOT NULL REFERENCES namespaces(id),
  key         TEXT NOT NULL,
  value       BLOB NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(namespace, key)
);

CREATE TABLE IF NOT EXISTS alerts (
  id            TEXT PRIMARY KEY,
  route_id      TEXT NOT NULL,
  event_hash    TEXT NOT NULL,
  txhash        TEXT,
  payload_json  TEXT,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sends (
  alert_id      TEXT NOT NULL,
  sink_id       TEXT NOT NULL,
  status        TEXT NOT NULL,
  error         TEXT,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(alert_id, sink_id)
);

CREATE TABLE IF NOT EXISTS dedupe (
  key         TEXT PRIMARY KEY,
  expires_at  TIMESTAMP NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Open registers the namespace (idempotent) and returns a bucket scoped to it.
func (s *Store) Open(ctx context.Context, namespace string) (Bucket, error) {
	if namespace == "" {
		return nil, errors.New("namespace required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO namespaces (id) VALUES (?)
ON CONFLICT(id) DO NOTHING;
`, namespace)
	if err != nil {
		return nil, fmt.Errorf("open namespace: %w", err)
	}
	return &sqliteBucket{db: s.db, namespace: namespace}, nil
}

// Namespaces lists every namespace opened against this database.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM namespaces ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type sqliteBucket struct {
	db        *sql.DB
	namespace string
}

func (b *sqliteBucket) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `
SELECT value FROM kv WHERE namespace = ? AND key = ?;
`, b.namespace, key).Scan(&value)
	switch err {
	case nil:
		return value, true, nil
	case sql.ErrNoRows:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
}

func (b *sqliteBucket) Set(ctx context.Context, key string, value []byte) error {
	if err := upsertKV(ctx, b.db, b.namespace, key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (b *sqliteBucket) BulkPut(ctx context.Context, kvs []KV) error {
	if len(kvs) == 0 {
		return nil
	}
	return withTx(ctx, b.db, func(tx *sql.Tx) error {
		for _, kv := range kvs {
			if err := upsertKV(ctx, tx, b.namespace, kv.Key, kv.Value); err != nil {
				return fmt.Errorf("bulk put %s: %w", kv.Key, err)
			}
		}
		return nil
	})
}

func (b *sqliteBucket) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, `
SELECT 1 FROM kv WHERE namespace = ? AND key = ?;
`, b.namespace, key).Scan(&one)
	switch err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertKV(ctx context.Context, db execer, namespace, key string, value []byte) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO kv (namespace, key, value, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(namespace, key) DO UPDATE SET
  value=excluded.value,
  updated_at=CURRENT_TIMESTAMP;
`, namespace, key, value)
	return err
}

// MarkDedupe sets or refreshes a dedupe key until expiresAt.
func (s *Store) MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error {
	if key == "" {
		return errors.New("key required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dedupe (key, expires_at)
VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET expires_at=excluded.expires_at;
`, key, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("mark dedupe: %w", err)
	}
	return nil
}

// IsDuplicate returns true if the key exists and is not expired; expired entries are pruned.
func (s *Store) IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error) {
	if key == "" {
		return false, errors.New("key required")
	}

	var expires time.Time
	err := s.db.QueryRowContext(ctx, `
SELECT expires_at FROM dedupe WHERE key = ?;
`, key).Scan(&expires)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check dedupe: %w", err)
	}

	if expires.After(now.UTC()) {
		return true, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedupe WHERE key = ?;`, key); err != nil {
		return false, fmt.Errorf("prune dedupe: %w", err)
	}
	return false, nil
}

// Alert is a routed event recorded before sink delivery.
type Alert struct {
	ID          string
	RouteID     string
	EventHash   string
	TxHash      string
	PayloadJSON string
	CreatedAt   time.Time
}

// InsertAlert stores an alert; primary key enforces exactly-once insertion.
func (s *Store) InsertAlert(ctx context.Context, a Alert) error {
	if a.ID == "" || a.RouteID == "" || a.EventHash == "" {
		return errors.New("alert id, route_id and event_hash required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO alerts (id, route_id, event_hash, txhash, payload_json, created_at)
VALUES (?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`, a.ID, a.RouteID, a.EventHash, a.TxHash, a.PayloadJSON, nullTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Send represents a sink delivery record.
type Send struct {
	AlertID   string
	SinkID    string
	Status    string
	Error     string
	CreatedAt time.Time
}

// InsertSend records a sink delivery attempt; primary key enforces exactly-once per alert/sink.
func (s *Store) InsertSend(ctx context.Context, srec Send) error {
	if srec.AlertID == "" || srec.SinkID == "" || srec.Status == "" {
		return errors.New("alert_id, sink_id, and status are required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sends (alert_id, sink_id, status, error, created_at)
VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`, srec.AlertID, srec.SinkID, srec.Status, srec.Error, nullTime(srec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert send: %w", err)
	}
	return nil
}

// CountSends returns the number of delivery records for an alert.
func (s *Store) CountSends(ctx context.Context, alertID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sends WHERE alert_id = ?;`, alertID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sends: %w", err)
	}
	return n, nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return withTx(ctx, s.db, fn)
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// Package store persists the node's small durable state in sqlite: a
// key/value map for counters and identity, a FIFO backlog of batches the
// link could not deliver, and a log of batch outcomes.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/envnode/internal/monitoring"
	"github.com/banshee-data/envnode/internal/timeutil"
)

var logf = monitoring.Prefixed("store")

// Key names a persisted value.
type Key uint16

const (
	KeySequence     Key = 0x0001
	KeyLastTimeSync Key = 0x0002
	KeyNodeID       Key = 0x0003
)

func (k Key) String() string {
	switch k {
	case KeySequence:
		return "sequence"
	case KeyLastTimeSync:
		return "last-time-sync"
	case KeyNodeID:
		return "node-id"
	default:
		return fmt.Sprintf("key(%#06x)", uint16(k))
	}
}

var (
	ErrNotFound = errors.New("store: key not found")
	ErrEmpty    = errors.New("store: backlog empty")
)

// Store wraps the sqlite handle. Methods are safe for concurrent use.
type Store struct {
	db    *sql.DB
	path  string
	clock timeutil.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for row timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open opens (creating if needed) the database at path and applies all
// pending migrations.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure store %s: %w", path, err)
	}

	s := &Store{db: db, path: path, clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the handle for read-only debugging tools.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path given to Open.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) nowMs() int64 { return s.clock.Now().UnixMilli() }

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key Key, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_ms) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_ms = excluded.updated_ms`,
		int64(key), value, s.nowMs())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key Key) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, int64(key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

// SetUint64 stores v little-endian under key.
func (s *Store) SetUint64(ctx context.Context, key Key, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return s.Set(ctx, key, b[:])
}

// GetUint64 reads a value written by SetUint64.
func (s *Store) GetUint64(ctx context.Context, key Key) (uint64, error) {
	b, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("get %s: %d bytes, want 8", key, len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

// NodeID returns the persisted node identity, generating and storing a
// random UUID the first time.
func (s *Store) NodeID(ctx context.Context) (uuid.UUID, error) {
	b, err := s.Get(ctx, KeyNodeID)
	switch {
	case err == nil:
		id, perr := uuid.FromBytes(b)
		if perr != nil {
			return uuid.Nil, fmt.Errorf("decode node id: %w", perr)
		}
		return id, nil
	case !errors.Is(err, ErrNotFound):
		return uuid.Nil, err
	}

	id := uuid.New()
	if err := s.Set(ctx, KeyNodeID, id[:]); err != nil {
		return uuid.Nil, err
	}
	logf("generated node id %s", id)
	return id, nil
}

// Push appends value to the backlog queue.
func (s *Store) Push(ctx context.Context, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backlog (value, created_ms) VALUES (?, ?)`, value, s.nowMs())
	if err != nil {
		return fmt.Errorf("push backlog: %w", err)
	}
	return nil
}

// Pop removes and returns the oldest backlog entry, or ErrEmpty.
func (s *Store) Pop(ctx context.Context) ([]byte, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pop backlog: %w", err)
	}
	defer tx.Rollback()

	var (
		id int64
		v  []byte
	)
	err = tx.QueryRowContext(ctx, `SELECT id, value FROM backlog ORDER BY id LIMIT 1`).Scan(&id, &v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("pop backlog: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM backlog WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("pop backlog: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pop backlog: %w", err)
	}
	return v, nil
}

// BacklogLen returns the number of queued entries.
func (s *Store) BacklogLen(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM backlog`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count backlog: %w", err)
	}
	return n, nil
}

// Outcome is what happened to a drained batch.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeDropped   Outcome = "dropped"
	OutcomeReplayed  Outcome = "replayed"
)

// BatchRecord is one row of the batch log.
type BatchRecord struct {
	StartMs    uint64
	IntervalMs uint32
	Samples    int
	FirstSeq   *uint64
	Outcome    Outcome
	Detail     string
	RecordedAt time.Time
}

// RecordBatch appends rec to the batch log. RecordedAt is filled in.
func (s *Store) RecordBatch(ctx context.Context, rec BatchRecord) error {
	var firstSeq sql.NullInt64
	if rec.FirstSeq != nil {
		firstSeq = sql.NullInt64{Int64: int64(*rec.FirstSeq), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_log (start_ms, interval_ms, samples, first_seq, outcome, detail, recorded_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(rec.StartMs), rec.IntervalMs, rec.Samples, firstSeq, string(rec.Outcome), rec.Detail, s.nowMs())
	if err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	return nil
}

// RecentBatches returns up to limit batch log rows, newest first.
func (s *Store) RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_ms, interval_ms, samples, first_seq, outcome, detail, recorded_ms
		FROM batch_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batch log: %w", err)
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		var (
			rec        BatchRecord
			startMs    int64
			firstSeq   sql.NullInt64
			outcome    string
			recordedMs int64
		)
		if err := rows.Scan(&startMs, &rec.IntervalMs, &rec.Samples, &firstSeq, &outcome, &rec.Detail, &recordedMs); err != nil {
			return nil, fmt.Errorf("scan batch log: %w", err)
		}
		rec.StartMs = uint64(startMs)
		rec.Outcome = Outcome(outcome)
		rec.RecordedAt = time.UnixMilli(recordedMs)
		if firstSeq.Valid {
			v := uint64(firstSeq.Int64)
			rec.FirstSeq = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

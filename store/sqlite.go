package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default embedded Content Store backend: a single
// database file plus a rolling WAL journal, matching spec §6's "Store
// on-disk layout" contract (`records` keyed by (node_id, runtime_version),
// `leases` keyed the same way). WAL mode lets readers proceed without
// blocking on the single writer SQLite serializes onto one connection.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed Content
// Store at path. Use ":memory:" for a throwaway store in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	recordsTable := `
		CREATE TABLE IF NOT EXISTS records (
			node_id TEXT NOT NULL,
			runtime_version TEXT NOT NULL,
			status TEXT NOT NULL,
			payload_blob BLOB,
			payload_bytes INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			job_error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (node_id, runtime_version)
		)
	`
	leasesTable := `
		CREATE TABLE IF NOT EXISTS leases (
			node_id TEXT NOT NULL,
			runtime_version TEXT NOT NULL,
			owner TEXT NOT NULL,
			acquired_at TIMESTAMP NOT NULL,
			PRIMARY KEY (node_id, runtime_version)
		)
	`
	statusIndex := `CREATE INDEX IF NOT EXISTS idx_records_status ON records(status)`
	prefixIndex := `CREATE INDEX IF NOT EXISTS idx_records_node_id ON records(node_id)`

	for _, stmt := range []string{recordsTable, leasesTable, statusIndex, prefixIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Get implements store.Store.
func (s *SQLiteStore) Get(ctx context.Context, nodeID, runtimeVersion string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, fmt.Errorf("store: closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, runtime_version, status, payload_blob, payload_bytes,
		       COALESCE(error, ''), COALESCE(job_error, ''), created_at, updated_at
		FROM records WHERE node_id = ? AND runtime_version = ?
	`, nodeID, runtimeVersion)

	var rec Record
	if err := row.Scan(&rec.NodeID, &rec.RuntimeVersion, &rec.Status, &rec.Payload,
		&rec.PayloadBytes, &rec.Error, &rec.JobError, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// BeginCompute implements store.Store. It tries to insert a lease row;
// SQLite's single-writer serialization plus the primary key constraint
// gives exactly-one-winner semantics for concurrent attempts on the same
// key within this process, and across processes sharing the file via the
// unique constraint on (node_id, runtime_version).
func (s *SQLiteStore) BeginCompute(ctx context.Context, nodeID, runtimeVersion, owner string) (LeaseResult, *Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil, fmt.Errorf("store: closed")
	}

	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM records WHERE node_id = ? AND runtime_version = ?`, nodeID, runtimeVersion).Scan(&status)
	switch {
	case err == nil:
		if status == string(StatusMaterialized) {
			return ResultAlreadyComputed, nil, nil
		}
		return ResultAlreadyFailed, nil, nil
	case err != sql.ErrNoRows:
		return 0, nil, err
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `INSERT INTO leases (node_id, runtime_version, owner, acquired_at) VALUES (?, ?, ?, ?)`,
		nodeID, runtimeVersion, owner, now)
	if err != nil {
		// Primary-key violation: another writer already holds this lease.
		return ResultContested, nil, nil
	}
	return ResultLease, &Lease{NodeID: nodeID, RuntimeVersion: runtimeVersion, Owner: owner, AcquiredAt: now, store: s}, nil
}

// Commit implements store.Store. The insert-or-update of the terminal
// record and the release of the lease happen inside one transaction so a
// crash mid-commit never leaves a lease without a record or vice versa.
func (s *SQLiteStore) Commit(ctx context.Context, lease *Lease, status Status, payload []byte, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store: closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (node_id, runtime_version, status, payload_blob, payload_bytes, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id, runtime_version) DO UPDATE SET
			status = excluded.status,
			payload_blob = excluded.payload_blob,
			payload_bytes = excluded.payload_bytes,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, lease.NodeID, lease.RuntimeVersion, string(status), payload, len(payload), nullableString(errMsg), now, now)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM leases WHERE node_id = ? AND runtime_version = ? AND owner = ?`,
		lease.NodeID, lease.RuntimeVersion, lease.Owner); err != nil {
		return err
	}

	return tx.Commit()
}

// Abandon implements store.Store.
func (s *SQLiteStore) Abandon(ctx context.Context, lease *Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store: closed")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE node_id = ? AND runtime_version = ? AND owner = ?`,
		lease.NodeID, lease.RuntimeVersion, lease.Owner)
	return err
}

// Invalidate implements store.Store: deletes the record only if it is not
// materialized, leaving a good cached value untouched (spec §9 "asymmetric
// with materialized records").
func (s *SQLiteStore) Invalidate(ctx context.Context, nodeID, runtimeVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store: closed")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE node_id = ? AND runtime_version = ? AND status != ?`,
		nodeID, runtimeVersion, string(StatusMaterialized))
	return err
}

// Iter implements store.Store.
func (s *SQLiteStore) Iter(ctx context.Context, filter Filter, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store: closed")
	}

	query := `
		SELECT node_id, runtime_version, status, payload_blob, payload_bytes,
		       COALESCE(error, ''), COALESCE(job_error, ''), created_at, updated_at
		FROM records WHERE 1=1
	`
	args := []any{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.NodePrefix != "" {
		query += " AND node_id LIKE ?"
		args = append(args, filter.NodePrefix+"%")
	}
	query += " ORDER BY node_id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.NodeID, &rec.RuntimeVersion, &rec.Status, &rec.Payload,
			&rec.PayloadBytes, &rec.Error, &rec.JobError, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close implements store.Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the file path this store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

// Ping verifies the underlying connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

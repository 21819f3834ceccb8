package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is the networked Content Store backend (spec §8 scenario 4,
// "cross-process dedup"): a genuinely shared store multiple engine
// processes or hosts can race BeginCompute against, with the database's own
// unique-key constraint arbitrating the lease winner.
//
// DSN format: [username[:password]@][protocol[(address)]]/dbname[?params].
// Credentials should come from the environment, never be hardcoded.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a MySQL/MariaDB-backed Content Store and ensures its
// schema exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	recordsTable := `
		CREATE TABLE IF NOT EXISTS records (
			node_id VARCHAR(128) NOT NULL,
			runtime_version VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			payload_blob LONGBLOB,
			payload_bytes BIGINT NOT NULL DEFAULT 0,
			error TEXT,
			job_error TEXT,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			PRIMARY KEY (node_id, runtime_version),
			INDEX idx_records_status (status)
		) ENGINE=InnoDB
	`
	leasesTable := `
		CREATE TABLE IF NOT EXISTS leases (
			node_id VARCHAR(128) NOT NULL,
			runtime_version VARCHAR(64) NOT NULL,
			owner VARCHAR(128) NOT NULL,
			acquired_at DATETIME(6) NOT NULL,
			PRIMARY KEY (node_id, runtime_version)
		) ENGINE=InnoDB
	`
	for _, stmt := range []string{recordsTable, leasesTable} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Get implements store.Store.
func (s *MySQLStore) Get(ctx context.Context, nodeID, runtimeVersion string) (Record, error) {
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

// BeginCompute implements store.Store, relying on the primary-key
// constraint on `leases` to arbitrate the race across processes (spec §8
// "Inter-process exclusion": exactly one caller across K concurrent
// execute calls wins the insert).
func (s *MySQLStore) BeginCompute(ctx context.Context, nodeID, runtimeVersion, owner string) (LeaseResult, *Lease, error) {
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
		return ResultContested, nil, nil
	}
	return ResultLease, &Lease{NodeID: nodeID, RuntimeVersion: runtimeVersion, Owner: owner, AcquiredAt: now, store: s}, nil
}

// Commit implements store.Store.
func (s *MySQLStore) Commit(ctx context.Context, lease *Lease, status Status, payload []byte, errMsg string) error {
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
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			payload_blob = VALUES(payload_blob),
			payload_bytes = VALUES(payload_bytes),
			error = VALUES(error),
			updated_at = VALUES(updated_at)
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
func (s *MySQLStore) Abandon(ctx context.Context, lease *Lease) error {
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
func (s *MySQLStore) Invalidate(ctx context.Context, nodeID, runtimeVersion string) error {
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
func (s *MySQLStore) Iter(ctx context.Context, filter Filter, limit int) ([]Record, error) {
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
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the underlying connection is alive.
func (s *MySQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/torosent/pulse/internal/logging"
)

// SQLiteStore appends every Record to a SQLite history table.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// The caller must call Close when done.
func OpenSQLite(ctx context.Context, path string, log *zap.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &SQLiteStore{db: db, log: logging.OrNop(log)}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS snapshots (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    TEXT NOT NULL,
    ts            INTEGER NOT NULL,
    request_count INTEGER NOT NULL,
    error_count   INTEGER NOT NULL,
    response_time REAL NOT NULL,
    record        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts);
`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}
	s.log.Debug("sqlite migration applied")
	return nil
}

// Persist implements Persister.
func (s *SQLiteStore) Persist(ctx context.Context, rec Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (session_id, ts, request_count, error_count, response_time, record) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Timestamp, rec.RequestCount, rec.ErrorCount, rec.ResponseTime, string(doc),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Recent returns up to n records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM snapshots ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored snapshots.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

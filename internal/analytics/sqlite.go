package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteSink persists decision records in a local SQLite database. WAL mode
// keeps readers (stats queries) off the writer's back; SQLite supports a
// single writer, so the pool is capped at one connection.
type SQLiteSink struct {
	db         *sql.DB
	insertStmt *sql.Stmt
	closeOnce  sync.Once
}

const requestLogsSchema = `
CREATE TABLE IF NOT EXISTS request_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client_id TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	allowed INTEGER NOT NULL,
	strategy TEXT NOT NULL,
	limit_value INTEGER NOT NULL,
	remaining INTEGER NOT NULL,
	timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp);
`

// NewSQLiteSink opens (or creates) the database at path and prepares the
// schema and insert statement.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(requestLogsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	insertStmt, err := db.Prepare(`
		INSERT INTO request_logs (client_id, endpoint, allowed, strategy, limit_value, remaining, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	return &SQLiteSink{db: db, insertStmt: insertStmt}, nil
}

// Store inserts one decision record.
func (s *SQLiteSink) Store(ctx context.Context, rec Record) error {
	allowed := 0
	if rec.Allowed {
		allowed = 1
	}
	_, err := s.insertStmt.ExecContext(ctx,
		rec.ClientID,
		rec.Endpoint,
		allowed,
		rec.Strategy,
		rec.Limit,
		rec.Remaining,
		rec.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// StatsSince aggregates decisions recorded at or after since.
func (s *SQLiteSink) StatsSince(ctx context.Context, since time.Time) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(allowed), 0)
		FROM request_logs
		WHERE timestamp >= ?
	`, since.Unix()).Scan(&stats.Total, &stats.Allowed)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}

	stats.Blocked = stats.Total - stats.Allowed
	if stats.Total > 0 {
		stats.BlockRate = float64(stats.Blocked) / float64(stats.Total)
	}
	return stats, nil
}

// Prune deletes records older than the cutoff and reports how many went.
func (s *SQLiteSink) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE timestamp < ?`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return deleted, nil
}

// Close checkpoints the WAL and closes the database. Safe to call twice.
func (s *SQLiteSink) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		if s.insertStmt != nil {
			s.insertStmt.Close()
		}
		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})
	return closeErr
}

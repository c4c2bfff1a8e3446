// Package fetchlog persists one row per upstream graph API call so operators
// can see how often the cache actually shields the upstream. SQLite is the
// default; Postgres is supported for shared deployments.
package fetchlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Outcome values stored in Entry.Status.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusCircuitOpen = "circuit_open"
)

// Entry is one upstream fetch.
type Entry struct {
	ID           int64     `json:"id"`
	TraceID      string    `json:"trace_id,omitempty"`
	Limit        int       `json:"limit"`
	After        string    `json:"after,omitempty"`
	Status       string    `json:"status"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	Items        int       `json:"items"`
	HasMore      bool      `json:"has_more"`
	DurationMS   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Query filters List results.
type Query struct {
	Limit  int
	Offset int
	Status string
}

// ListResult is a page of entries plus the total matching count.
type ListResult struct {
	Data  []Entry `json:"data"`
	Total int     `json:"total"`
}

// Writer persists fetch log entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Reader lists persisted entries, newest first.
type Reader interface {
	List(ctx context.Context, q Query) (*ListResult, error)
}

// Maintainer deletes old entries.
type Maintainer interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NoopWriter ignores all log writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLStore persists entries to SQLite/Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// Open opens a store for driver ("sqlite" or "postgres").
func Open(driver, dsn string) (*SQLStore, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		return NewSQLiteStore(dsn)
	case DriverPostgres, "postgresql":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported fetch log driver %q", driver)
	}
}

func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "feedgw-fetches.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite fetch log: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLStore{db: db, dialect: DriverSQLite}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres fetch log: %w", err)
	}
	s := &SQLStore{db: db, dialect: DriverPostgres}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s fetch log: %w", s.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS upstream_fetches (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	page_limit INTEGER NOT NULL,
	after_cursor TEXT,
	status TEXT NOT NULL,
	http_status INTEGER NOT NULL,
	items INTEGER NOT NULL,
	has_more BOOLEAN NOT NULL,
	duration_ms INTEGER NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);`

	if s.dialect == DriverPostgres {
		ddl = `
CREATE TABLE IF NOT EXISTS upstream_fetches (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT,
	page_limit INTEGER NOT NULL,
	after_cursor TEXT,
	status TEXT NOT NULL,
	http_status INTEGER NOT NULL,
	items INTEGER NOT NULL,
	has_more BOOLEAN NOT NULL,
	duration_ms BIGINT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize fetch log schema: %w", err)
	}
	return nil
}

// Write inserts entry. A zero CreatedAt is set to now.
func (s *SQLStore) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO upstream_fetches(trace_id, page_limit, after_cursor, status, http_status, items, has_more, duration_ms, error_message, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if s.dialect == DriverPostgres {
		query = `INSERT INTO upstream_fetches(trace_id, page_limit, after_cursor, status, http_status, items, has_more, duration_ms, error_message, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.TraceID,
		entry.Limit,
		entry.After,
		entry.Status,
		entry.HTTPStatus,
		entry.Items,
		entry.HasMore,
		entry.DurationMS,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write fetch log: %w", err)
	}
	return nil
}

// List returns entries newest first. Limit defaults to 50 and is capped at 500.
func (s *SQLStore) List(ctx context.Context, q Query) (*ListResult, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	where := ""
	args := []interface{}{}
	if q.Status != "" {
		where = " WHERE status = " + s.placeholder(1)
		args = append(args, q.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM upstream_fetches"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count fetch log: %w", err)
	}

	n := len(args)
	query := `SELECT id, trace_id, page_limit, after_cursor, status, http_status, items, has_more, duration_ms, error_message, created_at
	FROM upstream_fetches` + where + ` ORDER BY created_at DESC, id DESC LIMIT ` + s.placeholder(n+1) + ` OFFSET ` + s.placeholder(n+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fetch log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := &ListResult{Data: make([]Entry, 0), Total: total}
	for rows.Next() {
		var (
			e       Entry
			traceID sql.NullString
			after   sql.NullString
			errMsg  sql.NullString
		)
		if err := rows.Scan(&e.ID, &traceID, &e.Limit, &after, &e.Status, &e.HTTPStatus, &e.Items, &e.HasMore, &e.DurationMS, &errMsg, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fetch log: %w", err)
		}
		e.TraceID = traceID.String
		e.After = after.String
		e.ErrorMessage = errMsg.String
		result.Data = append(result.Data, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetch log: %w", err)
	}
	return result, nil
}

// DeleteBefore removes entries older than cutoff and returns how many were removed.
func (s *SQLStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM upstream_fetches WHERE created_at < "+s.placeholder(1), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete fetch log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete fetch log: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

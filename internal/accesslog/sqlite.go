package accesslog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Storage is the append-only log store. The worker is its only client; it
// opens a session per drain batch and closes it when the batch is done.
type Storage interface {
	// OpenSession acquires a connection for one drain batch.
	OpenSession(ctx context.Context) (StorageSession, error)
	// DeleteBefore removes records created before the cutoff. Used by the
	// retention pruner.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// StorageSession writes records within one drain batch.
type StorageSession interface {
	Write(ctx context.Context, record *Record) error
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS accesslog (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id            TEXT NOT NULL,
	created_at            TIMESTAMP NOT NULL,
	direction             TEXT NOT NULL,
	status_code           INTEGER NOT NULL DEFAULT 0,
	content               TEXT,
	function_call         TEXT,
	tool_calls            TEXT,
	raw_body              TEXT,
	raw_headers           TEXT,
	model                 TEXT,
	prompt_tokens         INTEGER NOT NULL DEFAULT 0,
	completion_tokens     INTEGER NOT NULL DEFAULT 0,
	request_time          REAL NOT NULL DEFAULT 0,
	request_time_upstream REAL NOT NULL DEFAULT 0,
	extra                 TEXT
);
CREATE INDEX IF NOT EXISTS idx_accesslog_request_id ON accesslog(request_id);
CREATE INDEX IF NOT EXISTS idx_accesslog_created_at ON accesslog(created_at);
`

// SQLiteStorage is the default log store, backed by a local SQLite file.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (and if needed creates) the database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open access log database: %w", err)
	}

	// One writer by design; a second connection would only contend.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create access log schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// OpenSession acquires the connection for one drain batch.
func (s *SQLiteStorage) OpenSession(ctx context.Context) (StorageSession, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire storage connection: %w", err)
	}
	return &sqliteSession{conn: conn}, nil
}

// DeleteBefore removes records created before the cutoff.
func (s *SQLiteStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accesslog WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune access log: %w", err)
	}
	return res.RowsAffected()
}

// RecordsByRequestID returns every record for one request in insert order.
func (s *SQLiteStorage) RecordsByRequestID(ctx context.Context, requestID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, created_at, direction, status_code, content,
		       coalesce(function_call, ''), coalesce(tool_calls, ''),
		       coalesce(raw_body, ''), coalesce(raw_headers, ''),
		       coalesce(model, ''), prompt_tokens, completion_tokens,
		       request_time, request_time_upstream, coalesce(extra, '')
		FROM accesslog WHERE request_id = ? ORDER BY id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query access log: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		err := rows.Scan(
			&r.ID, &r.RequestID, &r.CreatedAt, &r.Direction, &r.StatusCode,
			&r.Content, &r.FunctionCall, &r.ToolCalls, &r.RawBody,
			&r.RawHeaders, &r.Model, &r.PromptTokens, &r.CompletionTokens,
			&r.RequestTime, &r.RequestTimeUpstream, &r.Extra,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access log row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteSession struct {
	conn *sql.Conn
}

func (s *sqliteSession) Write(ctx context.Context, record *Record) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO accesslog (
			request_id, created_at, direction, status_code, content,
			function_call, tool_calls, raw_body, raw_headers, model,
			prompt_tokens, completion_tokens, request_time,
			request_time_upstream, extra
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RequestID, record.CreatedAt.UTC(), record.Direction,
		record.StatusCode, record.Content, record.FunctionCall,
		record.ToolCalls, record.RawBody, record.RawHeaders, record.Model,
		record.PromptTokens, record.CompletionTokens, record.RequestTime,
		record.RequestTimeUpstream, record.Extra,
	)
	if err != nil {
		return fmt.Errorf("failed to insert access log record: %w", err)
	}
	return nil
}

func (s *sqliteSession) Close() error {
	return s.conn.Close()
}

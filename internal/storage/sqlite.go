package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/history"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/logging"
)

// SQLiteOption configures a SQLiteStorage.
type SQLiteOption func(*SQLiteStorage)

// WithLogger sets the logger used for debug output.
func WithLogger(l *logging.Logger) SQLiteOption {
	return func(s *SQLiteStorage) { s.logger = l }
}

// SQLiteStorage implements Storage backed by a local SQLite file.
type SQLiteStorage struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLiteStorage opens (creating if needed) the database at path and
// creates its tables. All access goes through one connection.
func NewSQLiteStorage(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db, logger: logging.Discard()}
	for _, o := range opts {
		o(s)
	}
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("history database opened", "path", path)
	return s, nil
}

// Init creates all required tables.
func (s *SQLiteStorage) Init(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS command_history (
		position INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		tool_name TEXT NOT NULL,
		parameters TEXT NOT NULL,
		status TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		duration_ms INTEGER,
		result TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		affected_files TEXT NOT NULL DEFAULT '[]'
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// SaveHistory replaces the table contents in one transaction.
func (s *SQLiteStorage) SaveHistory(ctx context.Context, entries []history.Entry) error {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM command_history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO command_history
		(position, id, tool_name, parameters, status, timestamp, duration_ms, result, error, affected_files)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		files, err := json.Marshal(e.AffectedFiles)
		if err != nil {
			return fmt.Errorf("encode affected files: %w", err)
		}
		if e.AffectedFiles == nil {
			files = []byte("[]")
		}
		var duration sql.NullInt64
		if e.DurationMs != nil {
			duration = sql.NullInt64{Int64: *e.DurationMs, Valid: true}
		}
		params := string(e.Parameters)
		if params == "" {
			params = "{}"
		}
		if _, err := stmt.ExecContext(ctx, i, e.ID, e.ToolName, params, string(e.Status),
			e.Timestamp.UnixNano(), duration, e.Result, e.Error, string(files)); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("history saved", "entries", len(entries), "duration", time.Since(start).String())
	return nil
}

// LoadHistory returns the stored entries in saved order.
func (s *SQLiteStorage) LoadHistory(ctx context.Context) ([]history.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, tool_name, parameters, status, timestamp,
		duration_ms, result, error, affected_files FROM command_history ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []history.Entry
	for rows.Next() {
		var (
			e        history.Entry
			params   string
			status   string
			ts       int64
			duration sql.NullInt64
			files    string
		)
		if err := rows.Scan(&e.ID, &e.ToolName, &params, &status, &ts, &duration, &e.Result, &e.Error, &files); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Parameters = json.RawMessage(params)
		e.Status = history.Status(status)
		e.Timestamp = time.Unix(0, ts).UTC()
		if duration.Valid {
			ms := duration.Int64
			e.DurationMs = &ms
		}
		if err := json.Unmarshal([]byte(files), &e.AffectedFiles); err != nil {
			return nil, fmt.Errorf("decode affected files for %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaelbrown/runbox/internal/storage"

	_ "modernc.org/sqlite"
)

// Fixed-width UTC timestamps so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordExecution(ctx context.Context, e *storage.Execution) error {
	if e.ID == "" {
		return errors.New("execution id is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, language, outcome, exit_code, duration_ms, code_bytes, enable_network, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Language, string(e.Outcome), e.ExitCode, e.DurationMS, e.CodeBytes,
		e.EnableNetwork, e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, language, outcome, exit_code, duration_ms, code_bytes, enable_network, created_at FROM executions`

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*storage.Execution, error) {
	// Try exact match first, then prefix match
	e, err := scanExecution(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying execution: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE id LIKE ? || '%' LIMIT 2`, id)
	if err != nil {
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous execution prefix %q", id)
	}
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, opts storage.ListOptions) ([]storage.Execution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := selectColumns
	var args []any

	if opts.Outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, string(opts.Outcome))
	}

	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var execs []storage.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}
	return execs, rows.Err()
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE created_at < ?`, t.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning executions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*storage.Execution, error) {
	var e storage.Execution
	var outcome, createdAt string
	err := s.Scan(&e.ID, &e.Language, &outcome, &e.ExitCode, &e.DurationMS,
		&e.CodeBytes, &e.EnableNetwork, &createdAt)
	if err != nil {
		return nil, err
	}
	e.Outcome = storage.Outcome(outcome)
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &e, nil
}

package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"promptloop/internal/util/jsonutil"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS promptloop_audit (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	task TEXT NOT NULL DEFAULT '',
	idx INTEGER NOT NULL,
	artifact TEXT NOT NULL DEFAULT '',
	passed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT '',
	feedback TEXT NOT NULL DEFAULT '',
	detail JSONB,
	created_at TIMESTAMPTZ NOT NULL
)`

const insertSQL = `INSERT INTO promptloop_audit
	(run_id, kind, task, idx, artifact, passed, failed, status, feedback, detail, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresSink inserts entries into the promptloop_audit table.
type PostgresSink struct {
	db   execer
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the audit table when missing.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("audit: postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping postgres: %w", err)
	}
	s := &PostgresSink{db: pool, pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresSink wraps an existing connection or pool.
func NewPostgresSink(db execer) *PostgresSink {
	return &PostgresSink{db: db}
}

// EnsureSchema creates the audit table.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("audit: create table: %w", err)
	}
	return nil
}

func (s *PostgresSink) Record(ctx context.Context, e Entry) error {
	e = Stamp(e)
	var detail any
	if e.Detail != nil {
		b, err := jsonutil.MarshalNoEscape(e.Detail)
		if err != nil {
			return fmt.Errorf("audit: encode detail: %w", err)
		}
		detail = string(b)
	}
	_, err := s.db.Exec(ctx, insertSQL,
		e.RunID, e.Kind, e.Task, e.Index, e.Artifact,
		e.Passed, e.Failed, e.Status, e.Feedback, detail, e.Time)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

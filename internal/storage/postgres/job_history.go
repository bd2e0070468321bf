// Package postgres persists job history in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/helios-gateway/internal/jobs"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "job_runs"

// ErrRunNotFound is returned when finishing a run that has no row.
var ErrRunNotFound = errors.New("run not found")

// Config controls the Postgres connection pool used for job history.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// History writes job runs into Postgres.
type History struct {
	pool  pool
	table string
}

// NewHistory connects a pool using cfg.
func NewHistory(ctx context.Context, cfg Config) (*History, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("jobs.history.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &History{pool: p, table: table}, nil
}

// NewHistoryWithPool constructs a history from an existing pool (primarily for testing).
func NewHistoryWithPool(p pool, table string) (*History, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &History{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema verifies the connection and creates the history table when missing.
func (h *History) EnsureSchema(ctx context.Context) error {
	if err := h.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	outcome     TEXT,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
)`, h.table)
	if _, err := h.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", h.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (h *History) Close() {
	if h == nil || h.pool == nil {
		return
	}
	h.pool.Close()
}

// Start inserts an in-progress run.
func (h *History) Start(ctx context.Context, run jobs.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, description, status, started_at)
VALUES ($1,$2,$3,$4,$5)`, h.table)
	_, err := h.pool.Exec(ctx, query, run.ID, run.Name, run.Description, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish records the terminal outcome of a run.
func (h *History) Finish(ctx context.Context, id string, outcome jobs.Outcome, errText string, finishedAt time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = $1, outcome = $2, error = $3, finished_at = $4
WHERE id = $5`, h.table)
	tag, err := h.pool.Exec(ctx, query, string(outcome.Status()), string(outcome), errText, finishedAt, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]jobs.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT id, name, description, status, COALESCE(outcome, ''), COALESCE(error, ''), started_at, finished_at
FROM %s ORDER BY started_at DESC, id DESC LIMIT $1`, h.table)
	rows, err := h.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []jobs.Run
	for rows.Next() {
		var (
			run             jobs.Run
			status, outcome string
			finished        *time.Time
		)
		if err := rows.Scan(&run.ID, &run.Name, &run.Description, &status, &outcome, &run.Error, &run.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = jobs.Status(status)
		run.Outcome = jobs.Outcome(outcome)
		run.FinishedAt = finished
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"prologd-judge/internal/config"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// DB wraps a PostgreSQL connection pool for audit logging.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogRun inserts a run and its cases in one transaction.
func (db *DB) LogRun(ctx context.Context, run *Run) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO runs (id, mode, code_hash, status, total, passed, ok,
				duration_ms, request_ip, api_key_hash, created_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			run.ID, run.Mode, run.CodeHash, run.Status, run.Total, run.Passed, run.OK,
			run.DurationMS, run.RequestIP, run.APIKeyHash, run.CreatedAt, run.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}

		if len(run.Cases) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, c := range run.Cases {
			batch.Queue(`
				INSERT INTO run_cases (run_id, idx, exec_id, data_in, data_out, result,
					error, error_code, status, ok, duration_ms)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				run.ID, c.Index, c.ExecID,
				truncateForDB(c.Input, 65535),
				truncateForDB(c.Expected, 65535),
				truncateForDB(c.Output, 65535),
				truncateForDB(c.Error, 65535),
				c.ErrorCode, c.Status, c.OK, c.DurationMS,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting run cases: %w", err)
		}
		return nil
	})
}

// GetRun retrieves a single run with its cases.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, mode, code_hash, status, total, passed, ok, duration_ms,
			request_ip, api_key_hash, created_at, completed_at
		FROM runs WHERE id = $1`

	var run Run
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Mode, &run.CodeHash, &run.Status,
		&run.Total, &run.Passed, &run.OK, &run.DurationMS,
		&run.RequestIP, &run.APIKeyHash,
		&run.CreatedAt, &run.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", id, err)
	}

	rows, err := db.pool.Query(ctx, `
		SELECT idx, exec_id, data_in, data_out, result, error, error_code,
			status, ok, duration_ms
		FROM run_cases WHERE run_id = $1 ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("querying cases of run %s: %w", id, err)
	}
	cases, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RunCase, error) {
		var c RunCase
		err := row.Scan(&c.Index, &c.ExecID, &c.Input, &c.Expected, &c.Output,
			&c.Error, &c.ErrorCode, &c.Status, &c.OK, &c.DurationMS)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning cases of run %s: %w", id, err)
	}
	run.Cases = cases

	return &run, nil
}

// ListRuns queries runs, newest first, without their cases.
func (db *DB) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `
		SELECT id, mode, code_hash, status, total, passed, ok, duration_ms,
			created_at, completed_at
		FROM runs
		WHERE ($1 = '' OR mode = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`

	rows, err := db.pool.Query(ctx, query,
		filter.Mode, filter.Status, filter.Since, clampLimit(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	results := []Run{}
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID, &run.Mode, &run.CodeHash, &run.Status,
			&run.Total, &run.Passed, &run.OK, &run.DurationMS,
			&run.CreatedAt, &run.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		results = append(results, run)
	}

	return results, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

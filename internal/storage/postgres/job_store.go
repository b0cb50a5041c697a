// Package postgres provides the Postgres-backed job registry.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferregold/image-scraper/internal/catalog"
)

// dbConn is the slice of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStoreConfig controls the Postgres connection pool behind the job store.
type JobStoreConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// JobStore persists scrape jobs in the scrape_jobs table so progress and
// results survive process restarts.
type JobStore struct {
	pool  dbConn
	clock catalog.Clock
	ttl   time.Duration
}

// NewJobStore connects a pool and returns a Postgres-backed JobStore.
func NewJobStore(ctx context.Context, cfg JobStoreConfig, clock catalog.Clock, ttl time.Duration) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("jobs.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool, clock: clock, ttl: ttl}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewJobStoreWithPool(pool dbConn, clock catalog.Clock, ttl time.Duration) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool, clock: clock, ttl: ttl}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Put upserts the job row. Duplicate submission is resolved last-writer-wins,
// same as the in-memory store.
func (s *JobStore) Put(ctx context.Context, job catalog.Job) error {
	resultsJSON, err := marshalResults(job.Results)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO scrape_jobs (
			id, status, total, current_item, last_product, last_outcome,
			results, error_text, started_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total = EXCLUDED.total,
			current_item = EXCLUDED.current_item,
			last_product = EXCLUDED.last_product,
			last_outcome = EXCLUDED.last_outcome,
			results = EXCLUDED.results,
			error_text = EXCLUDED.error_text,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at;
	`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.Total,
		job.Current,
		job.LastProduct,
		job.LastOutcome,
		resultsJSON,
		job.ErrorText,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// Get fetches the job row by ID.
func (s *JobStore) Get(ctx context.Context, jobID string) (catalog.Job, error) {
	query := `
		SELECT id, status, total, current_item, last_product, last_outcome,
			results, error_text, started_at, completed_at
		FROM scrape_jobs
		WHERE id = $1;
	`
	var (
		job         catalog.Job
		resultsJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&job.Status,
		&job.Total,
		&job.Current,
		&job.LastProduct,
		&job.LastOutcome,
		&resultsJSON,
		&job.ErrorText,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Job{}, catalog.ErrJobNotFound
		}
		return catalog.Job{}, fmt.Errorf("get job: %w", err)
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &job.Results); err != nil {
			return catalog.Job{}, fmt.Errorf("decode job results: %w", err)
		}
	}
	return job, nil
}

// UpdateProgress records one processed item. The WHERE clause keeps terminal
// rows inert and GREATEST keeps the counter monotonic, so a zero-row update
// is an ordinary no-op rather than an error.
func (s *JobStore) UpdateProgress(
	ctx context.Context,
	jobID string,
	current int,
	lastProduct string,
	outcome catalog.ItemOutcome,
) error {
	query := `
		UPDATE scrape_jobs
		SET current_item = GREATEST(current_item, $2),
			last_product = $3,
			last_outcome = $4
		WHERE id = $1 AND status = $5;
	`
	_, err := s.pool.Exec(ctx, query, jobID, current, lastProduct, outcome, catalog.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// Complete transitions the job to completed and attaches its results.
func (s *JobStore) Complete(ctx context.Context, jobID string, results []catalog.ProductRecord) error {
	resultsJSON, err := marshalResults(results)
	if err != nil {
		return err
	}
	query := `
		UPDATE scrape_jobs
		SET status = $2,
			results = $3,
			current_item = total,
			completed_at = $4
		WHERE id = $1 AND status = $5;
	`
	_, err = s.pool.Exec(ctx, query,
		jobID,
		catalog.JobStatusCompleted,
		resultsJSON,
		s.now(),
		catalog.JobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail transitions the job to error with a diagnostic message and clears any
// partial results.
func (s *JobStore) Fail(ctx context.Context, jobID string, errText string) error {
	query := `
		UPDATE scrape_jobs
		SET status = $2,
			error_text = $3,
			results = NULL,
			completed_at = $4
		WHERE id = $1 AND status = $5;
	`
	_, err := s.pool.Exec(ctx, query,
		jobID,
		catalog.JobStatusError,
		errText,
		s.now(),
		catalog.JobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// Delete removes the row unconditionally. Unknown IDs are a no-op.
func (s *JobStore) Delete(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM scrape_jobs WHERE id = $1;`, jobID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// Sweep expires terminal jobs whose completion is older than the TTL and
// returns how many rows went away.
func (s *JobStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	query := `
		DELETE FROM scrape_jobs
		WHERE status IN ($1, $2) AND completed_at < $3;
	`
	tag, err := s.pool.Exec(ctx, query,
		catalog.JobStatusCompleted,
		catalog.JobStatusError,
		now.Add(-s.ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RunJanitor sweeps on the given cadence until the context finishes.
func (s *JobStore) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = s.Sweep(ctx, s.now())
		case <-ctx.Done():
			return
		}
	}
}

func (s *JobStore) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

func marshalResults(results []catalog.ProductRecord) ([]byte, error) {
	if results == nil {
		return nil, nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("encode job results: %w", err)
	}
	return data, nil
}

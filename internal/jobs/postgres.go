package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kiranshivaraju/meshforge/pkg/models"
)

const jobColumns = `id, status, progress, message, params, result, error,
	created_at, started_at, completed_at, failed_at`

// PostgresStore implements Store using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Put locks the current row, validates the transition and upserts in one transaction.
func (s *PostgresStore) Put(ctx context.Context, job *models.Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin put job: %w", err)
	}
	defer tx.Rollback(ctx)

	prev, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1 FOR UPDATE`, job.ID))
	if errors.Is(err, ErrNotFound) {
		prev = nil
	} else if err != nil {
		return fmt.Errorf("get job for update: %w", err)
	}
	if err := CheckTransition(prev, job); err != nil {
		return err
	}

	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	result, err := nullableJSON(job.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	jobErr, err := nullableJSON(job.Error)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO generation_jobs (`+jobColumns+`, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   progress = EXCLUDED.progress,
		   message = EXCLUDED.message,
		   result = EXCLUDED.result,
		   error = EXCLUDED.error,
		   started_at = EXCLUDED.started_at,
		   completed_at = EXCLUDED.completed_at,
		   failed_at = EXCLUDED.failed_at,
		   updated_at = EXCLUDED.updated_at`,
		job.ID, string(job.Status), job.Progress, job.Message, params, result, jobErr,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.FailedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, err
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, filter.MaxResults())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j                     models.Job
		status                string
		params, result, jobEr []byte
	)
	err := row.Scan(&j.ID, &status, &j.Progress, &j.Message, &params, &result, &jobEr,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.FailedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	if err := json.Unmarshal(params, &j.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if result != nil {
		j.Result = &models.GenerationResult{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	if jobEr != nil {
		j.Error = &models.JobError{}
		if err := json.Unmarshal(jobEr, j.Error); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
	}
	return &j, nil
}

// nullableJSON encodes v, mapping a nil pointer to SQL NULL.
func nullableJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

var _ Store = (*PostgresStore)(nil)

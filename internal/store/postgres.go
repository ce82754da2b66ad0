package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
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

const jobColumns = `id, user_id, kind, prompt, image_url, name, status, result_url, preview_url,
	error_message, finished_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.JobRecord, error) {
	var j models.JobRecord
	err := row.Scan(&j.ID, &j.UserID, &j.Kind, &j.Prompt, &j.ImageURL, &j.Name, &j.Status,
		&j.ResultURL, &j.PreviewURL, &j.ErrorMessage, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.JobRecord) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	if job.Status == "" {
		job.Status = models.StatusPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, kind, prompt, image_url, name, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.UserID, job.Kind, job.Prompt, job.ImageURL, job.Name, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string, userID string) (*models.JobRecord, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.JobRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1`
	if filter.ActiveOnly {
		query += ` AND status NOT IN ('completed', 'failed', 'cancelled')`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, filter.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.JobRecord, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus moves a mirrored job to status. Non-terminal jobs may move
// freely (a job can be requeued); terminal jobs are frozen, and repeating the
// same terminal status is a no-op.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id string, status models.Status, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status.IsTerminal() {
		query += fmt.Sprintf(", finished_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.ResultURL != nil {
		query += fmt.Sprintf(", result_url = $%d", argIdx)
		args = append(args, *params.ResultURL)
		argIdx++
	}
	if params.PreviewURL != nil {
		query += fmt.Sprintf(", preview_url = $%d", argIdx)
		args = append(args, *params.PreviewURL)
		argIdx++
	}

	query += ` WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current models.Status
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if current == status {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

func (s *PostgresStore) RenameJob(ctx context.Context, id string, userID string, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET name = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`, id, userID, name)
	if err != nil {
		return fmt.Errorf("rename job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id string, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

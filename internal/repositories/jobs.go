package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/shared"
)

// JobRepository implements models.Repository[*models.MigrationJob] for migration_jobs.
//
// Handles job CRUD with soft delete support, status transitions guarded by the current
// status, and checkpoint writes that never touch the status column.
type JobRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ models.Repository[*models.MigrationJob] = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

const jobColumns = `
	id, sequence, status, config, progress, report, error_message,
	started_at, completed_at, created_at, updated_at, deleted_at
`

// Create inserts a new job with a generated ID and sequence
func (r *JobRepository) Create(ctx context.Context, job *models.MigrationJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "migration_jobs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	job.SetID(shared.GenerateID())
	job.SetSequence(sequence)

	config, progress, report, err := encodeJobState(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO migration_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID(),
		sequence,
		string(job.Status()),
		config,
		progress,
		report,
		nullString(job.ErrorMessage()),
		nullTime(job.StartedAt()),
		nullTime(job.CompletedAt()),
		job.CreatedAt().UTC(),
		job.UpdatedAt().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// Get retrieves a job by ID, excluding soft-deleted jobs
func (r *JobRepository) Get(ctx context.Context, id string) (*models.MigrationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM migration_jobs WHERE id = ? AND deleted_at IS NULL`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return job, nil
}

// Update writes every mutable column of a job
func (r *JobRepository) Update(ctx context.Context, job *models.MigrationJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := r.now().UTC()
	job.SetUpdatedAt(now)

	config, progress, report, err := encodeJobState(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE migration_jobs
		SET status = ?, config = ?, progress = ?, report = ?, error_message = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query,
		string(job.Status()),
		config,
		progress,
		report,
		nullString(job.ErrorMessage()),
		nullTime(job.StartedAt()),
		nullTime(job.CompletedAt()),
		now,
		job.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return expectOne(result, job.ID())
}

// Transition moves a job to status `to` only while it is in one of `from`.
//
// It returns false when the job exists but is in another status (e.g. cancelled externally).
func (r *JobRepository) Transition(ctx context.Context, id string, from []models.JobStatus, to models.JobStatus, errorMessage string) (bool, error) {
	now := r.now().UTC()

	var startedAt, completedAt any
	switch {
	case to == models.StatusRunning:
		startedAt = now
	case to.Terminal():
		completedAt = now
	}

	args := []any{string(to), nullString(errorMessage), startedAt, completedAt, now, id}
	for _, s := range from {
		args = append(args, string(s))
	}

	query := fmt.Sprintf(`
		UPDATE migration_jobs
		SET status = ?, error_message = ?,
			started_at = COALESCE(started_at, ?),
			completed_at = COALESCE(?, completed_at),
			updated_at = ?
		WHERE id = ? AND deleted_at IS NULL AND status IN (%s)
	`, inList(len(from)))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 1 {
		return true, nil
	}
	if _, err := r.Status(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SaveCheckpoint persists progress and report without touching the status.
func (r *JobRepository) SaveCheckpoint(ctx context.Context, id string, progress models.Progress, report models.Report) error {
	p, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	rep, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE migration_jobs SET progress = ?, report = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		string(p), string(rep), r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return expectOne(result, id)
}

// SaveProgress persists progress only.
func (r *JobRepository) SaveProgress(ctx context.Context, id string, progress models.Progress) error {
	p, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE migration_jobs SET progress = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		string(p), r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return expectOne(result, id)
}

// Status returns the current status of a job.
func (r *JobRepository) Status(ctx context.Context, id string) (models.JobStatus, error) {
	var status string
	err := r.db.QueryRowContext(ctx, "SELECT status FROM migration_jobs WHERE id = ? AND deleted_at IS NULL", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read job status: %w", err)
	}
	return models.JobStatus(status), nil
}

// Cancel marks a pending or running job as cancelled.
func (r *JobRepository) Cancel(ctx context.Context, id string) error {
	ok, err := r.Transition(ctx, id, []models.JobStatus{models.StatusPending, models.StatusRunning}, models.StatusCancelled, "")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrJobTerminal, id)
	}
	return nil
}

// Relaunch creates a new pending job copying the configuration of a failed or cancelled job.
func (r *JobRepository) Relaunch(ctx context.Context, id string) (*models.MigrationJob, error) {
	prev, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s := prev.Status(); s != models.StatusFailed && s != models.StatusCancelled {
		return nil, fmt.Errorf("%w: job %s is %s; only failed or cancelled jobs can be relaunched", shared.ErrInvalidInput, id, s)
	}

	job := models.NewMigrationJob(prev.Config())
	if err := r.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Delete soft-deletes a job by ID
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE migration_jobs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return expectOne(result, id)
}

// List retrieves jobs matching the given criteria, newest first, excluding soft-deleted jobs.
//
// Supported criteria: "status" (string or models.JobStatus) and "limit" (int).
func (r *JobRepository) List(ctx context.Context, criteria map[string]any) ([]*models.MigrationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM migration_jobs WHERE deleted_at IS NULL`
	args := []any{}

	switch status := criteria["status"].(type) {
	case string:
		if status != "" {
			query += " AND status = ?"
			args = append(args, status)
		}
	case models.JobStatus:
		if status != "" {
			query += " AND status = ?"
			args = append(args, string(status))
		}
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var jobs []*models.MigrationJob
	err := eachRow(ctx, r.db, query, args, func(rows *sql.Rows) error {
		job, err := scanJob(rows)
		if err != nil {
			return fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	return jobs, nil
}

func encodeJobState(job *models.MigrationJob) (config, progress, report string, err error) {
	c, err := json.Marshal(job.Config())
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode config: %w", err)
	}
	p, err := json.Marshal(job.Progress())
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode progress: %w", err)
	}
	rep, err := json.Marshal(job.Report())
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode report: %w", err)
	}
	return string(c), string(p), string(rep), nil
}

// scanJob scans a single row into a [models.MigrationJob]
func scanJob(s scanner) (*models.MigrationJob, error) {
	var (
		id           string
		sequence     int
		status       string
		configJSON   string
		progressJSON string
		reportJSON   string
		errorMessage sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		createdAt    time.Time
		updatedAt    time.Time
		deletedAt    sql.NullTime
	)

	err := s.Scan(
		&id, &sequence, &status, &configJSON, &progressJSON, &reportJSON, &errorMessage,
		&startedAt, &completedAt, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	var config models.JobConfig
	if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	var progress models.Progress
	if err := json.Unmarshal([]byte(progressJSON), &progress); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	var report models.Report
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}

	job := models.NewMigrationJob(config)
	job.SetID(id)
	job.SetSequence(sequence)
	job.SetStatus(models.JobStatus(status))
	job.SetProgress(progress)
	job.SetReport(report)
	job.SetCreatedAt(createdAt)
	job.SetUpdatedAt(updatedAt)

	if errorMessage.Valid {
		job.SetErrorMessage(errorMessage.String)
	}
	if startedAt.Valid {
		job.SetStartedAt(&startedAt.Time)
	}
	if completedAt.Valid {
		job.SetCompletedAt(&completedAt.Time)
	}
	if deletedAt.Valid {
		job.SetDeletedAt(&deletedAt.Time)
	}

	return job, nil
}

func expectOne(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	return nil
}

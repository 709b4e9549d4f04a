package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rnednur/felix-sub000/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a guarded update matched no row, e.g.
	// cancelling an already terminal job.
	ErrConflict = errors.New("job state does not permit this transition")
)

// JobRepository persists research jobs. All terminal transitions are
// single guarded UPDATEs so that terminal states stay immutable under
// concurrent writers.
type JobRepository interface {
	Create(ctx context.Context, job models.ResearchJob) (models.ResearchJob, error)
	Get(ctx context.Context, id string) (models.ResearchJob, error)
	List(ctx context.Context, filter models.JobFilter) ([]models.JobSummary, error)

	// MarkRunning claims a pending job. ErrConflict if it is not pending.
	MarkRunning(ctx context.Context, id string) error
	// UpdateProgress is a no-op once the job is terminal.
	UpdateProgress(ctx context.Context, id string, stageOrdinal int, stageLabel string, percent int) error
	MarkCompleted(ctx context.Context, id string, report *models.Report) error
	MarkFailed(ctx context.Context, id string, errorMessage string) error
	MarkCancelled(ctx context.Context, id string) error

	// RequestCancel sets cancel_requested with a compare-and-set: it only
	// succeeds while the job is pending or running.
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)

	Delete(ctx context.Context, id string) error
	// DeleteExpired removes terminal jobs older than the cutoff and
	// returns how many rows went away.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Create(ctx context.Context, job models.ResearchJob) (models.ResearchJob, error) {
	query := `
		INSERT INTO research_jobs
			(id, dataset_id, main_question, verbose, max_sub_questions,
			 enable_code_path, enable_world_knowledge, status, current_stage,
			 stage_ordinal, progress_percentage, cancel_requested)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', '', 0, 0, FALSE)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		job.ID,
		job.DatasetID,
		job.MainQuestion,
		job.Verbose,
		job.MaxSubQuestions,
		job.EnableCodePath,
		job.EnableWorldContext,
	).Scan(&job.CreatedAt)
	if err != nil {
		return models.ResearchJob{}, fmt.Errorf("insert research job: %w", err)
	}
	job.Status = models.JobStatusPending
	return job, nil
}

func (r *jobRepository) Get(ctx context.Context, id string) (models.ResearchJob, error) {
	query := `
		SELECT id, dataset_id, main_question, verbose, max_sub_questions,
		       enable_code_path, enable_world_knowledge, status, current_stage,
		       stage_ordinal, progress_percentage, result, error_message,
		       cancel_requested, created_at, started_at, completed_at
		FROM research_jobs
		WHERE id = $1
	`
	var job models.ResearchJob
	var result []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&job.DatasetID,
		&job.MainQuestion,
		&job.Verbose,
		&job.MaxSubQuestions,
		&job.EnableCodePath,
		&job.EnableWorldContext,
		&job.Status,
		&job.CurrentStage,
		&job.StageOrdinal,
		&job.ProgressPercentage,
		&result,
		&job.ErrorMessage,
		&job.CancelRequested,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ResearchJob{}, ErrNotFound
	}
	if err != nil {
		return models.ResearchJob{}, fmt.Errorf("get research job: %w", err)
	}
	if len(result) > 0 {
		var report models.Report
		if err := json.Unmarshal(result, &report); err != nil {
			return models.ResearchJob{}, fmt.Errorf("decode stored report: %w", err)
		}
		job.Result = &report
	}
	return job, nil
}

func (r *jobRepository) List(ctx context.Context, filter models.JobFilter) ([]models.JobSummary, error) {
	query := `
		SELECT id, dataset_id, main_question, status, progress_percentage,
		       LEFT(COALESCE(result->>'direct_answer', ''), 240),
		       COALESCE(jsonb_array_length(result->'key_findings'), 0),
		       created_at, completed_at
		FROM research_jobs
		WHERE ($1 = '' OR dataset_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR main_question ILIKE '%' || $3 || '%'
		       OR COALESCE(result->>'direct_answer', '') ILIKE '%' || $3 || '%')
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, query,
		filter.DatasetID, string(filter.Status), filter.Search, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list research jobs: %w", err)
	}
	defer rows.Close()

	var summaries []models.JobSummary
	for rows.Next() {
		var s models.JobSummary
		if err := rows.Scan(
			&s.ID,
			&s.DatasetID,
			&s.MainQuestion,
			&s.Status,
			&s.ProgressPercentage,
			&s.DirectAnswer,
			&s.KeyFindingsCount,
			&s.CreatedAt,
			&s.CompletedAt,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *jobRepository) MarkRunning(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE research_jobs
		SET status = 'running', started_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	return requireRow(res)
}

func (r *jobRepository) UpdateProgress(ctx context.Context, id string, stageOrdinal int, stageLabel string, percent int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE research_jobs
		SET stage_ordinal = $2, current_stage = $3, progress_percentage = $4
		WHERE id = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled')
		  AND progress_percentage <= $4
	`, id, stageOrdinal, stageLabel, percent)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

func (r *jobRepository) MarkCompleted(ctx context.Context, id string, report *models.Report) error {
	result, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE research_jobs
		SET status = 'completed', result = $2, progress_percentage = 100,
		    completed_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`, id, result)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return requireRow(res)
}

func (r *jobRepository) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE research_jobs
		SET status = 'failed', error_message = $2, completed_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`, id, errorMessage)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return requireRow(res)
}

func (r *jobRepository) MarkCancelled(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE research_jobs
		SET status = 'cancelled', completed_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`, id)
	if err != nil {
		return fmt.Errorf("mark job cancelled: %w", err)
	}
	return requireRow(res)
}

func (r *jobRepository) RequestCancel(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE research_jobs
		SET cancel_requested = TRUE
		WHERE id = $1 AND status IN ('pending', 'running') AND cancel_requested = FALSE
	`, id)
	if err != nil {
		return fmt.Errorf("request job cancel: %w", err)
	}
	return requireRow(res)
}

func (r *jobRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := r.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM research_jobs WHERE id = $1`, id).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return requested, nil
}

func (r *jobRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM research_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete research job: %w", err)
	}
	return requireRow(res)
}

func (r *jobRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM research_jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

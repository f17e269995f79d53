package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kiranshivaraju/riskscan/pkg/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var jobColumns = []string{
	"id", "user_id", "source_ref", "video_path", "status", "progress", "current_step",
	"current_step_index", "result_id", "error_kind", "error_message", "archived",
	"created_at", "started_at", "completed_at", "updated_at",
}

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

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	query, args, err := psql.Insert("jobs").
		Columns("id", "user_id", "source_ref", "video_path", "status", "progress",
			"current_step", "current_step_index", "created_at", "updated_at").
		Values(job.ID, job.UserID, job.SourceRef, job.VideoPath, job.Status, job.Progress,
			job.CurrentStep, job.CurrentStepIndex, job.CreatedAt, job.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build create job: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query, args, err := psql.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get job: %w", err)
	}
	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// GetNextPendingJob returns the oldest pending job.
func (s *PostgresStore) GetNextPendingJob(ctx context.Context) (*models.Job, error) {
	query, args, err := psql.Select(jobColumns...).From("jobs").
		Where(sq.Eq{"status": models.JobStatusPending}).
		OrderBy("created_at ASC", "id ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build next pending job: %w", err)
	}
	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get next pending job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) CountPendingJobs(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status = $1`, models.JobStatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

// TransitionJob moves a job from one status to another. The update only
// applies while the row is still in from, so of two racing callers exactly
// one wins; the loser gets ErrStatusConflict.
func (s *PostgresStore) TransitionJob(ctx context.Context, id uuid.UUID, from, to string, opts ...JobUpdateOption) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	params := ApplyOptions(opts...)

	now := time.Now().UTC()
	b := psql.Update("jobs").
		Set("status", to).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": from})

	switch to {
	case models.JobStatusProcessing:
		b = b.Set("started_at", now)
	case models.JobStatusCompleted, models.JobStatusFailed:
		b = b.Set("completed_at", now)
	}
	if params.Step != nil {
		b = b.Set("progress", params.Step.Progress).
			Set("current_step", params.Step.Label).
			Set("current_step_index", params.Step.Index)
	}
	if params.ErrorKind != nil {
		b = b.Set("error_kind", *params.ErrorKind)
	}
	if params.ErrorMessage != nil {
		b = b.Set("error_message", *params.ErrorMessage)
	}
	if params.ResultID != nil {
		b = b.Set("result_id", *params.ResultID)
	}
	if params.Archived {
		b = b.Set("archived", true)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build transition job: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", ErrStatusConflict, id, current, from)
}

// UpdateProgress records a checkpoint for a processing job. Progress never
// moves backwards. Returns ErrStatusConflict once the job has left processing.
func (s *PostgresStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, step string, stepIndex int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET
		   current_step = CASE WHEN $2 >= progress THEN $3 ELSE current_step END,
		   current_step_index = GREATEST(current_step_index, $4),
		   progress = GREATEST(progress, $2),
		   updated_at = NOW()
		 WHERE id = $1 AND status = $5`,
		id, progress, step, stepIndex, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is not processing", ErrStatusConflict, id)
	}
	return nil
}

// FailStaleJobs fails processing jobs started more than olderThan ago, such
// as those left behind by a crashed process.
func (s *PostgresStore) FailStaleJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	query, args, err := psql.Update("jobs").
		Set("status", models.JobStatusFailed).
		Set("error_kind", models.JobErrorTimeout).
		Set("error_message", fmt.Sprintf("job exceeded the %s processing timeout", olderThan)).
		Set("completed_at", now).
		Set("updated_at", now).
		Where(sq.Eq{"status": models.JobStatusProcessing}).
		Where(sq.Lt{"started_at": now.Add(-olderThan)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build fail stale jobs: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.UserID, &j.SourceRef, &j.VideoPath, &j.Status, &j.Progress,
		&j.CurrentStep, &j.CurrentStepIndex, &j.ResultID, &j.ErrorKind, &j.ErrorMessage,
		&j.Archived, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// --- Analysis Results ---

func (s *PostgresStore) PersistResult(ctx context.Context, result *models.AnalysisResult) error {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	contextJSON, err := json.Marshal(result.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	categoriesJSON, err := json.Marshal(result.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_results (id, job_id, user_id, source_ref, provider, context, categories, overall_risk, overall_severity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		result.ID, result.JobID, result.UserID, result.SourceRef, result.Provider,
		contextJSON, categoriesJSON, result.OverallRisk, result.OverallSeverity, result.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("persist analysis result: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysisResult(ctx context.Context, id uuid.UUID) (*models.AnalysisResult, error) {
	var (
		r                           models.AnalysisResult
		contextJSON, categoriesJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, user_id, source_ref, provider, context, categories, overall_risk, overall_severity, created_at
		 FROM analysis_results WHERE id = $1`, id,
	).Scan(&r.ID, &r.JobID, &r.UserID, &r.SourceRef, &r.Provider, &contextJSON, &categoriesJSON,
		&r.OverallRisk, &r.OverallSeverity, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis result: %w", err)
	}
	if err := json.Unmarshal(contextJSON, &r.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if err := json.Unmarshal(categoriesJSON, &r.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	return &r, nil
}

// --- Usage ---

func (s *PostgresStore) IncrementUsageCounter(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_counters (user_id, analyses_count, last_analysis_at, updated_at)
		 VALUES ($1, 1, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		   analyses_count = usage_counters.analyses_count + 1,
		   last_analysis_at = NOW(),
		   updated_at = NOW()`, userID)
	if err != nil {
		return fmt.Errorf("increment usage counter: %w", err)
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

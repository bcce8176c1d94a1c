package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `
id, owner_id, provider, provider_name, parent_job_id,
prompt, negative_prompt, aspect_ratio, seed, guidance_scale, quantity,
external_task_id, provider_metadata,
status, progress_percent, attempts, next_retry_at,
created_at, updated_at, completed_at,
assets, error, estimated_credits, credits_consumed, billed,
is_public, is_favorite, deleted`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	query := `
INSERT INTO generation_jobs (
	id, owner_id, provider, provider_name, parent_job_id,
	prompt, negative_prompt, aspect_ratio, seed, guidance_scale, quantity,
	external_task_id, provider_metadata,
	status, progress_percent, attempts, next_retry_at,
	assets, error, estimated_credits, credits_consumed, billed,
	is_public, is_favorite, deleted
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.OwnerID,
		job.Provider,
		job.ProviderName,
		job.ParentJobID,
		job.Prompt,
		job.NegativePrompt,
		job.AspectRatio,
		job.Seed,
		job.GuidanceScale,
		job.Quantity,
		job.ExternalTaskID,
		mustJSON(job.ProviderMetadata),
		job.Status,
		job.ProgressPercent,
		job.Attempts,
		job.NextRetryAt,
		mustJSON(job.Assets),
		mustJSON(job.Error),
		job.EstimatedCredits,
		job.CreditsConsumed,
		job.Billed,
		job.IsPublic,
		job.IsFavorite,
		job.Deleted,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1;`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Update persists mutable non-terminal fields. The status guard keeps a
// racing progress update from resurrecting a job another writer finalized.
func (r *JobRepositoryPG) Update(ctx context.Context, job *domain.GenerationJob) error {
	query := `
UPDATE generation_jobs
SET status = $2,
    progress_percent = $3,
    attempts = $4,
    next_retry_at = $5,
    external_task_id = $6,
    provider_metadata = $7,
    updated_at = NOW()
WHERE id = $1
  AND status IN ('queued', 'running');
`
	if job.Status.Terminal() {
		return fmt.Errorf("repo: Update cannot write terminal status %q, use Finalize", job.Status)
	}
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.ProgressPercent,
		job.Attempts,
		job.NextRetryAt,
		job.ExternalTaskID,
		mustJSON(job.ProviderMetadata),
	)
	return err
}

// Finalize performs the single atomic terminal write. Only the first writer
// to observe a non-terminal stored status wins; losers get
// domain.ErrDuplicateOperation and must reload.
func (r *JobRepositoryPG) Finalize(ctx context.Context, job *domain.GenerationJob) error {
	if !job.Status.Terminal() {
		return fmt.Errorf("repo: Finalize requires a terminal status, got %q", job.Status)
	}
	query := `
UPDATE generation_jobs
SET status = $2,
    progress_percent = $3,
    assets = $4,
    error = $5,
    credits_consumed = $6,
    billed = $7,
    provider_metadata = $8,
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1
  AND status IN ('queued', 'running');
`
	tag, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.ProgressPercent,
		mustJSON(job.Assets),
		mustJSON(job.Error),
		job.CreditsConsumed,
		job.Billed,
		mustJSON(job.ProviderMetadata),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, job.ID); getErr != nil {
			return getErr
		}
		return domain.ErrDuplicateOperation
	}
	return nil
}

// SetVisibility updates the owner-controlled flags, independent of the
// generation lifecycle.
func (r *JobRepositoryPG) SetVisibility(ctx context.Context, jobID, ownerID string, isPublic, isFavorite *bool) error {
	query := `
UPDATE generation_jobs
SET is_public = COALESCE($3, is_public),
    is_favorite = COALESCE($4, is_favorite),
    updated_at = NOW()
WHERE id = $1 AND owner_id = $2;
`
	tag, err := r.pool.Exec(ctx, query, jobID, ownerID, isPublic, isFavorite)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SoftDelete hides the job from listings while preserving it for billing
// audit.
func (r *JobRepositoryPG) SoftDelete(ctx context.Context, jobID, ownerID string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE generation_jobs SET deleted = TRUE, updated_at = NOW()
WHERE id = $1 AND owner_id = $2;
`, jobID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByOwner returns the owner's jobs, newest first, hiding soft-deleted
// records.
func (r *JobRepositoryPG) ListByOwner(ctx context.Context, ownerID string, filter domain.ListFilter) ([]domain.GenerationJob, error) {
	query := `SELECT ` + jobColumns + `
FROM generation_jobs
WHERE owner_id = $1
  AND NOT deleted
  AND ($2::text IS NULL OR status = $2)
  AND ($3::text IS NULL OR provider = $3)
  AND (NOT $4::boolean OR is_favorite)
  AND (NOT $5::boolean OR is_public)
ORDER BY created_at DESC
LIMIT $6;
`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, query,
		ownerID,
		statusArg(filter.Status),
		providerArg(filter.Provider),
		filter.OnlyFavorite,
		filter.OnlyPublic,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListByParent returns follow-up children of the given job.
func (r *JobRepositoryPG) ListByParent(ctx context.Context, parentJobID string) ([]domain.GenerationJob, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+`
FROM generation_jobs
WHERE parent_job_id = $1
ORDER BY created_at ASC;
`, parentJobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListStale returns non-terminal jobs not updated since the cutoff.
func (r *JobRepositoryPG) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.GenerationJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+`
FROM generation_jobs
WHERE status IN ('queued', 'running')
  AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2;
`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.GenerationJob, error) {
	var (
		job          domain.GenerationJob
		metadataJSON []byte
		assetsJSON   []byte
		errorJSON    []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Provider,
		&job.ProviderName,
		&job.ParentJobID,
		&job.Prompt,
		&job.NegativePrompt,
		&job.AspectRatio,
		&job.Seed,
		&job.GuidanceScale,
		&job.Quantity,
		&job.ExternalTaskID,
		&metadataJSON,
		&job.Status,
		&job.ProgressPercent,
		&job.Attempts,
		&job.NextRetryAt,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
		&assetsJSON,
		&errorJSON,
		&job.EstimatedCredits,
		&job.CreditsConsumed,
		&job.Billed,
		&job.IsPublic,
		&job.IsFavorite,
		&job.Deleted,
	); err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &job.ProviderMetadata)
	}
	if len(assetsJSON) > 0 {
		_ = json.Unmarshal(assetsJSON, &job.Assets)
	}
	if len(errorJSON) > 0 {
		_ = json.Unmarshal(errorJSON, &job.Error)
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.GenerationJob, error) {
	var jobs []domain.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func mustJSON(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	return b
}

func statusArg(s *domain.JobStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func providerArg(p *domain.ProviderKind) *string {
	if p == nil {
		return nil
	}
	v := string(*p)
	return &v
}

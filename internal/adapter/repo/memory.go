package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediagen/internal/domain"
)

// MemoryJobRepository is an in-memory domain.JobRepository used by tests and
// local development. It mirrors the PostgreSQL repository's semantics,
// including the conditional terminal write.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*domain.GenerationJob
}

// NewMemoryJobRepository constructs an empty in-memory repository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*domain.GenerationJob)}
}

func (r *MemoryJobRepository) Create(ctx context.Context, job *domain.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	stored := cloneJob(job)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.jobs[job.ID] = stored
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

func (r *MemoryJobRepository) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(stored), nil
}

func (r *MemoryJobRepository) Update(ctx context.Context, job *domain.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status.Terminal() {
		// A racing progress update must not resurrect a finalized job.
		return nil
	}
	stored.Status = job.Status
	stored.ProgressPercent = job.ProgressPercent
	stored.Attempts = job.Attempts
	stored.NextRetryAt = cloneTimePtr(job.NextRetryAt)
	stored.ExternalTaskID = job.ExternalTaskID
	stored.ProviderMetadata = cloneMap(job.ProviderMetadata)
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryJobRepository) Finalize(ctx context.Context, job *domain.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status.Terminal() {
		return domain.ErrDuplicateOperation
	}
	now := time.Now()
	stored.Status = job.Status
	stored.ProgressPercent = job.ProgressPercent
	stored.Assets = append([]domain.AssetRef(nil), job.Assets...)
	stored.Error = cloneError(job.Error)
	stored.CreditsConsumed = job.CreditsConsumed
	stored.Billed = job.Billed
	stored.ProviderMetadata = cloneMap(job.ProviderMetadata)
	stored.CompletedAt = &now
	stored.UpdatedAt = now
	return nil
}

func (r *MemoryJobRepository) SetVisibility(ctx context.Context, jobID, ownerID string, isPublic, isFavorite *bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[jobID]
	if !ok || stored.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	if isPublic != nil {
		stored.IsPublic = *isPublic
	}
	if isFavorite != nil {
		stored.IsFavorite = *isFavorite
	}
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryJobRepository) SoftDelete(ctx context.Context, jobID, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[jobID]
	if !ok || stored.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	stored.Deleted = true
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryJobRepository) ListByOwner(ctx context.Context, ownerID string, filter domain.ListFilter) ([]domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var jobs []domain.GenerationJob
	for _, stored := range r.jobs {
		if stored.OwnerID != ownerID || stored.Deleted {
			continue
		}
		if filter.Status != nil && stored.Status != *filter.Status {
			continue
		}
		if filter.Provider != nil && stored.Provider != *filter.Provider {
			continue
		}
		if filter.OnlyFavorite && !stored.IsFavorite {
			continue
		}
		if filter.OnlyPublic && !stored.IsPublic {
			continue
		}
		jobs = append(jobs, *cloneJob(stored))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (r *MemoryJobRepository) ListByParent(ctx context.Context, parentJobID string) ([]domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var jobs []domain.GenerationJob
	for _, stored := range r.jobs {
		if stored.ParentJobID != nil && *stored.ParentJobID == parentJobID {
			jobs = append(jobs, *cloneJob(stored))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (r *MemoryJobRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var jobs []domain.GenerationJob
	for _, stored := range r.jobs {
		if stored.Status.Terminal() || !stored.UpdatedAt.Before(cutoff) {
			continue
		}
		jobs = append(jobs, *cloneJob(stored))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].UpdatedAt.Before(jobs[j].UpdatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

var _ domain.JobRepository = (*MemoryJobRepository)(nil)

// MemoryLedgerRepository is an in-memory domain.LedgerRepository.
type MemoryLedgerRepository struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
}

// NewMemoryLedgerRepository constructs an empty in-memory ledger.
func NewMemoryLedgerRepository() *MemoryLedgerRepository {
	return &MemoryLedgerRepository{}
}

func (r *MemoryLedgerRepository) Append(ctx context.Context, ownerID string, delta int, reason, jobID string) (*domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance := r.balanceLocked(ownerID)
	after := balance + delta
	if after < 0 {
		return nil, domain.ErrInsufficientCredits
	}
	entry := domain.LedgerEntry{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Delta:        delta,
		BalanceAfter: after,
		Reason:       reason,
		JobID:        jobID,
		CreatedAt:    time.Now(),
	}
	r.entries = append(r.entries, entry)
	return &entry, nil
}

func (r *MemoryLedgerRepository) Balance(ctx context.Context, ownerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balanceLocked(ownerID), nil
}

func (r *MemoryLedgerRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entries []domain.LedgerEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].OwnerID == ownerID {
			entries = append(entries, r.entries[i])
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
	}
	return entries, nil
}

func (r *MemoryLedgerRepository) balanceLocked(ownerID string) int {
	balance := 0
	for _, e := range r.entries {
		if e.OwnerID == ownerID {
			balance += e.Delta
		}
	}
	return balance
}

var _ domain.LedgerRepository = (*MemoryLedgerRepository)(nil)

func cloneJob(job *domain.GenerationJob) *domain.GenerationJob {
	c := *job
	c.ParentJobID = cloneStrPtr(job.ParentJobID)
	c.Seed = cloneIntPtr(job.Seed)
	c.NextRetryAt = cloneTimePtr(job.NextRetryAt)
	c.CompletedAt = cloneTimePtr(job.CompletedAt)
	c.Assets = append([]domain.AssetRef(nil), job.Assets...)
	c.ReferenceAssets = append([]domain.ReferenceAsset(nil), job.ReferenceAssets...)
	c.ProviderMetadata = cloneMap(job.ProviderMetadata)
	c.Error = cloneError(job.Error)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneError(e *domain.JobError) *domain.JobError {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func cloneStrPtr(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

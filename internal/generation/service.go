// Package generation orchestrates media generation jobs across provider
// adapters: submission with pre-flight billing checks, reconciliation of
// provider task state onto the canonical state machine, asset persistence,
// and credit debits on billable terminal transitions.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"mediagen/internal/assetpipe"
	"mediagen/internal/credit"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/providers"
)

const maxBatchQuantity = 8

// Options tunes the reconciliation driver.
type Options struct {
	// MaxAttempts bounds transient-error retries per job.
	MaxAttempts int
	// RetryBackoff is the base delay between transient retries; it grows
	// linearly with the attempt count.
	RetryBackoff time.Duration
	// MaxJobAge is the point past which a non-terminal job is swept into
	// failure with a timeout error.
	MaxJobAge time.Duration
	// BatchConcurrency bounds parallel units of a sync batch.
	BatchConcurrency int
}

func (o *Options) withDefaults() {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 5
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 10 * time.Second
	}
	if o.MaxJobAge <= 0 {
		o.MaxJobAge = 30 * time.Minute
	}
	if o.BatchConcurrency < 1 {
		o.BatchConcurrency = 4
	}
}

// SubmitParams is the caller-facing request for a new generation.
type SubmitParams struct {
	Provider        domain.ProviderKind
	Prompt          string
	NegativePrompt  string
	AspectRatio     string
	Seed            *int
	GuidanceScale   float64
	Quantity        int
	ReferenceAssets []domain.ReferenceAsset
}

// Service is the orchestrator's outbound surface. All operations are plain
// synchronous calls returning the current or updated job record.
type Service struct {
	jobs     domain.JobRepository
	credits  *credit.Service
	registry *providers.Registry
	pipeline *assetpipe.Pipeline
	logger   infra.Logger
	opts     Options

	// flight coalesces concurrent reconciliations of the same job so
	// duplicate polls share one provider query, one persistence run and
	// one debit.
	flight singleflight.Group
	now    func() time.Time
}

// NewService wires the orchestrator.
func NewService(
	jobs domain.JobRepository,
	credits *credit.Service,
	registry *providers.Registry,
	pipeline *assetpipe.Pipeline,
	logger infra.Logger,
	opts Options,
) *Service {
	opts.withDefaults()
	return &Service{
		jobs:     jobs,
		credits:  credits,
		registry: registry,
		pipeline: pipeline,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// SubmitGeneration estimates cost, verifies the owner's balance, submits to
// the provider and creates the job record. The balance check happens before
// any external call: an owner who cannot afford the estimate never reaches
// the provider.
func (s *Service) SubmitGeneration(ctx context.Context, ownerID string, params SubmitParams) (*domain.GenerationJob, error) {
	if strings.TrimSpace(params.Prompt) == "" {
		return nil, domain.ErrInvalidPrompt
	}
	adapter, err := s.registry.Get(params.Provider)
	if err != nil {
		return nil, err
	}

	quantity := params.Quantity
	if quantity < 1 {
		quantity = 1
	}
	if params.Provider != domain.ProviderSyncImage {
		quantity = 1
	}
	if quantity > maxBatchQuantity {
		quantity = maxBatchQuantity
	}
	params.Quantity = quantity

	estimate := s.credits.Estimate(params.Provider, "", quantity, params.AspectRatio)
	if err := s.credits.EnsureBalance(ctx, ownerID, estimate); err != nil {
		return nil, err
	}

	if params.Provider == domain.ProviderSyncImage && quantity > 1 {
		return s.submitBatch(ctx, ownerID, adapter, params, estimate)
	}
	return s.submitSingle(ctx, ownerID, adapter, params, estimate, nil)
}

// submitSingle creates one job and drives it through the adapter. For sync
// providers the submission response is already terminal and the job is
// persisted, finalized and billed inline.
func (s *Service) submitSingle(ctx context.Context, ownerID string, adapter providers.Adapter, params SubmitParams, estimate int, parentID *string) (*domain.GenerationJob, error) {
	job := s.newJob(ownerID, adapter, params, estimate)
	job.ParentJobID = parentID
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("generation: create job: %w", err)
	}

	result, err := adapter.Submit(ctx, providers.SubmitRequest{
		JobID:           job.ID,
		OwnerID:         ownerID,
		Prompt:          params.Prompt,
		NegativePrompt:  params.NegativePrompt,
		AspectRatio:     params.AspectRatio,
		Seed:            params.Seed,
		GuidanceScale:   params.GuidanceScale,
		ReferenceAssets: params.ReferenceAssets,
	})
	if err != nil {
		return s.failJob(ctx, job, s.translateSubmitError(adapter, err))
	}

	if adapter.Kind() == domain.ProviderSyncImage {
		// Inline result: the submission already carries the asset.
		return s.completeJob(ctx, job, result.Assets, job.EstimatedCredits)
	}

	job.ExternalTaskID = result.ExternalTaskID
	job.Status = providers.NormalizeStatus(s.logger, adapter.Kind(), result.RawStatus)
	if job.Status.Terminal() {
		// Providers answering submit with a terminal status skip polling.
		if job.Status == domain.JobStatusSucceeded {
			return s.completeJob(ctx, job, result.Assets, job.EstimatedCredits)
		}
		return s.failJob(ctx, job, domain.JobError{
			Kind:    domain.KindProviderPermanentError,
			Message: "provider rejected task at submission",
		})
	}
	job.ProviderMetadata = mergeMetadata(job.ProviderMetadata, result.Metadata)
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("generation: record external task: %w", err)
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("provider", string(job.Provider)).
		Str("external_task_id", job.ExternalTaskID).
		Msg("generation: job submitted")
	return s.jobs.GetByID(ctx, job.ID)
}

// submitBatch fans a sync request out into one unit job per item under a
// parent batch job. Units run with bounded concurrency and the parent is
// finalized, and billed for the succeeded units only, after every unit has
// reached a terminal outcome.
func (s *Service) submitBatch(ctx context.Context, ownerID string, adapter providers.Adapter, params SubmitParams, estimate int) (*domain.GenerationJob, error) {
	parent := s.newJob(ownerID, adapter, params, estimate)
	if err := s.jobs.Create(ctx, parent); err != nil {
		return nil, fmt.Errorf("generation: create batch job: %w", err)
	}

	unitParams := params
	unitParams.Quantity = 1
	perItem := s.credits.Pricing().PerItem(adapter.Kind(), params.AspectRatio)

	units := make([]*domain.GenerationJob, params.Quantity)
	g := new(errgroup.Group)
	g.SetLimit(s.opts.BatchConcurrency)
	for i := 0; i < params.Quantity; i++ {
		i := i
		g.Go(func() error {
			unit, err := s.submitSingle(ctx, ownerID, adapter, unitParams, perItem, &parent.ID)
			if err != nil {
				s.logger.Error().Err(err).Str("batch_id", parent.ID).Int("unit", i).
					Msg("generation: batch unit errored")
				return nil
			}
			units[i] = unit
			return nil
		})
	}
	// Billing aggregation waits for every unit to reach a terminal outcome.
	_ = g.Wait()

	var (
		assets    []domain.AssetRef
		succeeded int
		firstErr  *domain.JobError
	)
	for _, unit := range units {
		if unit == nil {
			continue
		}
		if unit.Status == domain.JobStatusSucceeded {
			succeeded++
			assets = append(assets, unit.Assets...)
		} else if firstErr == nil && unit.Error != nil {
			firstErr = unit.Error
		}
	}

	if succeeded == 0 {
		jobErr := domain.JobError{Kind: domain.KindProviderPermanentError, Message: "all batch units failed"}
		if firstErr != nil {
			jobErr = *firstErr
		}
		return s.failJob(ctx, parent, jobErr)
	}
	return s.finalizeSucceeded(ctx, parent, assets, perItem*succeeded)
}

// completeJob persists raw assets and finalizes a successful job. Unit jobs
// inside a batch are not billed individually; billing happens on the parent.
func (s *Service) completeJob(ctx context.Context, job *domain.GenerationJob, raws []providers.RawAsset, charge int) (*domain.GenerationJob, error) {
	if job.ParentJobID != nil && job.Provider == domain.ProviderSyncImage {
		charge = 0
	}
	if len(raws) == 0 {
		// A success report without a deliverable must not be billed.
		return s.failJob(ctx, job, domain.JobError{
			Kind:    domain.KindProviderPermanentError,
			Message: "provider reported success without any assets",
		})
	}
	refs, err := s.pipeline.Persist(ctx, job.OwnerID, raws)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("generation: asset persistence failed")
		// An unusable asset must never be billed, even though the
		// provider reported success.
		return s.failJob(ctx, job, domain.JobError{
			Kind:    domain.KindAssetPersistenceFailed,
			Message: err.Error(),
		})
	}
	return s.finalizeSucceeded(ctx, job, refs, charge)
}

// finalizeSucceeded performs the single-writer terminal transition and, if
// this writer won, the ledger debit. A loser reloads and returns the record
// the winner wrote, without re-running side effects.
func (s *Service) finalizeSucceeded(ctx context.Context, job *domain.GenerationJob, assets []domain.AssetRef, charge int) (*domain.GenerationJob, error) {
	job.Status = domain.JobStatusSucceeded
	job.ProgressPercent = 100
	job.Assets = assets
	job.Error = nil
	if charge > 0 {
		job.CreditsConsumed = charge
		job.Billed = true
	}
	if err := s.jobs.Finalize(ctx, job); err != nil {
		if errors.Is(err, domain.ErrDuplicateOperation) {
			return s.jobs.GetByID(ctx, job.ID)
		}
		return nil, fmt.Errorf("generation: finalize job: %w", err)
	}
	if charge > 0 {
		if _, err := s.credits.DebitJob(ctx, job.OwnerID, job.ID, charge, "generation:"+string(job.Provider)); err != nil {
			// The terminal record is already written; surface the debit
			// failure loudly but do not unwind the job.
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("generation: ledger debit failed")
		}
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("provider", string(job.Provider)).
		Int("assets", len(assets)).
		Int("credits", charge).
		Msg("generation: job succeeded")
	return s.jobs.GetByID(ctx, job.ID)
}

// failJob finalizes a job as failed. Failed jobs are never billed.
func (s *Service) failJob(ctx context.Context, job *domain.GenerationJob, jobErr domain.JobError) (*domain.GenerationJob, error) {
	job.Status = domain.JobStatusFailed
	job.Error = &jobErr
	job.CreditsConsumed = 0
	job.Billed = false
	if err := s.jobs.Finalize(ctx, job); err != nil {
		if errors.Is(err, domain.ErrDuplicateOperation) {
			return s.jobs.GetByID(ctx, job.ID)
		}
		return nil, fmt.Errorf("generation: finalize failed job: %w", err)
	}
	s.logger.Warn().
		Str("job_id", job.ID).
		Str("provider", string(job.Provider)).
		Str("error_kind", string(jobErr.Kind)).
		Str("error", jobErr.Message).
		Msg("generation: job failed")
	return s.jobs.GetByID(ctx, job.ID)
}

// QueryGeneration returns the job after advancing it through one
// reconciliation pass. Terminal jobs are returned unchanged; the call is
// idempotent and safe under concurrent duplicate polls.
func (s *Service) QueryGeneration(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	v, err, _ := s.flight.Do(jobID, func() (any, error) {
		return s.reconcile(ctx, jobID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.GenerationJob), nil
}

// ListGenerations returns the owner's jobs with optional filters applied.
// Soft-deleted records are hidden.
func (s *Service) ListGenerations(ctx context.Context, ownerID string, filter domain.ListFilter) ([]domain.GenerationJob, error) {
	return s.jobs.ListByOwner(ctx, ownerID, filter)
}

// PerformFollowUpAction spawns a new child job from a succeeded grid job.
// The parent is never mutated.
func (s *Service) PerformFollowUpAction(ctx context.Context, ownerID, jobID string, action domain.FollowUpAction, index int) (*domain.GenerationJob, error) {
	parent, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if parent.OwnerID != ownerID {
		return nil, domain.ErrUnauthorized
	}
	if parent.Provider != domain.ProviderGridAsyncImage {
		return nil, domain.ErrInvalidAction
	}
	if parent.Status != domain.JobStatusSucceeded {
		return nil, domain.ErrParentNotSucceeded
	}
	switch action {
	case domain.ActionUpscale, domain.ActionVariation:
		if index < 1 || index > 4 {
			return nil, domain.ErrInvalidAction
		}
	case domain.ActionReroll:
		index = 0
	default:
		return nil, domain.ErrInvalidAction
	}

	adapter, err := s.registry.Get(parent.Provider)
	if err != nil {
		return nil, err
	}
	estimate := s.credits.Estimate(parent.Provider, action, 1, parent.AspectRatio)
	if err := s.credits.EnsureBalance(ctx, ownerID, estimate); err != nil {
		return nil, err
	}

	child := s.newJob(ownerID, adapter, SubmitParams{
		Provider:      parent.Provider,
		Prompt:        parent.Prompt,
		AspectRatio:   parent.AspectRatio,
		GuidanceScale: parent.GuidanceScale,
		Quantity:      1,
	}, estimate)
	child.ParentJobID = &parent.ID
	child.ProviderMetadata = map[string]any{
		"action":       string(action),
		"action_index": index,
	}
	if err := s.jobs.Create(ctx, child); err != nil {
		return nil, fmt.Errorf("generation: create follow-up job: %w", err)
	}

	result, err := adapter.Submit(ctx, providers.SubmitRequest{
		JobID:                child.ID,
		OwnerID:              ownerID,
		Prompt:               parent.Prompt,
		AspectRatio:          parent.AspectRatio,
		Action:               action,
		ActionIndex:          index,
		ParentExternalTaskID: parent.ExternalTaskID,
	})
	if err != nil {
		return s.failJob(ctx, child, s.translateSubmitError(adapter, err))
	}
	child.ExternalTaskID = result.ExternalTaskID
	child.Status = providers.NormalizeStatus(s.logger, adapter.Kind(), result.RawStatus)
	if child.Status.Terminal() {
		child.Status = domain.JobStatusQueued
	}
	child.ProviderMetadata = mergeMetadata(child.ProviderMetadata, result.Metadata)
	if err := s.jobs.Update(ctx, child); err != nil {
		return nil, fmt.Errorf("generation: record follow-up task: %w", err)
	}
	return s.jobs.GetByID(ctx, child.ID)
}

// SetVisibility updates the owner-controlled public/favorite flags.
func (s *Service) SetVisibility(ctx context.Context, ownerID, jobID string, isPublic, isFavorite *bool) error {
	return s.jobs.SetVisibility(ctx, jobID, ownerID, isPublic, isFavorite)
}

// DeleteGeneration soft-deletes a job: it disappears from listings but is
// preserved for billing audit.
func (s *Service) DeleteGeneration(ctx context.Context, ownerID, jobID string) error {
	return s.jobs.SoftDelete(ctx, jobID, ownerID)
}

func (s *Service) newJob(ownerID string, adapter providers.Adapter, params SubmitParams, estimate int) *domain.GenerationJob {
	return &domain.GenerationJob{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		Provider:         adapter.Kind(),
		ProviderName:     adapter.Name(),
		Prompt:           strings.TrimSpace(params.Prompt),
		NegativePrompt:   strings.TrimSpace(params.NegativePrompt),
		AspectRatio:      strings.TrimSpace(params.AspectRatio),
		Seed:             params.Seed,
		GuidanceScale:    params.GuidanceScale,
		Quantity:         params.Quantity,
		ReferenceAssets:  params.ReferenceAssets,
		Status:           domain.JobStatusQueued,
		EstimatedCredits: estimate,
	}
}

// translateSubmitError routes a failed submission through the adapter's
// error translation when the raw provider failure is available.
func (s *Service) translateSubmitError(adapter providers.Adapter, err error) domain.JobError {
	if raw, ok := providers.AsRawError(err); ok {
		return adapter.TranslateError(raw)
	}
	if isTimeout(err) {
		return domain.JobError{Kind: domain.KindProviderTransientError, Message: err.Error()}
	}
	return domain.JobError{Kind: domain.KindProviderPermanentError, Message: err.Error()}
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}

package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

// reconcile advances one job through a single poll cycle. It is the only
// code path that moves an asynchronous job toward a terminal state, so
// every caller (user polls, the sweeper, batch recovery) observes the same
// transition rules.
func (s *Service) reconcile(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	if age := s.now().Sub(job.CreatedAt); age > s.opts.MaxJobAge {
		return s.failJob(ctx, job, domain.JobError{
			Kind:    domain.KindProviderTransientError,
			Message: fmt.Sprintf("job exceeded maximum age of %s without completing", s.opts.MaxJobAge),
		})
	}

	if job.NextRetryAt != nil && s.now().Before(*job.NextRetryAt) {
		return job, nil
	}

	// A sync batch parent holds no external task; its outcome is the
	// aggregate of its units. Normally the parent is finalized inline at
	// submission, so reaching this path means a crash interrupted the
	// batch and the units carry whatever terminal state they reached.
	if job.Provider == domain.ProviderSyncImage && job.ExternalTaskID == "" && job.Quantity > 1 {
		return s.reconcileBatchParent(ctx, job)
	}

	adapter, err := s.registry.Get(job.Provider)
	if err != nil {
		return nil, err
	}

	result, err := adapter.Query(ctx, job.ExternalTaskID)
	if err != nil {
		if errors.Is(err, providers.ErrQueryUnsupported) {
			// Synchronous jobs finish at submission; a non-terminal one
			// here lost its result to a crash.
			return s.failJob(ctx, job, domain.JobError{
				Kind:    domain.KindProviderTransientError,
				Message: "synchronous job interrupted before completion",
			})
		}
		return s.handleQueryFailure(ctx, job, adapter, err)
	}

	status := providers.NormalizeStatus(s.logger, job.Provider, result.RawStatus)
	switch {
	case status == domain.JobStatusSucceeded:
		return s.completeJob(ctx, job, result.Assets, job.EstimatedCredits)
	case status == domain.JobStatusFailed:
		jobErr := domain.JobError{
			Kind:    domain.KindProviderPermanentError,
			Message: "provider reported failure without detail",
		}
		if result.RawError != nil {
			jobErr = adapter.TranslateError(*result.RawError)
		}
		return s.failJob(ctx, job, jobErr)
	default:
		// Providers may echo a stale raw status (a "submitted" after a
		// "processing"); the state machine never moves backwards.
		if status != job.Status && job.CanTransitionTo(status) {
			job.Status = status
		}
		if result.Progress >= 0 {
			job.AdvanceProgress(result.Progress)
		}
		job.ProviderMetadata = mergeMetadata(job.ProviderMetadata, result.Metadata)
		job.NextRetryAt = nil
		job.Attempts = 0
		if err := s.jobs.Update(ctx, job); err != nil {
			return nil, fmt.Errorf("generation: update job progress: %w", err)
		}
		return s.jobs.GetByID(ctx, job.ID)
	}
}

// handleQueryFailure applies the retry policy to a failed provider poll.
// Transient failures back off and retry; anything else, or exhausting the
// attempt budget, fails the job.
func (s *Service) handleQueryFailure(ctx context.Context, job *domain.GenerationJob, adapter providers.Adapter, err error) (*domain.GenerationJob, error) {
	jobErr := domain.JobError{Kind: domain.KindProviderTransientError, Message: err.Error()}
	if raw, ok := providers.AsRawError(err); ok {
		jobErr = adapter.TranslateError(raw)
	} else if !isTimeout(err) && !errors.Is(err, context.Canceled) {
		jobErr = domain.JobError{Kind: domain.KindProviderPermanentError, Message: err.Error()}
	}

	if jobErr.Kind.Retryable() && job.Attempts+1 < s.opts.MaxAttempts {
		job.Attempts++
		retryAt := s.now().Add(s.opts.RetryBackoff * time.Duration(job.Attempts))
		job.NextRetryAt = &retryAt
		if uerr := s.jobs.Update(ctx, job); uerr != nil {
			return nil, fmt.Errorf("generation: schedule retry: %w", uerr)
		}
		s.logger.Warn().
			Str("job_id", job.ID).
			Int("attempt", job.Attempts).
			Time("next_retry_at", retryAt).
			Err(err).
			Msg("generation: provider query failed, will retry")
		return s.jobs.GetByID(ctx, job.ID)
	}
	if jobErr.Kind.Retryable() {
		jobErr.Message = fmt.Sprintf("retries exhausted after %d attempts: %s", s.opts.MaxAttempts, jobErr.Message)
	}
	return s.failJob(ctx, job, jobErr)
}

// reconcileBatchParent settles a batch parent from its units' terminal
// states. Units still in flight keep the parent open.
func (s *Service) reconcileBatchParent(ctx context.Context, parent *domain.GenerationJob) (*domain.GenerationJob, error) {
	units, err := s.jobs.ListByParent(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("generation: list batch units: %w", err)
	}
	// Billing aggregates over all units, so the batch stays open until every
	// unit record exists. Batches whose missing units never appear are
	// settled by the age check.
	if len(units) < parent.Quantity {
		return parent, nil
	}

	var (
		assets    []domain.AssetRef
		succeeded int
		firstErr  *domain.JobError
	)
	for _, unit := range units {
		if !unit.Status.Terminal() {
			return parent, nil
		}
		if unit.Status == domain.JobStatusSucceeded {
			succeeded++
			assets = append(assets, unit.Assets...)
		} else if firstErr == nil && unit.Error != nil {
			e := *unit.Error
			firstErr = &e
		}
	}

	if succeeded == 0 {
		jobErr := domain.JobError{Kind: domain.KindProviderPermanentError, Message: "all batch units failed"}
		if firstErr != nil {
			jobErr = *firstErr
		}
		return s.failJob(ctx, parent, jobErr)
	}
	perItem := s.credits.Pricing().PerItem(parent.Provider, parent.AspectRatio)
	return s.finalizeSucceeded(ctx, parent, assets, perItem*succeeded)
}

// SweepStale reconciles every non-terminal job whose last update is older
// than the staleness cutoff. It is the safety net behind user polling: jobs
// nobody asks about still time out, retry and settle.
func (s *Service) SweepStale(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-staleAfter)
	jobs, err := s.jobs.ListStale(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("generation: list stale jobs: %w", err)
	}
	swept := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		if _, err := s.QueryGeneration(ctx, job.ID); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("generation: sweep reconcile failed")
			continue
		}
		swept++
	}
	return swept, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

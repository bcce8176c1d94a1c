package domain

import (
	"context"
	"time"
)

// ListFilter narrows ListByOwner results. Nil pointers mean "any".
type ListFilter struct {
	Status       *JobStatus
	Provider     *ProviderKind
	OnlyFavorite bool
	OnlyPublic   bool
	Limit        int
}

// JobRepository defines persistence for generation jobs.
type JobRepository interface {
	Create(ctx context.Context, job *GenerationJob) error
	GetByID(ctx context.Context, jobID string) (*GenerationJob, error)
	// Update persists mutable non-terminal fields (progress, attempts,
	// external linkage, metadata). It must not be used to cross into a
	// terminal state.
	Update(ctx context.Context, job *GenerationJob) error
	// Finalize writes the terminal form of the job in a single atomic
	// operation, guarded on the stored status still being non-terminal.
	// A concurrent writer that lost the race gets ErrDuplicateOperation.
	Finalize(ctx context.Context, job *GenerationJob) error
	SetVisibility(ctx context.Context, jobID, ownerID string, isPublic, isFavorite *bool) error
	SoftDelete(ctx context.Context, jobID, ownerID string) error
	ListByOwner(ctx context.Context, ownerID string, filter ListFilter) ([]GenerationJob, error)
	ListByParent(ctx context.Context, parentJobID string) ([]GenerationJob, error)
	// ListStale returns non-terminal jobs not updated since the cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]GenerationJob, error)
}

// LedgerRepository appends credit movements and derives balances.
type LedgerRepository interface {
	// Append atomically computes BalanceAfter from the current sum of
	// deltas and inserts the entry. A negative delta that would drive the
	// balance below zero fails with ErrInsufficientCredits.
	Append(ctx context.Context, ownerID string, delta int, reason, jobID string) (*LedgerEntry, error)
	Balance(ctx context.Context, ownerID string) (int, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]LedgerEntry, error)
}

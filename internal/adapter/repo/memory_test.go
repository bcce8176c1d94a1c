package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"mediagen/internal/domain"
)

func seedJob(t *testing.T, r *MemoryJobRepository, id string, status domain.JobStatus) *domain.GenerationJob {
	t.Helper()
	job := &domain.GenerationJob{
		ID:       id,
		OwnerID:  "owner",
		Provider: domain.ProviderAsyncVideo,
		Status:   status,
	}
	if err := r.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}
	return job
}

func TestFinalizeIsSingleWriter(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()
	job := seedJob(t, r, "job-1", domain.JobStatusRunning)

	first := *job
	first.Status = domain.JobStatusSucceeded
	first.CreditsConsumed = 20
	first.Billed = true
	if err := r.Finalize(ctx, &first); err != nil {
		t.Fatalf("first finalize: %v", err)
	}

	second := *job
	second.Status = domain.JobStatusFailed
	if err := r.Finalize(ctx, &second); !errors.Is(err, domain.ErrDuplicateOperation) {
		t.Fatalf("second finalize = %v, want duplicate operation", err)
	}

	stored, err := r.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want the winner's succeeded", stored.Status)
	}
	if !stored.Billed || stored.CreditsConsumed != 20 {
		t.Fatalf("billing = (%v, %d), want winner's values preserved", stored.Billed, stored.CreditsConsumed)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("completed at not set")
	}
}

func TestUpdateCannotResurrectTerminalJob(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()
	job := seedJob(t, r, "job-1", domain.JobStatusRunning)

	terminal := *job
	terminal.Status = domain.JobStatusFailed
	terminal.Error = &domain.JobError{Kind: domain.KindProviderPermanentError, Message: "done"}
	if err := r.Finalize(ctx, &terminal); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	late := *job
	late.Status = domain.JobStatusRunning
	late.ProgressPercent = 55
	if err := r.Update(ctx, &late); err != nil {
		t.Fatalf("update: %v", err)
	}

	stored, _ := r.GetByID(ctx, "job-1")
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, late update must not resurrect the job", stored.Status)
	}
	if stored.ProgressPercent == 55 {
		t.Fatalf("late progress landed on terminal job")
	}
}

func TestGetByIDClonesRecords(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()
	seedJob(t, r, "job-1", domain.JobStatusQueued)

	got, err := r.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Status = domain.JobStatusFailed
	got.ProviderMetadata = map[string]any{"mutated": true}

	fresh, _ := r.GetByID(ctx, "job-1")
	if fresh.Status != domain.JobStatusQueued {
		t.Fatalf("stored record mutated through returned clone")
	}
}

func TestListStaleSkipsTerminalAndFreshJobs(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()
	seedJob(t, r, "stale-running", domain.JobStatusRunning)
	done := seedJob(t, r, "done", domain.JobStatusRunning)
	terminal := *done
	terminal.Status = domain.JobStatusSucceeded
	if err := r.Finalize(ctx, &terminal); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	cutoff := time.Now().Add(time.Second)
	stale, err := r.ListStale(ctx, cutoff, 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "stale-running" {
		t.Fatalf("stale = %+v, want only the non-terminal job", stale)
	}

	fresh, err := r.ListStale(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("fresh = %d, want none before cutoff", len(fresh))
	}
}

func TestLedgerAppendDerivesBalance(t *testing.T) {
	r := NewMemoryLedgerRepository()
	ctx := context.Background()

	if _, err := r.Append(ctx, "owner", 10, "topup", ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	entry, err := r.Append(ctx, "owner", -4, "generation", "job-1")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.BalanceAfter != 6 {
		t.Fatalf("balance after = %d, want 6", entry.BalanceAfter)
	}
	if _, err := r.Append(ctx, "owner", -7, "generation", "job-2"); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("overdraft = %v, want insufficient credits", err)
	}
	balance, _ := r.Balance(ctx, "owner")
	if balance != 6 {
		t.Fatalf("balance = %d, want 6", balance)
	}
}

package credit

import (
	"context"
	"errors"
	"testing"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

func newTestService(t *testing.T) (*Service, *repo.MemoryLedgerRepository) {
	t.Helper()
	ledger := repo.NewMemoryLedgerRepository()
	return NewService(ledger, DefaultPricing(), infra.NopLogger()), ledger
}

func TestEstimateSyncImageScalesWithQuantity(t *testing.T) {
	p := DefaultPricing()
	if got := p.Estimate(domain.ProviderSyncImage, "", 4, "1:1"); got != 4 {
		t.Fatalf("estimate = %d, want 4", got)
	}
	if got := p.Estimate(domain.ProviderSyncImage, "", 0, "1:1"); got != 1 {
		t.Fatalf("estimate with zero quantity = %d, want 1", got)
	}
}

func TestEstimateAsyncIgnoresQuantity(t *testing.T) {
	p := DefaultPricing()
	if got := p.Estimate(domain.ProviderGridAsyncImage, "", 4, "1:1"); got != p.GridImageCost {
		t.Fatalf("grid estimate = %d, want %d", got, p.GridImageCost)
	}
	if got := p.Estimate(domain.ProviderAsyncVideo, "", 3, "1:1"); got != p.VideoCost {
		t.Fatalf("video estimate = %d, want %d", got, p.VideoCost)
	}
}

func TestEstimateWideAspectMultiplier(t *testing.T) {
	p := DefaultPricing()
	if got := p.Estimate(domain.ProviderAsyncVideo, "", 1, "16:9"); got != p.VideoCost*p.WideMultiplier {
		t.Fatalf("wide video estimate = %d, want %d", got, p.VideoCost*p.WideMultiplier)
	}
	if got := p.Estimate(domain.ProviderSyncImage, "", 2, "9:16"); got != 2*p.SyncImagePerItem*p.WideMultiplier {
		t.Fatalf("wide sync estimate = %d, want %d", got, 2*p.SyncImagePerItem*p.WideMultiplier)
	}
}

func TestEstimateFollowUpActionFlatCost(t *testing.T) {
	p := DefaultPricing()
	if got := p.Estimate(domain.ProviderGridAsyncImage, domain.ActionUpscale, 4, "1:1"); got != p.GridActionCost {
		t.Fatalf("action estimate = %d, want %d", got, p.GridActionCost)
	}
}

func TestEnsureBalanceRejectsUnderfundedOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Grant(ctx, "owner", 3, "signup"); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if err := svc.EnsureBalance(ctx, "owner", 3); err != nil {
		t.Fatalf("EnsureBalance(3) = %v, want nil", err)
	}
	if err := svc.EnsureBalance(ctx, "owner", 4); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("EnsureBalance(4) = %v, want insufficient credits", err)
	}
}

func TestDebitJobAppendsNegativeEntry(t *testing.T) {
	svc, ledger := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Grant(ctx, "owner", 10, "topup"); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	entry, err := svc.DebitJob(ctx, "owner", "job-1", 4, "generation:grid-async-image")
	if err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if entry.Delta != -4 {
		t.Fatalf("delta = %d, want -4", entry.Delta)
	}
	if entry.BalanceAfter != 6 {
		t.Fatalf("balance after = %d, want 6", entry.BalanceAfter)
	}
	if entry.JobID != "job-1" {
		t.Fatalf("job id = %q, want job-1", entry.JobID)
	}

	balance, err := ledger.Balance(ctx, "owner")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance != 6 {
		t.Fatalf("derived balance = %d, want 6", balance)
	}
}

func TestDebitJobCannotDriveBalanceNegative(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Grant(ctx, "owner", 2, "topup"); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if _, err := svc.DebitJob(ctx, "owner", "job-1", 5, "generation:async-video"); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("debit = %v, want insufficient credits", err)
	}
	balance, _ := svc.Balance(ctx, "owner")
	if balance != 2 {
		t.Fatalf("balance = %d, want untouched 2", balance)
	}
}

func TestDebitJobRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.DebitJob(context.Background(), "owner", "job-1", 0, "noop"); err == nil {
		t.Fatalf("expected error for zero debit")
	}
}

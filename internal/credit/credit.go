// Package credit computes generation costs and reconciles them against an
// append-only credit ledger. Balances are always derived from the sum of
// ledger deltas so billing stays independently auditable.
package credit

import (
	"context"
	"fmt"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// Pricing holds per-provider credit costs. Cost is a pure function of the
// request parameters so estimates are reproducible.
type Pricing struct {
	SyncImagePerItem int
	GridImageCost    int
	GridActionCost   int
	VideoCost        int
	// WideMultiplier applies to non-square aspect ratios, which render at
	// a larger pixel budget.
	WideMultiplier int
}

// DefaultPricing returns the standard credit schedule.
func DefaultPricing() Pricing {
	return Pricing{
		SyncImagePerItem: 1,
		GridImageCost:    4,
		GridActionCost:   2,
		VideoCost:        20,
		WideMultiplier:   2,
	}
}

// sizeTier returns the cost multiplier for an aspect ratio.
func (p Pricing) sizeTier(aspectRatio string) int {
	switch aspectRatio {
	case "16:9", "9:16", "21:9":
		if p.WideMultiplier > 0 {
			return p.WideMultiplier
		}
	}
	return 1
}

// PerItem returns the cost of a single produced unit for the provider kind.
func (p Pricing) PerItem(kind domain.ProviderKind, aspectRatio string) int {
	tier := p.sizeTier(aspectRatio)
	switch kind {
	case domain.ProviderSyncImage:
		return p.SyncImagePerItem * tier
	case domain.ProviderGridAsyncImage:
		return p.GridImageCost * tier
	case domain.ProviderAsyncVideo:
		return p.VideoCost * tier
	}
	return 0
}

// Estimate computes the pre-submission cost of a request.
func (p Pricing) Estimate(kind domain.ProviderKind, action domain.FollowUpAction, quantity int, aspectRatio string) int {
	if quantity < 1 {
		quantity = 1
	}
	if action != "" {
		return p.GridActionCost * p.sizeTier(aspectRatio)
	}
	switch kind {
	case domain.ProviderSyncImage:
		return p.PerItem(kind, aspectRatio) * quantity
	default:
		// Async providers are not batchable; quantity is fixed at one.
		return p.PerItem(kind, aspectRatio)
	}
}

// Service exposes balance checks and debits over the ledger repository.
type Service struct {
	ledger  domain.LedgerRepository
	pricing Pricing
	logger  infra.Logger
}

// NewService wires the credit service.
func NewService(ledger domain.LedgerRepository, pricing Pricing, logger infra.Logger) *Service {
	return &Service{ledger: ledger, pricing: pricing, logger: logger}
}

// Pricing exposes the configured schedule.
func (s *Service) Pricing() Pricing {
	return s.pricing
}

// Estimate computes the deterministic pre-submission cost.
func (s *Service) Estimate(kind domain.ProviderKind, action domain.FollowUpAction, quantity int, aspectRatio string) int {
	return s.pricing.Estimate(kind, action, quantity, aspectRatio)
}

// EnsureBalance verifies the owner can afford the estimate. Called before
// any external provider call is made.
func (s *Service) EnsureBalance(ctx context.Context, ownerID string, credits int) error {
	balance, err := s.ledger.Balance(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("credit: load balance: %w", err)
	}
	if balance < credits {
		return domain.ErrInsufficientCredits
	}
	return nil
}

// DebitJob appends the debit entry for a billable terminal transition.
func (s *Service) DebitJob(ctx context.Context, ownerID, jobID string, credits int, reason string) (*domain.LedgerEntry, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("credit: debit amount must be positive, got %d", credits)
	}
	entry, err := s.ledger.Append(ctx, ownerID, -credits, reason, jobID)
	if err != nil {
		return nil, fmt.Errorf("credit: debit: %w", err)
	}
	s.logger.Info().
		Str("owner_id", ownerID).
		Str("job_id", jobID).
		Int("credits", credits).
		Int("balance_after", entry.BalanceAfter).
		Msg("credit: debited")
	return entry, nil
}

// Grant appends a credit top-up entry.
func (s *Service) Grant(ctx context.Context, ownerID string, credits int, reason string) (*domain.LedgerEntry, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("credit: grant amount must be positive, got %d", credits)
	}
	entry, err := s.ledger.Append(ctx, ownerID, credits, reason, "")
	if err != nil {
		return nil, fmt.Errorf("credit: grant: %w", err)
	}
	return entry, nil
}

// Balance returns the owner's current balance, derived from the ledger.
func (s *Service) Balance(ctx context.Context, ownerID string) (int, error) {
	return s.ledger.Balance(ctx, ownerID)
}

package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/domain"
)

// LedgerRepositoryPG implements domain.LedgerRepository on PostgreSQL.
// Entries are append-only; the balance is always derived from the sum of
// deltas and never stored as mutable state.
type LedgerRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new ledger repository backed by PostgreSQL.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{pool: pool}
}

// Append computes BalanceAfter under a per-owner advisory lock and inserts
// the entry in the same transaction, so concurrent movements for one owner
// serialize and the running balance stays consistent.
func (r *LedgerRepositoryPG) Append(ctx context.Context, ownerID string, delta int, reason, jobID string) (*domain.LedgerEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1));`, ownerID); err != nil {
		return nil, fmt.Errorf("ledger: acquire owner lock: %w", err)
	}

	var balance int
	if err := tx.QueryRow(ctx, `
SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE owner_id = $1;
`, ownerID).Scan(&balance); err != nil {
		return nil, fmt.Errorf("ledger: sum deltas: %w", err)
	}

	after := balance + delta
	if after < 0 {
		return nil, domain.ErrInsufficientCredits
	}

	entry := &domain.LedgerEntry{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Delta:        delta,
		BalanceAfter: after,
		Reason:       reason,
		JobID:        jobID,
	}
	if err := tx.QueryRow(ctx, `
INSERT INTO credit_ledger (id, owner_id, delta, balance_after, reason, job_id)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
RETURNING created_at;
`, entry.ID, entry.OwnerID, entry.Delta, entry.BalanceAfter, entry.Reason, entry.JobID).Scan(&entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("ledger: insert entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// Balance returns the sum of deltas for the owner.
func (r *LedgerRepositoryPG) Balance(ctx context.Context, ownerID string) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE owner_id = $1;
`, ownerID).Scan(&balance)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ListByOwner returns the owner's entries, newest first.
func (r *LedgerRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, owner_id, delta, balance_after, reason, COALESCE(job_id::text, ''), created_at
FROM credit_ledger
WHERE owner_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Delta, &e.BalanceAfter, &e.Reason, &e.JobID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

var _ domain.LedgerRepository = (*LedgerRepositoryPG)(nil)

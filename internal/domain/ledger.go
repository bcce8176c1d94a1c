package domain

import "time"

// LedgerEntry is one append-only credit movement. The current balance for an
// owner is always the sum of deltas; entries are never mutated or deleted.
type LedgerEntry struct {
	ID           string
	OwnerID      string
	Delta        int
	BalanceAfter int
	Reason       string
	JobID        string
	CreatedAt    time.Time
}

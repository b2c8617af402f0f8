// Package billing charges accounts for completed work. Debits are keyed by
// job ID and applied at most once, no matter how many times a terminal event
// is observed.
package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyDebited reports that a debit for the job ID was already
	// applied. Callers treat it as a benign duplicate, not a failure.
	ErrAlreadyDebited = errors.New("job already debited")
	// ErrInsufficientBalance reports a rejected debit when the pre-check is
	// enabled. With the pre-check off, balances may go negative.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAccountNotFound reports an unknown account.
	ErrAccountNotFound = errors.New("account not found")
)

// Debit is one charge request, keyed by JobID for idempotency. RootID points
// at the owning crawl root (equal to JobID for standalone jobs) so the
// ledger can roll child spend up onto the root record.
type Debit struct {
	AccountID uuid.UUID
	JobID     uuid.UUID
	RootID    uuid.UUID
	Amount    int64
}

// Ledger applies debits exactly once per job ID and answers balance reads.
// Implementations atomically couple the balance change, the dedup record,
// the job's credits_used write, and the root roll-up.
type Ledger interface {
	// Debit charges req.Amount and returns the resulting balance. A repeat
	// of the same JobID fails with ErrAlreadyDebited and changes nothing.
	Debit(ctx context.Context, req Debit) (int64, error)
	// Balance returns the current credit balance for an account.
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
}

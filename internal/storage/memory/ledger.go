package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackronrau/AnyCrawl-sub001/internal/billing"
)

type debitRecord struct {
	accountID uuid.UUID
	amount    int64
	at        time.Time
}

// Ledger is a mutex-guarded billing.Ledger. The balance change and the
// per-job dedup record are applied under one lock, giving the same
// at-most-once guarantee as the postgres transaction.
type Ledger struct {
	mu             sync.Mutex
	balances       map[uuid.UUID]int64
	debits         map[uuid.UUID]debitRecord
	jobs           *JobStore
	requireBalance bool
}

// NewLedger constructs a Ledger. The job store reference lets debits write
// credits_used on the job and its root the way the postgres ledger does
// inside one transaction.
func NewLedger(jobs *JobStore, requireBalance bool) *Ledger {
	return &Ledger{
		balances:       make(map[uuid.UUID]int64),
		debits:         make(map[uuid.UUID]debitRecord),
		jobs:           jobs,
		requireBalance: requireBalance,
	}
}

// CreateAccount seeds an account balance. Existing accounts are left alone.
func (l *Ledger) CreateAccount(accountID uuid.UUID, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[accountID]; !ok {
		l.balances[accountID] = balance
	}
}

// Debit applies the charge at most once per job ID and returns the new
// balance. Without the balance pre-check the account may go negative.
func (l *Ledger) Debit(ctx context.Context, req billing.Debit) (int64, error) {
	l.mu.Lock()
	balance, ok := l.balances[req.AccountID]
	if !ok {
		l.mu.Unlock()
		return 0, fmt.Errorf("account %s: %w", req.AccountID, billing.ErrAccountNotFound)
	}
	if _, dup := l.debits[req.JobID]; dup {
		l.mu.Unlock()
		return 0, fmt.Errorf("job %s: %w", req.JobID, billing.ErrAlreadyDebited)
	}
	if l.requireBalance && balance < req.Amount {
		l.mu.Unlock()
		return 0, fmt.Errorf("account %s has %d credits, need %d: %w",
			req.AccountID, balance, req.Amount, billing.ErrInsufficientBalance)
	}
	balance -= req.Amount
	l.balances[req.AccountID] = balance
	l.debits[req.JobID] = debitRecord{
		accountID: req.AccountID,
		amount:    req.Amount,
		at:        time.Now().UTC(),
	}
	l.mu.Unlock()

	if l.jobs != nil {
		if err := l.jobs.AddCreditsUsed(ctx, req.JobID, req.Amount); err != nil {
			return balance, fmt.Errorf("record job credits: %w", err)
		}
		if req.RootID != uuid.Nil && req.RootID != req.JobID {
			if err := l.jobs.AddCreditsUsed(ctx, req.RootID, req.Amount); err != nil {
				return balance, fmt.Errorf("record root credits: %w", err)
			}
		}
	}
	return balance, nil
}

// Balance returns the account's current credits.
func (l *Ledger) Balance(_ context.Context, accountID uuid.UUID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[accountID]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", accountID, billing.ErrAccountNotFound)
	}
	return balance, nil
}

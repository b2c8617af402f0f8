package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jackronrau/AnyCrawl-sub001/internal/billing"
)

// Ledger implements billing.Ledger on Postgres. One transaction couples the
// dedup insert, the balance update and the credits_used roll-ups, so a debit
// either lands whole or not at all.
type Ledger struct {
	db             Querier
	requireBalance bool
}

// NewLedger constructs a Ledger on an existing pool. With requireBalance set,
// debits that would push an account negative fail instead.
func NewLedger(db Querier, requireBalance bool) *Ledger {
	return &Ledger{db: db, requireBalance: requireBalance}
}

// EnsureAccount seeds an account balance. Existing accounts are left alone.
func (l *Ledger) EnsureAccount(ctx context.Context, accountID uuid.UUID, balance int64) error {
	_, err := l.db.Exec(ctx,
		`INSERT INTO accounts (id, balance) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING;`,
		accountID, balance,
	)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

// Debit applies the charge at most once per job ID and returns the new
// balance. The conflict target on credit_debits.job_id is what makes repeats
// of the same job a no-op.
func (l *Ledger) Debit(ctx context.Context, req billing.Debit) (int64, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin debit: %w", err)
	}

	balance, err := l.debitTx(ctx, tx, req)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit debit: %w", err)
	}
	return balance, nil
}

func (l *Ledger) debitTx(ctx context.Context, tx pgx.Tx, req billing.Debit) (int64, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO credit_debits (job_id, account_id, root_id, amount)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (job_id) DO NOTHING;`,
		req.JobID, req.AccountID, req.RootID, req.Amount,
	)
	if err != nil {
		return 0, fmt.Errorf("record debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("job %s: %w", req.JobID, billing.ErrAlreadyDebited)
	}

	update := `UPDATE accounts SET balance = balance - $2 WHERE id = $1 RETURNING balance;`
	if l.requireBalance {
		update = `UPDATE accounts SET balance = balance - $2 WHERE id = $1 AND balance >= $2 RETURNING balance;`
	}
	var balance int64
	if err := tx.QueryRow(ctx, update, req.AccountID, req.Amount).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, l.explainBalanceFailure(ctx, tx, req)
		}
		return 0, fmt.Errorf("debit balance: %w", err)
	}

	addCredits := `UPDATE jobs SET credits_used = credits_used + $2, updated_at = now() WHERE id = $1;`
	if _, err := tx.Exec(ctx, addCredits, req.JobID, req.Amount); err != nil {
		return 0, fmt.Errorf("record job credits: %w", err)
	}
	if req.RootID != uuid.Nil && req.RootID != req.JobID {
		if _, err := tx.Exec(ctx, addCredits, req.RootID, req.Amount); err != nil {
			return 0, fmt.Errorf("record root credits: %w", err)
		}
	}
	return balance, nil
}

// explainBalanceFailure distinguishes a missing account from one that failed
// the balance pre-check.
func (l *Ledger) explainBalanceFailure(ctx context.Context, tx pgx.Tx, req billing.Debit) error {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1;`, req.AccountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("account %s: %w", req.AccountID, billing.ErrAccountNotFound)
	}
	if err != nil {
		return fmt.Errorf("inspect balance: %w", err)
	}
	return fmt.Errorf("account %s has %d credits, need %d: %w",
		req.AccountID, balance, req.Amount, billing.ErrInsufficientBalance)
}

// Balance returns the account's current credits.
func (l *Ledger) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := l.db.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1;`, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("account %s: %w", accountID, billing.ErrAccountNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jackronrau/AnyCrawl-sub001/internal/billing"
	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

func TestLedgerDebitOnce(t *testing.T) {
	t.Parallel()

	jobs := NewJobStore()
	ledger := NewLedger(jobs, false)
	accountID := uuid.New()
	ledger.CreateAccount(accountID, 10)

	ctx := context.Background()
	jobID := uuid.New()
	require.NoError(t, jobs.CreateJob(ctx, job.Job{ID: jobID, Status: job.StatusRunning}))

	req := billing.Debit{AccountID: accountID, JobID: jobID, RootID: jobID, Amount: 3}
	balance, err := ledger.Debit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(7), balance)

	_, err = ledger.Debit(ctx, req)
	require.ErrorIs(t, err, billing.ErrAlreadyDebited)

	balance, err = ledger.Balance(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(7), balance)

	j, err := jobs.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, int64(3), j.CreditsUsed)
}

// TestLedgerConcurrentDebits hammers one job ID from many goroutines and
// asserts exactly one debit lands.
func TestLedgerConcurrentDebits(t *testing.T) {
	t.Parallel()

	jobs := NewJobStore()
	ledger := NewLedger(jobs, false)
	accountID := uuid.New()
	ledger.CreateAccount(accountID, 100)

	ctx := context.Background()
	jobID := uuid.New()
	require.NoError(t, jobs.CreateJob(ctx, job.Job{ID: jobID, Status: job.StatusRunning}))

	const workers = 32
	var wg sync.WaitGroup
	var successes, duplicates int
	var mu sync.Mutex
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Debit(ctx, billing.Debit{
				AccountID: accountID, JobID: jobID, RootID: jobID, Amount: 1,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			default:
				require.ErrorIs(t, err, billing.ErrAlreadyDebited)
				duplicates++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, workers-1, duplicates)

	balance, err := ledger.Balance(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(99), balance)
}

func TestLedgerNegativeBalanceAllowed(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(nil, false)
	accountID := uuid.New()
	ledger.CreateAccount(accountID, 1)

	ctx := context.Background()
	balance, err := ledger.Debit(ctx, billing.Debit{
		AccountID: accountID, JobID: uuid.New(), Amount: 5,
	})
	require.NoError(t, err)
	require.Equal(t, int64(-4), balance)
}

func TestLedgerRequireBalance(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(nil, true)
	accountID := uuid.New()
	ledger.CreateAccount(accountID, 2)

	ctx := context.Background()
	_, err := ledger.Debit(ctx, billing.Debit{
		AccountID: accountID, JobID: uuid.New(), Amount: 5,
	})
	require.ErrorIs(t, err, billing.ErrInsufficientBalance)

	// The rejected debit is not recorded; a later affordable one for the
	// same job would still apply.
	balance, err := ledger.Balance(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(2), balance)
}

func TestLedgerRollsUpToRoot(t *testing.T) {
	t.Parallel()

	jobs := NewJobStore()
	ledger := NewLedger(jobs, false)
	accountID := uuid.New()
	ledger.CreateAccount(accountID, 50)

	ctx := context.Background()
	rootID := uuid.New()
	childID := uuid.New()
	require.NoError(t, jobs.CreateJob(ctx, job.Job{ID: rootID, Kind: job.KindCrawl, Status: job.StatusRunning}))
	require.NoError(t, jobs.CreateJob(ctx, job.Job{ID: childID, Kind: job.KindCrawlPage, Status: job.StatusRunning}))

	_, err := ledger.Debit(ctx, billing.Debit{
		AccountID: accountID, JobID: childID, RootID: rootID, Amount: 2,
	})
	require.NoError(t, err)

	child, err := jobs.GetJob(ctx, childID)
	require.NoError(t, err)
	require.Equal(t, int64(2), child.CreditsUsed)

	root, err := jobs.GetJob(ctx, rootID)
	require.NoError(t, err)
	require.Equal(t, int64(2), root.CreditsUsed)
}

func TestLedgerUnknownAccount(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(nil, false)
	_, err := ledger.Debit(context.Background(), billing.Debit{
		AccountID: uuid.New(), JobID: uuid.New(), Amount: 1,
	})
	require.ErrorIs(t, err, billing.ErrAccountNotFound)
}

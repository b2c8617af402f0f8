package billing

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/events"
	"github.com/jackronrau/AnyCrawl-sub001/internal/metrics"
)

// Biller consumes terminal events and turns billable ones into ledger
// debits. It runs as an event-hub sink, decoupled from the job lifecycle:
// billing failures are logged and never roll back a completed job.
type Biller struct {
	ledger Ledger
	logger *zap.Logger
}

// NewBiller constructs a Biller over the given ledger.
func NewBiller(ledger Ledger, logger *zap.Logger) *Biller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Biller{ledger: ledger, logger: logger}
}

// Consume debits each billable event. Per-event errors are handled here and
// never propagate, so one bad debit cannot block the rest of the batch.
func (b *Biller) Consume(ctx context.Context, batch []events.Event) error {
	for _, evt := range batch {
		if !evt.Billable() {
			continue
		}
		balance, err := b.ledger.Debit(ctx, Debit{
			AccountID: evt.AccountID,
			JobID:     evt.JobID,
			RootID:    evt.RootID,
			Amount:    evt.Credits,
		})
		switch {
		case err == nil:
			metrics.ObserveDebit(evt.Credits)
			b.logger.Debug("debited credits",
				zap.String("job_id", evt.JobID.String()),
				zap.Int64("amount", evt.Credits),
				zap.Int64("balance", balance),
			)
		case errors.Is(err, ErrAlreadyDebited):
			metrics.ObserveDebitConflict()
			b.logger.Debug("skipping duplicate debit",
				zap.String("job_id", evt.JobID.String()),
			)
		case errors.Is(err, ErrInsufficientBalance):
			b.logger.Warn("debit rejected for insufficient balance",
				zap.String("job_id", evt.JobID.String()),
				zap.String("account_id", evt.AccountID.String()),
				zap.Int64("amount", evt.Credits),
			)
		default:
			b.logger.Error("debit failed",
				zap.String("job_id", evt.JobID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close implements the events.Sink interface; it performs no action.
func (b *Biller) Close(context.Context) error {
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

const jobColumns = `id, kind, engine, status, url, query, depth, parent_id,
	account_id, success, credits_used, error_text, parameters, submitted_at,
	started_at, finished_at, updated_at, expire_at`

// JobStore implements job.Store on Postgres.
type JobStore struct {
	db Querier
}

// NewJobStore constructs a JobStore on an existing pool.
func NewJobStore(db Querier) *JobStore {
	return &JobStore{db: db}
}

// CreateJob inserts a new job record.
func (s *JobStore) CreateJob(ctx context.Context, j job.Job) error {
	params, err := json.Marshal(j.Parameters)
	if err != nil {
		return fmt.Errorf("encode job parameters: %w", err)
	}
	query := `
		INSERT INTO jobs (
			id, kind, engine, status, url, query, depth, parent_id, account_id,
			success, credits_used, error_text, parameters, submitted_at,
			updated_at, expire_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16);
	`
	_, err = s.db.Exec(ctx, query,
		j.ID,
		string(j.Kind),
		string(j.Engine),
		string(j.Status),
		j.URL,
		j.Query,
		j.Depth,
		j.ParentID,
		j.AccountID,
		j.Success,
		j.CreditsUsed,
		j.ErrorText,
		params,
		j.Submitted,
		j.Updated,
		j.ExpireAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID. Expired records read as not found.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND expire_at > now();`
	j, err := scanJob(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Job{}, fmt.Errorf("job %s: %w", id, job.ErrJobNotFound)
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// TransitionJob atomically moves a job from any status in from to to. The
// conditional UPDATE is the compare-and-set: concurrent completion, failure
// and cancellation race on it and exactly one wins.
func (s *JobStore) TransitionJob(
	ctx context.Context,
	id uuid.UUID,
	from []job.Status,
	to job.Status,
	mut job.Mutation,
) (job.Job, error) {
	query := `
		UPDATE jobs SET
			status = $3,
			started_at = COALESCE(started_at, $4),
			finished_at = COALESCE($5, finished_at),
			success = COALESCE($6, success),
			error_text = COALESCE($7, error_text),
			updated_at = now()
		WHERE id = $1 AND status = ANY($2) AND expire_at > now()
		RETURNING ` + jobColumns + `;
	`
	j, err := scanJob(s.db.QueryRow(ctx, query,
		id,
		statusStrings(from),
		string(to),
		mut.Started,
		mut.Finished,
		mut.Success,
		mut.ErrorText,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Job{}, s.explainTransitionFailure(ctx, id)
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("transition job: %w", err)
	}
	return j, nil
}

// explainTransitionFailure distinguishes a missing or expired job from one
// sitting in a status outside the transition's from set.
func (s *JobStore) explainTransitionFailure(ctx context.Context, id uuid.UUID) error {
	var status string
	err := s.db.QueryRow(ctx,
		`SELECT status FROM jobs WHERE id = $1 AND expire_at > now();`, id,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s: %w", id, job.ErrJobNotFound)
	}
	if err != nil {
		return fmt.Errorf("inspect job status: %w", err)
	}
	return fmt.Errorf("job %s is %s: %w", id, status, job.ErrInvalidTransition)
}

// AddCreditsUsed atomically increments a job's credits counter.
func (s *JobStore) AddCreditsUsed(ctx context.Context, id uuid.UUID, delta int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET credits_used = credits_used + $2, updated_at = now() WHERE id = $1;`,
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("add credits used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, job.ErrJobNotFound)
	}
	return nil
}

func scanJob(row pgx.Row) (job.Job, error) {
	var (
		j      job.Job
		kind   string
		engine string
		status string
		params []byte
	)
	err := row.Scan(
		&j.ID,
		&kind,
		&engine,
		&status,
		&j.URL,
		&j.Query,
		&j.Depth,
		&j.ParentID,
		&j.AccountID,
		&j.Success,
		&j.CreditsUsed,
		&j.ErrorText,
		&params,
		&j.Submitted,
		&j.Started,
		&j.Finished,
		&j.Updated,
		&j.ExpireAt,
	)
	if err != nil {
		return job.Job{}, err
	}
	j.Kind = job.Kind(kind)
	j.Engine = job.Engine(engine)
	j.Status = job.Status(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Parameters); err != nil {
			return job.Job{}, fmt.Errorf("decode job parameters: %w", err)
		}
	}
	return j, nil
}

func statusStrings(set []job.Status) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// ResultStore implements job.ResultStore on Postgres. Rows are keyed and read
// by (owner_id, seq) so paginated reads stay stable while a crawl is still
// appending.
type ResultStore struct {
	db Querier
}

// NewResultStore constructs a ResultStore on an existing pool.
func NewResultStore(db Querier) *ResultStore {
	return &ResultStore{db: db}
}

// AppendResult inserts one result row.
func (s *ResultStore) AppendResult(ctx context.Context, r job.Result) error {
	metadata := []byte("{}")
	if len(r.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode result metadata: %w", err)
		}
	}
	query := `
		INSERT INTO job_results (
			owner_id, job_id, seq, url, title, description, markdown, html,
			text, status_code, content_hash, blob_uri, metadata, fetched_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14);
	`
	_, err := s.db.Exec(ctx, query,
		r.OwnerID,
		r.JobID,
		r.Seq,
		r.URL,
		r.Title,
		r.Description,
		r.Markdown,
		r.HTML,
		r.Text,
		r.StatusCode,
		r.ContentHash,
		r.BlobURI,
		metadata,
		r.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListResults returns the owner's rows in sequence order, windowed by limit
// and offset. A non-positive limit returns everything past the offset.
func (s *ResultStore) ListResults(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]job.Result, error) {
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT owner_id, job_id, seq, url, title, description, markdown, html,
			text, status_code, content_hash, blob_uri, metadata, fetched_at
		FROM job_results
		WHERE owner_id = $1
		ORDER BY seq ASC
		LIMIT NULLIF($2, 0) OFFSET $3;
	`
	rows, err := s.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := []job.Result{}
	for rows.Next() {
		var (
			r        job.Result
			metadata []byte
		)
		err := rows.Scan(
			&r.OwnerID,
			&r.JobID,
			&r.Seq,
			&r.URL,
			&r.Title,
			&r.Description,
			&r.Markdown,
			&r.HTML,
			&r.Text,
			&r.StatusCode,
			&r.ContentHash,
			&r.BlobURI,
			&metadata,
			&r.FetchedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode result metadata: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// CountResults returns how many rows the owner has accumulated.
func (s *ResultStore) CountResults(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM job_results WHERE owner_id = $1;`, ownerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

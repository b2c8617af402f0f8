package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// ResultStore keeps result rows per owner, ordered by sequence number so
// paginated reads stay stable while new rows keep arriving.
type ResultStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID][]job.Result
}

// NewResultStore constructs a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{rows: make(map[uuid.UUID][]job.Result)}
}

// AppendResult inserts a row keeping the owner's slice sorted by Seq.
func (s *ResultStore) AppendResult(_ context.Context, r job.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[r.OwnerID]
	idx := sort.Search(len(rows), func(i int) bool { return rows[i].Seq > r.Seq })
	rows = append(rows, job.Result{})
	copy(rows[idx+1:], rows[idx:])
	rows[idx] = r
	s.rows[r.OwnerID] = rows
	return nil
}

// ListResults returns the owner's rows in sequence order, windowed by limit
// and offset.
func (s *ResultStore) ListResults(_ context.Context, ownerID uuid.UUID, limit, offset int) ([]job.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.rows[ownerID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []job.Result{}, nil
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]job.Result, end-offset)
	copy(out, rows[offset:end])
	return out, nil
}

// CountResults returns how many rows the owner has accumulated.
func (s *ResultStore) CountResults(_ context.Context, ownerID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[ownerID]), nil
}

package campaign

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory BatchRepository for tests and early development.
type MemoryRepo struct {
	mu      sync.Mutex
	batches map[string]*Batch
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{batches: map[string]*Batch{}}
}

func (r *MemoryRepo) Create(ctx context.Context, b *Batch) error {
	if b.ID == "" || b.AccountID == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	r.batches[b.ID] = &cp
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, accountID, batchID string) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok || b.AccountID != accountID {
		return Batch{}, ErrNotFound
	}
	return *b, nil
}

func (r *MemoryRepo) UpdateCounts(ctx context.Context, batchID string, totalJobs, duplicateRows, rejectedRows int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	b.TotalJobs = totalJobs
	b.DuplicateRows = duplicateRows
	b.RejectedRows = rejectedRows
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, accountID, batchID string, status BatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok || b.AccountID != accountID {
		return ErrNotFound
	}
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) ListByAccount(ctx context.Context, accountID string) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Batch
	for _, b := range r.batches {
		if b.AccountID == accountID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

package calls

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryRepo is an in-memory append-only attempt log for tests and early
// development.
type MemoryRepo struct {
	mu       sync.Mutex
	attempts []Attempt
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Record(ctx context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *MemoryRepo) ListAttempts(ctx context.Context, accountID string, from, to time.Time, batchID string) ([]Attempt, error) {
	if accountID == "" {
		return nil, errors.New("account_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Attempt, 0)
	for _, a := range r.attempts {
		if a.AccountID != accountID {
			continue
		}
		if !a.CreatedAt.IsZero() {
			if a.CreatedAt.Before(from) || !a.CreatedAt.Before(to) {
				continue
			}
		}
		if batchID != "" && a.BatchID != batchID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Attempts returns a copy of everything recorded. Test helper.
func (r *MemoryRepo) Attempts() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Attempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}

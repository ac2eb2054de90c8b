package job

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// Every mutating call runs under one lock, matching the single-statement
// atomicity of the Postgres implementation. The clock is injectable so lease
// expiry can be tested without sleeping.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	dedup map[string]string // dedup_key -> job id
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  map[string]*Job{},
		dedup: map[string]string{},
		clock: time.Now,
	}
}

// SetClock overrides the time source. Test helper.
func (s *MemoryStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *MemoryStore) Create(ctx context.Context, j *Job) error {
	if j.ID == "" || j.AccountID == "" || j.DedupKey == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dedup[j.DedupKey]; exists {
		return ErrDuplicateJob
	}
	now := s.clock().UTC()
	cp := *j
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.jobs[cp.ID] = &cp
	s.dedup[cp.DedupKey] = cp.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

func (s *MemoryStore) ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*Job, error) {
	if workerID == "" || lease <= 0 {
		return nil, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()

	var candidates []*Job
	for _, j := range s.jobs {
		if j.Attempts >= j.MaxAttempts {
			continue
		}
		switch j.Status {
		case StatusPending, StatusScheduled:
			if j.NotBefore != nil && j.NotBefore.After(now) {
				continue
			}
		case StatusInProgress:
			if j.ReservedUntil == nil || j.ReservedUntil.After(now) {
				continue
			}
		default:
			continue
		}
		candidates = append(candidates, j)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].CreatedAt.Before(candidates[b].CreatedAt)
	})

	j := candidates[0]
	until := now.Add(lease)
	wid := workerID
	j.Status = StatusInProgress
	j.WorkerID = &wid
	j.ReservedUntil = &until
	j.NotBefore = nil
	j.Attempts++
	if j.StartedAt == nil {
		t := now
		j.StartedAt = &t
	}
	j.UpdatedAt = now

	cp := *j
	return &cp, nil
}

// fenced applies mutate only while the job is still in_progress under
// workerID. Caller must hold the lock.
func (s *MemoryStore) fenced(jobID, workerID string, mutate func(j *Job, now time.Time)) error {
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if j.Status != StatusInProgress || j.WorkerID == nil || *j.WorkerID != workerID {
		return ErrLeaseLost
	}
	now := s.clock().UTC()
	mutate(j, now)
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) SetReservedCost(ctx context.Context, jobID, workerID string, costMinor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fenced(jobID, workerID, func(j *Job, now time.Time) {
		j.ReservedCostMinor = costMinor
	})
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fenced(jobID, workerID, func(j *Job, now time.Time) {
		j.Status = StatusCompleted
		j.WorkerID = nil
		j.ReservedUntil = nil
		j.NotBefore = nil
		j.LastError = ""
		j.ReservedCostMinor = 0
		t := now
		j.FinishedAt = &t
	})
}

func (s *MemoryStore) Requeue(ctx context.Context, jobID, workerID string, retryAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fenced(jobID, workerID, func(j *Job, now time.Time) {
		j.Status = StatusPending
		j.WorkerID = nil
		j.ReservedUntil = nil
		at := retryAt.UTC()
		j.NotBefore = &at
		j.LastError = lastError
		j.ReservedCostMinor = 0
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, jobID, workerID string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fenced(jobID, workerID, func(j *Job, now time.Time) {
		j.Status = StatusFailed
		j.WorkerID = nil
		j.ReservedUntil = nil
		j.NotBefore = nil
		j.LastError = lastError
		j.ReservedCostMinor = 0
		t := now
		j.FinishedAt = &t
	})
}

func (s *MemoryStore) AdvancePhone(ctx context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fenced(jobID, workerID, func(j *Job, now time.Time) {
		j.Contact.PhoneIndex++
	})
}

func (s *MemoryStore) ReleaseClaim(ctx context.Context, jobID, workerID string, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fenced(jobID, workerID, func(j *Job, now time.Time) {
		j.Status = StatusPending
		j.WorkerID = nil
		j.ReservedUntil = nil
		at := notBefore.UTC()
		j.NotBefore = &at
		if j.Attempts > 0 {
			j.Attempts--
		}
	})
}

func (s *MemoryStore) CancelBatch(ctx context.Context, accountID, batchID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	var n int64
	for _, j := range s.jobs {
		if j.AccountID != accountID || j.BatchID != batchID {
			continue
		}
		if j.Status != StatusPending && j.Status != StatusScheduled {
			continue
		}
		j.Status = StatusCancelled
		j.WorkerID = nil
		j.ReservedUntil = nil
		j.NotBefore = nil
		t := now
		j.FinishedAt = &t
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *MemoryStore) ReapExhausted(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	var n int64
	for _, j := range s.jobs {
		if j.Status != StatusInProgress {
			continue
		}
		if j.ReservedUntil == nil || j.ReservedUntil.After(now) {
			continue
		}
		if j.Attempts < j.MaxAttempts {
			continue
		}
		j.Status = StatusFailed
		j.WorkerID = nil
		j.ReservedUntil = nil
		j.LastError = "lease expired on final attempt"
		t := now
		j.FinishedAt = &t
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListByBatch(ctx context.Context, accountID, batchID string) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Job
	for _, j := range s.jobs {
		if j.AccountID == accountID && j.BatchID == batchID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

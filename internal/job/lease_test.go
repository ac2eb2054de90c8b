package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestJob(id, account, batch, phone string, maxAttempts int, createdAt time.Time) *Job {
	return &Job{
		ID:          id,
		AccountID:   account,
		BatchID:     batch,
		DedupKey:    DedupKey(account, batch, phone),
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		Contact:     Contact{Name: "debtor", Phones: []string{phone}},
		Payload: Payload{
			UseCase: UseCaseDebtCollection,
			DebtCollection: &DebtCollectionPayload{
				DebtorName:     "debtor",
				CreditorName:   "creditor",
				AmountDueMinor: 10_000,
				Currency:       "USD",
			},
		},
		CreatedAt: createdAt,
	}
}

func TestClaimNext_EmptyStoreReturnsNil(t *testing.T) {
	store := NewMemoryStore()
	j, err := store.ClaimNext(context.Background(), "w1", time.Minute)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if j != nil {
		t.Fatalf("expected nil job, got %+v", j)
	}
}

func TestClaimNext_OldestFirstAndLeaseFields(t *testing.T) {
	store := NewMemoryStore()
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 3; i++ {
		j := newTestJob(fmt.Sprintf("j%d", i), "acc", "b1", fmt.Sprintf("+155500000%d", i), 3, base.Add(time.Duration(i)*time.Second))
		if err := store.Create(context.Background(), j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	j, err := store.ClaimNext(context.Background(), "w1", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if j == nil || j.ID != "j0" {
		t.Fatalf("expected oldest job j0, got %+v", j)
	}
	if j.Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %s", j.Status)
	}
	if j.WorkerID == nil || *j.WorkerID != "w1" {
		t.Fatalf("expected worker w1, got %v", j.WorkerID)
	}
	if j.ReservedUntil == nil || !j.ReservedUntil.After(time.Now().Add(50*time.Second)) {
		t.Fatalf("expected lease ~1m out, got %v", j.ReservedUntil)
	}
	if j.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", j.Attempts)
	}
	if j.StartedAt == nil {
		t.Fatalf("expected started_at set")
	}
}

func TestClaimNext_ExclusiveUnderConcurrency(t *testing.T) {
	const (
		jobs    = 40
		workers = 16
	)
	store := NewMemoryStore()
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < jobs; i++ {
		j := newTestJob(fmt.Sprintf("j%d", i), "acc", "b1", fmt.Sprintf("+1555%07d", i), 1, base.Add(time.Duration(i)*time.Millisecond))
		if err := store.Create(context.Background(), j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	var mu sync.Mutex
	owners := map[string]string{} // job id -> worker id

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			workerID := fmt.Sprintf("w%d", w)
			for {
				j, err := store.ClaimNext(context.Background(), workerID, time.Minute)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				if prev, dup := owners[j.ID]; dup {
					t.Errorf("job %s claimed by both %s and %s", j.ID, prev, workerID)
				}
				owners[j.ID] = workerID
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if len(owners) != jobs {
		t.Fatalf("expected all %d jobs claimed exactly once, got %d", jobs, len(owners))
	}
}

func TestClaimNext_ExpiredLeaseReclaimAndFencing(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	store.SetClock(func() time.Time { return now })

	j := newTestJob("j1", "acc", "b1", "+15550000001", 3, now)
	if err := store.Create(context.Background(), j); err != nil {
		t.Fatalf("create: %v", err)
	}

	claimed, err := store.ClaimNext(context.Background(), "workerA", 60*time.Second)
	if err != nil || claimed == nil {
		t.Fatalf("workerA claim failed: %v %v", claimed, err)
	}

	// Before expiry nobody else can claim it.
	now = now.Add(30 * time.Second)
	if other, _ := store.ClaimNext(context.Background(), "workerB", time.Minute); other != nil {
		t.Fatalf("workerB claimed an unexpired lease: %+v", other)
	}

	// After expiry workerB reclaims, attempts goes up again.
	now = now.Add(31 * time.Second)
	reclaimed, err := store.ClaimNext(context.Background(), "workerB", time.Minute)
	if err != nil || reclaimed == nil {
		t.Fatalf("workerB reclaim failed: %v %v", reclaimed, err)
	}
	if reclaimed.ID != "j1" || reclaimed.Attempts != 2 {
		t.Fatalf("expected j1 reclaimed with attempts=2, got %+v", reclaimed)
	}

	// workerA's settlement is now rejected: the lease owner is the fencing token.
	if err := store.MarkCompleted(context.Background(), "j1", "workerA"); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for stale owner, got %v", err)
	}
	// workerB's settlement applies.
	if err := store.MarkCompleted(context.Background(), "j1", "workerB"); err != nil {
		t.Fatalf("workerB settle failed: %v", err)
	}

	got, _ := store.Get(context.Background(), "j1")
	if got.Status != StatusCompleted || got.WorkerID != nil || got.ReservedUntil != nil {
		t.Fatalf("expected completed with cleared lease, got %+v", got)
	}
}

func TestClaimNext_AttemptBoundStopsReclaim(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	store.SetClock(func() time.Time { return now })

	j := newTestJob("j1", "acc", "b1", "+15550000001", 2, now)
	if err := store.Create(context.Background(), j); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Two crashed attempts exhaust the ceiling.
	for i := 0; i < 2; i++ {
		c, err := store.ClaimNext(context.Background(), fmt.Sprintf("w%d", i), time.Minute)
		if err != nil || c == nil {
			t.Fatalf("claim %d failed: %v %v", i, c, err)
		}
		now = now.Add(2 * time.Minute) // lease expires untouched
	}

	// No attempts remain: not claimable, only reapable.
	if c, _ := store.ClaimNext(context.Background(), "w9", time.Minute); c != nil {
		t.Fatalf("claimed past max_attempts: %+v", c)
	}

	n, err := store.ReapExhausted(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 reaped, got %d (%v)", n, err)
	}
	got, _ := store.Get(context.Background(), "j1")
	if got.Status != StatusFailed || got.Attempts != 2 {
		t.Fatalf("expected failed with attempts=2, got %+v", got)
	}
	if got.LastError == "" {
		t.Fatalf("expected last_error recorded")
	}
}

func TestRequeue_NotVisibleUntilNotBefore(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	store.SetClock(func() time.Time { return now })

	j := newTestJob("j1", "acc", "b1", "+15550000001", 3, now)
	if err := store.Create(context.Background(), j); err != nil {
		t.Fatalf("create: %v", err)
	}

	c, _ := store.ClaimNext(context.Background(), "w1", time.Minute)
	if c == nil {
		t.Fatalf("claim failed")
	}
	if err := store.Requeue(context.Background(), "j1", "w1", now.Add(30*time.Second), "no answer"); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	got, _ := store.Get(context.Background(), "j1")
	if got.Status != StatusPending || got.WorkerID != nil || got.ReservedUntil != nil {
		t.Fatalf("expected pending with cleared lease, got %+v", got)
	}
	if got.LastError != "no answer" {
		t.Fatalf("expected last_error recorded, got %q", got.LastError)
	}

	// Hidden while backoff is pending.
	if c, _ := store.ClaimNext(context.Background(), "w2", time.Minute); c != nil {
		t.Fatalf("claimed during backoff window: %+v", c)
	}

	now = now.Add(31 * time.Second)
	c, _ = store.ClaimNext(context.Background(), "w2", time.Minute)
	if c == nil || c.Attempts != 2 {
		t.Fatalf("expected reclaim with attempts=2 after backoff, got %+v", c)
	}
}

func TestCancelBatch_AdvisoryCancellation(t *testing.T) {
	store := NewMemoryStore()
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 3; i++ {
		j := newTestJob(fmt.Sprintf("j%d", i), "acc", "b1", fmt.Sprintf("+155500000%d", i), 3, base.Add(time.Duration(i)*time.Second))
		if err := store.Create(context.Background(), j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	// j0 is mid-flight; cancellation must not touch it.
	claimed, _ := store.ClaimNext(context.Background(), "w1", time.Minute)
	if claimed == nil || claimed.ID != "j0" {
		t.Fatalf("expected j0 claimed, got %+v", claimed)
	}

	n, err := store.CancelBatch(context.Background(), "acc", "b1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cancelled, got %d", n)
	}

	inFlight, _ := store.Get(context.Background(), "j0")
	if inFlight.Status != StatusInProgress {
		t.Fatalf("in-flight job must finish its attempt, got %s", inFlight.Status)
	}
	// The in-flight attempt settles normally.
	if err := store.MarkCompleted(context.Background(), "j0", "w1"); err != nil {
		t.Fatalf("settle after cancel: %v", err)
	}

	for _, id := range []string{"j1", "j2"} {
		got, _ := store.Get(context.Background(), id)
		if got.Status != StatusCancelled {
			t.Fatalf("expected %s cancelled, got %s", id, got.Status)
		}
	}
}

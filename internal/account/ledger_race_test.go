package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// The reserve path is the only place where a check-then-act race could
// overspend an account. These tests hammer it with concurrent goroutines
// against the shared memory store, which implements the same atomic
// conditional semantics as the Postgres store.

func TestTryReserve_NoOverspendUnderConcurrency(t *testing.T) {
	const (
		balance     = 10_000
		costPerCall = 250
		callers     = 100
	)
	svc, store := seedCredit(t, balance)

	var granted, denied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.TryReserve(context.Background(), "acc", costPerCall, fmt.Sprintf("job-%d", i), 1)
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, ErrInsufficientBalance):
				denied.Add(1)
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := granted.Load() * costPerCall; got > balance {
		t.Fatalf("overspend: granted reservations total %d against balance %d", got, balance)
	}
	if granted.Load() != balance/costPerCall {
		t.Fatalf("expected %d grants, got %d (denied %d)", balance/costPerCall, granted.Load(), denied.Load())
	}

	a, _ := store.Get(context.Background(), "acc")
	if a.CreditReservedMinor != balance {
		t.Fatalf("expected reserved %d, got %d", balance, a.CreditReservedMinor)
	}
}

func TestTryReserve_ExactScenarioFiveGrantsOneDenial(t *testing.T) {
	// balance=10, cost=2: five concurrent reservations all grant, the sixth
	// is denied with insufficient balance.
	svc, store := seedCredit(t, 10)

	var granted, denied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.TryReserve(context.Background(), "acc", 2, fmt.Sprintf("job-%d", i), 1)
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, ErrInsufficientBalance):
				denied.Add(1)
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if granted.Load() != 5 || denied.Load() != 1 {
		t.Fatalf("expected 5 grants and 1 denial, got %d/%d", granted.Load(), denied.Load())
	}
	a, _ := store.Get(context.Background(), "acc")
	if a.CreditReservedMinor != 10 {
		t.Fatalf("expected reserved 10, got %d", a.CreditReservedMinor)
	}
}

func TestCommitAndRelease_ConcurrentSettlementsBalanceOut(t *testing.T) {
	const n = 50
	svc, store := seedCredit(t, n*100)

	reservations := make([]Reservation, n)
	for i := range reservations {
		res, err := svc.TryReserve(context.Background(), "acc", 100, fmt.Sprintf("job-%d", i), 1)
		if err != nil {
			t.Fatalf("reserve %d failed: %v", i, err)
		}
		reservations[i] = res
	}

	// Even jobs commit their full estimate, odd jobs release.
	var wg sync.WaitGroup
	for i, res := range reservations {
		wg.Add(1)
		go func(i int, res Reservation) {
			defer wg.Done()
			if i%2 == 0 {
				if err := svc.Commit(context.Background(), res, Usage{CostMinor: 100}); err != nil {
					t.Errorf("commit %d: %v", i, err)
				}
			} else {
				if err := svc.Release(context.Background(), res); err != nil {
					t.Errorf("release %d: %v", i, err)
				}
			}
		}(i, res)
	}
	wg.Wait()

	a, _ := store.Get(context.Background(), "acc")
	if a.CreditReservedMinor != 0 {
		t.Fatalf("expected all holds settled, reserved=%d", a.CreditReservedMinor)
	}
	wantBalance := int64(n * 100 / 2 * 1) // half committed at full estimate
	if a.CreditBalanceMinor != wantBalance {
		t.Fatalf("expected balance %d, got %d", wantBalance, a.CreditBalanceMinor)
	}
}

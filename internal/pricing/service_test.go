package pricing

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testRepo(now time.Time) *MemoryRepo {
	return &MemoryRepo{Rates: []MinuteRate{
		{
			ID:                      "r1",
			AccountID:               "acc",
			Destination:             "MX",
			RatePerMinuteMinor:      50,
			Currency:                "USD",
			MinimumBillableSeconds:  30,
			BillingIncrementSeconds: 6,
			Status:                  RateStatusActive,
			EffectiveFrom:           now.Add(-24 * time.Hour),
		},
	}}
}

func TestCalculateCallCost_RoundsUpToIncrementAndMinute(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	svc := NewService(testRepo(now))

	// 61s -> 66s billable (6s increments) -> 2 billable minutes.
	out, err := svc.CalculateCallCost(context.Background(), CallCostRequest{
		AccountID: "acc", Destination: "MX", DurationSeconds: 61, At: now,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.BillableSeconds != 66 {
		t.Fatalf("expected 66 billable seconds, got %d", out.BillableSeconds)
	}
	if out.BillableMinutes != 2 {
		t.Fatalf("expected 2 billable minutes, got %d", out.BillableMinutes)
	}
	if out.TotalMinor != 100 {
		t.Fatalf("expected total 100, got %d", out.TotalMinor)
	}
}

func TestCalculateCallCost_AppliesMinimumBillable(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	svc := NewService(testRepo(now))

	// 5s call bills the 30s minimum -> 1 minute.
	out, err := svc.CalculateCallCost(context.Background(), CallCostRequest{
		AccountID: "acc", Destination: "MX", DurationSeconds: 5, At: now,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.BillableSeconds != 30 || out.BillableMinutes != 1 || out.TotalMinor != 50 {
		t.Fatalf("unexpected cost: %+v", out)
	}
}

func TestCalculateCallCost_NoRate(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	svc := NewService(testRepo(now))

	if _, err := svc.CalculateCallCost(context.Background(), CallCostRequest{
		AccountID: "acc", Destination: "BR", DurationSeconds: 60, At: now,
	}); !errors.Is(err, ErrRateNotFound) {
		t.Fatalf("expected ErrRateNotFound, got %v", err)
	}
}

func TestCalculateCallCost_EffectiveWindow(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	repo := testRepo(now)
	end := now.Add(-time.Hour)
	repo.Rates[0].EffectiveTo = &end
	svc := NewService(repo)

	if _, err := svc.CalculateCallCost(context.Background(), CallCostRequest{
		AccountID: "acc", Destination: "MX", DurationSeconds: 60, At: now,
	}); !errors.Is(err, ErrRateNotFound) {
		t.Fatalf("expected expired rate to be skipped, got %v", err)
	}
}

func TestCalculateCallCost_InvalidRequest(t *testing.T) {
	svc := NewService(&MemoryRepo{})
	if _, err := svc.CalculateCallCost(context.Background(), CallCostRequest{AccountID: "acc", Destination: "MX"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

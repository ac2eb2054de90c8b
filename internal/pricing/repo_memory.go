package pricing

import (
	"context"
	"time"
)

// MemoryRepo is a simple in-memory rate repository for tests and early
// development. It supports exact destination matches, account-scoped.
type MemoryRepo struct {
	Rates []MinuteRate
}

func (r *MemoryRepo) FindMinuteRate(ctx context.Context, accountID, destination string, at time.Time) (MinuteRate, bool, error) {
	_ = ctx

	// Prefer the most recently effective rate.
	var best MinuteRate
	found := false

	for _, rate := range r.Rates {
		if rate.AccountID != accountID {
			continue
		}
		if rate.Destination != destination {
			continue
		}
		if rate.Status != RateStatusActive {
			continue
		}
		if at.Before(rate.EffectiveFrom) {
			continue
		}
		if rate.EffectiveTo != nil && !at.Before(*rate.EffectiveTo) {
			continue
		}

		if !found || rate.EffectiveFrom.After(best.EffectiveFrom) {
			best = rate
			found = true
		}
	}

	return best, found, nil
}

package pricing

import (
	"context"
	"errors"
	"time"
)

// Service prices finished calls from account-scoped minute rates.
//
// Contract:
// - Pure calculation + repository lookups; no provider SDK calls.
// - Returns the selected effective rate and the computed cost only.
type Service struct {
	repo  RateRepository
	clock func() time.Time
}

func NewService(repo RateRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// RateRepository abstracts rate persistence.
type RateRepository interface {
	FindMinuteRate(ctx context.Context, accountID, destination string, at time.Time) (MinuteRate, bool, error)
}

type CallCostRequest struct {
	AccountID   string
	Destination string

	// DurationSeconds is the actual call duration; billable time is derived.
	DurationSeconds int

	// At determines which effective rate applies. Zero means now.
	At time.Time
}

type CallCost struct {
	AccountID   string
	Destination string
	Currency    string

	BillableSeconds int
	BillableMinutes int

	RatePerMinuteMinor int64
	TotalMinor         int64
}

var (
	ErrRateNotFound   = errors.New("pricing: rate not found")
	ErrInvalidRequest = errors.New("pricing: invalid request")
)

// CalculateCallCost computes the cost of a finished call.
func (s *Service) CalculateCallCost(ctx context.Context, req CallCostRequest) (CallCost, error) {
	if req.AccountID == "" || req.Destination == "" {
		return CallCost{}, ErrInvalidRequest
	}
	if req.DurationSeconds <= 0 {
		return CallCost{}, ErrInvalidRequest
	}

	at := req.At
	if at.IsZero() {
		at = s.clock().UTC()
	}

	rate, ok, err := s.repo.FindMinuteRate(ctx, req.AccountID, req.Destination, at)
	if err != nil {
		return CallCost{}, err
	}
	if !ok {
		return CallCost{}, ErrRateNotFound
	}

	billableSec := billableSeconds(req.DurationSeconds, rate.MinimumBillableSeconds, rate.BillingIncrementSeconds)
	billableMin := billableMinutesFromSeconds(billableSec)

	return CallCost{
		AccountID:          req.AccountID,
		Destination:        req.Destination,
		Currency:           rate.Currency,
		BillableSeconds:    billableSec,
		BillableMinutes:    billableMin,
		RatePerMinuteMinor: rate.RatePerMinuteMinor,
		TotalMinor:         rate.RatePerMinuteMinor * int64(billableMin),
	}, nil
}

func billableSeconds(actualSec, minSec, incrementSec int) int {
	if actualSec < 0 {
		return 0
	}
	if minSec < 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	if sec%incrementSec != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}

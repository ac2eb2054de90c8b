package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"collections-dialer/internal/account"
	"collections-dialer/internal/calls"
	"collections-dialer/internal/job"
	"collections-dialer/internal/pricing"
	"collections-dialer/internal/telephony"
)

// Settler is the single point that finishes a call attempt: it applies the
// policy transition to the job, commits or releases the ledger reservation,
// and appends the attempt to the call log.
//
// Idempotency: the fenced job write happens first. If the caller's lease is
// gone (expired and reclaimed), the write returns job.ErrLeaseLost, the
// reservation is released, and the ledger is never charged. Applying a
// settlement twice for the same lease changes the ledger at most once.
type Settler struct {
	jobs   job.Store
	ledger *account.Service
	policy Policy

	// rates is optional; without it credit plans are charged the reserved
	// estimate instead of a metered cost.
	rates *pricing.Service

	// recorder is optional and best-effort.
	recorder calls.Recorder

	logger *slog.Logger
	clock  func() time.Time
}

func NewSettler(jobs job.Store, ledger *account.Service, policy Policy, rates *pricing.Service, recorder calls.Recorder, logger *slog.Logger) *Settler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Settler{
		jobs:     jobs,
		ledger:   ledger,
		policy:   policy,
		rates:    rates,
		recorder: recorder,
		logger:   logger,
		clock:    time.Now,
	}
}

// SettleSuccess finishes a completed call: job -> completed, reservation
// committed with the actual cost, attempt recorded.
func (s *Settler) SettleSuccess(ctx context.Context, j *job.Job, workerID string, res account.Reservation, result telephony.OutboundCallResult) error {
	usage := s.meterUsage(ctx, j, res, result)

	if err := s.jobs.MarkCompleted(ctx, j.ID, workerID); err != nil {
		if errors.Is(err, job.ErrLeaseLost) {
			s.unwind(ctx, j, res, "success settlement lost lease")
			return err
		}
		return fmt.Errorf("settle success: %w", err)
	}

	if err := s.ledger.Commit(ctx, res, usage); err != nil {
		// The job is already completed; surface the ledger failure loudly
		// rather than faking an unsettled attempt.
		s.logger.Error("ledger commit failed after job completion",
			"job_id", j.ID, "account_id", j.AccountID, "err", err)
		return err
	}

	s.record(ctx, j, calls.AttemptStatusCompleted, result, "")
	return nil
}

// SettleFailure finishes a failed call per the retry policy: requeue with
// backoff, or terminal failure. The reservation is always released; a call
// that did not complete costs nothing.
func (s *Settler) SettleFailure(ctx context.Context, j *job.Job, workerID string, res account.Reservation, callErr error) error {
	outcome := ClassifyError(callErr)
	decision := s.policy.Decide(j, outcome)

	var err error
	switch decision.Kind {
	case DecisionRetry:
		// Rotate to the next phone candidate before the retry becomes
		// claimable, so the next attempt tries a different number.
		if j.Contact.PhoneIndex+1 < len(j.Contact.Phones) {
			if aerr := s.jobs.AdvancePhone(ctx, j.ID, workerID); aerr != nil {
				if errors.Is(aerr, job.ErrLeaseLost) {
					s.unwind(ctx, j, res, "failure settlement lost lease")
					return aerr
				}
				s.logger.Warn("phone rotation failed", "job_id", j.ID, "err", aerr)
			}
		}
		retryAt := s.clock().UTC().Add(decision.Delay)
		err = s.jobs.Requeue(ctx, j.ID, workerID, retryAt, callErr.Error())
	case DecisionFail:
		err = s.jobs.MarkFailed(ctx, j.ID, workerID, callErr.Error())
	default:
		err = fmt.Errorf("settle failure: unexpected decision %q", decision.Kind)
	}
	if err != nil {
		if errors.Is(err, job.ErrLeaseLost) {
			s.unwind(ctx, j, res, "failure settlement lost lease")
			return err
		}
		return err
	}

	if rerr := s.ledger.Release(ctx, res); rerr != nil {
		s.logger.Error("reservation release failed", "job_id", j.ID, "account_id", j.AccountID, "err", rerr)
	}

	status := calls.AttemptStatusFailed
	if outcome == OutcomeTransient {
		status = calls.AttemptStatusNoAnswer
	}
	s.record(ctx, j, status, telephony.OutboundCallResult{}, callErr.Error())
	return nil
}

// SettleDenied finishes an attempt refused by admission control. The job
// fails immediately regardless of attempts remaining, since retrying
// without new funds fails identically. The provider is never invoked.
func (s *Settler) SettleDenied(ctx context.Context, j *job.Job, workerID string, denyErr error) error {
	if err := s.jobs.MarkFailed(ctx, j.ID, workerID, denyErr.Error()); err != nil {
		return err
	}
	s.record(ctx, j, calls.AttemptStatusDenied, telephony.OutboundCallResult{}, denyErr.Error())
	return nil
}

// meterUsage turns the finished call into ledger units.
func (s *Settler) meterUsage(ctx context.Context, j *job.Job, res account.Reservation, result telephony.OutboundCallResult) account.Usage {
	usage := account.Usage{DurationSeconds: result.DurationSeconds}

	billableMin := int64((result.DurationSeconds + 59) / 60)

	switch res.Plan {
	case account.PlanMinutesBased, account.PlanUnlimited:
		usage.BillableMinutes = billableMin
	case account.PlanCreditBased:
		usage.CostMinor = res.HeldMinor
		if s.rates != nil && j.Contact.Region != "" && result.DurationSeconds > 0 {
			cost, err := s.rates.CalculateCallCost(ctx, pricing.CallCostRequest{
				AccountID:       j.AccountID,
				Destination:     j.Contact.Region,
				DurationSeconds: result.DurationSeconds,
			})
			if err == nil {
				usage.CostMinor = cost.TotalMinor
				usage.BillableMinutes = int64(cost.BillableMinutes)
			} else if !errors.Is(err, pricing.ErrRateNotFound) {
				s.logger.Warn("call cost lookup failed, charging estimate",
					"job_id", j.ID, "err", err)
			}
		}
	}
	return usage
}

func (s *Settler) unwind(ctx context.Context, j *job.Job, res account.Reservation, reason string) {
	s.logger.Warn(reason, "job_id", j.ID, "attempt", j.Attempts)
	if err := s.ledger.Release(ctx, res); err != nil {
		s.logger.Error("reservation release failed during unwind", "job_id", j.ID, "err", err)
	}
}

func (s *Settler) record(ctx context.Context, j *job.Job, status calls.AttemptStatus, result telephony.OutboundCallResult, errText string) {
	if s.recorder == nil {
		return
	}
	a := calls.Attempt{
		ID:              uuid.NewString(),
		AccountID:       j.AccountID,
		BatchID:         j.BatchID,
		JobID:           j.ID,
		Attempt:         j.Attempts,
		To:              j.Contact.ActivePhone(),
		ProviderCallID:  result.ProviderCallID,
		Status:          status,
		DurationSeconds: result.DurationSeconds,
		Error:           errText,
		CreatedAt:       s.clock().UTC(),
	}
	if err := s.recorder.Record(ctx, a); err != nil {
		s.logger.Warn("attempt log append failed", "job_id", j.ID, "err", err)
	}
}

package dialer

import (
	"errors"
	"time"

	"collections-dialer/internal/account"
	"collections-dialer/internal/job"
	"collections-dialer/internal/telephony"
)

// Outcome classifies the result of one call attempt for the retry policy.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomeTransient: no answer, busy, provider timeout. Worth retrying.
	OutcomeTransient Outcome = "transient_failure"
	// OutcomeInsufficientBalance: admission denied. Retrying without new
	// funds fails identically, so the job fails immediately and the
	// provider is never invoked.
	OutcomeInsufficientBalance Outcome = "insufficient_balance"
	// OutcomePermanent: invalid number, payload rejected. Terminal.
	OutcomePermanent Outcome = "permanent_failure"
)

// ClassifyError maps an error from the admission or call path onto an
// Outcome. Classification is structural (error kinds), never text matching.
func ClassifyError(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, account.ErrInsufficientBalance) || errors.Is(err, account.ErrAccountDisabled) {
		return OutcomeInsufficientBalance
	}
	if telephony.Classify(err) == telephony.ErrorKindPermanent {
		return OutcomePermanent
	}
	return OutcomeTransient
}

// DecisionKind is the settlement action the policy picked.
type DecisionKind string

const (
	DecisionComplete DecisionKind = "complete"
	DecisionRetry    DecisionKind = "retry"
	DecisionFail     DecisionKind = "fail"
)

type Decision struct {
	Kind DecisionKind
	// Delay applies to retries: the job stays hidden from claims this long.
	Delay time.Duration
}

// Policy drives the job state machine:
//
//	pending -> in_progress -> {completed | pending(retry) | failed}
//
// cancelled is reached out-of-band via batch cancellation and never passes
// through here.
type Policy struct {
	Backoff Backoff
}

// Decide picks the transition for a settled attempt. attempts is the
// counter after the claim increment, so attempts >= maxAttempts means the
// ceiling is spent.
func (p Policy) Decide(j *job.Job, outcome Outcome) Decision {
	switch outcome {
	case OutcomeSuccess:
		return Decision{Kind: DecisionComplete}
	case OutcomeTransient:
		if j.Attempts < j.MaxAttempts {
			return Decision{Kind: DecisionRetry, Delay: p.Backoff.Delay(j.Attempts)}
		}
		return Decision{Kind: DecisionFail}
	case OutcomeInsufficientBalance, OutcomePermanent:
		// Terminal regardless of attempts remaining.
		return Decision{Kind: DecisionFail}
	default:
		return Decision{Kind: DecisionFail}
	}
}

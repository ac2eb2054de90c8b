package dialer

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"collections-dialer/internal/account"
	"collections-dialer/internal/job"
	"collections-dialer/internal/telephony"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeSuccess},
		{"insufficient balance", account.ErrInsufficientBalance, OutcomeInsufficientBalance},
		{"wrapped insufficient balance", fmt.Errorf("admission: %w", account.ErrInsufficientBalance), OutcomeInsufficientBalance},
		{"disabled account", account.ErrAccountDisabled, OutcomeInsufficientBalance},
		{"permanent call error", telephony.NewPermanentError("invalid number"), OutcomePermanent},
		{"transient call error", telephony.NewTransientError("no answer"), OutcomeTransient},
		{"unclassified error", errors.New("connection reset"), OutcomeTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyError(tc.err); got != tc.want {
				t.Fatalf("ClassifyError = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPolicyDecide(t *testing.T) {
	p := Policy{Backoff: Backoff{Base: 30 * time.Second, Max: 15 * time.Minute}}

	mk := func(attempts, max int) *job.Job {
		return &job.Job{Attempts: attempts, MaxAttempts: max}
	}

	t.Run("success completes", func(t *testing.T) {
		d := p.Decide(mk(1, 3), OutcomeSuccess)
		if d.Kind != DecisionComplete {
			t.Fatalf("kind = %q, want complete", d.Kind)
		}
	})

	t.Run("transient with attempts left retries with backoff", func(t *testing.T) {
		d := p.Decide(mk(2, 3), OutcomeTransient)
		if d.Kind != DecisionRetry {
			t.Fatalf("kind = %q, want retry", d.Kind)
		}
		if d.Delay != time.Minute {
			t.Fatalf("delay = %v, want 1m after second attempt", d.Delay)
		}
	})

	t.Run("transient at ceiling fails", func(t *testing.T) {
		d := p.Decide(mk(3, 3), OutcomeTransient)
		if d.Kind != DecisionFail {
			t.Fatalf("kind = %q, want fail", d.Kind)
		}
	})

	t.Run("insufficient balance fails even on first attempt", func(t *testing.T) {
		d := p.Decide(mk(1, 3), OutcomeInsufficientBalance)
		if d.Kind != DecisionFail {
			t.Fatalf("kind = %q, want fail", d.Kind)
		}
	})

	t.Run("permanent fails even on first attempt", func(t *testing.T) {
		d := p.Decide(mk(1, 3), OutcomePermanent)
		if d.Kind != DecisionFail {
			t.Fatalf("kind = %q, want fail", d.Kind)
		}
	})
}

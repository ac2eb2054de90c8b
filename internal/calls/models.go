package calls

import (
	"context"
	"time"
)

// Attempt is one provider invocation for a job, recorded at settlement.
// Append-only: reporting and reconciliation read it, nothing rewrites it.
//
// Money invariant reminder: usage charging references job_id in the account
// transaction ledger; cost is never stored here authoritatively.
type Attempt struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	BatchID   string `json:"batch_id" db:"batch_id"`
	JobID     string `json:"job_id" db:"job_id"`

	// Attempt number within the job (1-based, mirrors job.attempts).
	Attempt int `json:"attempt" db:"attempt"`

	To             string `json:"to" db:"to"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Status          AttemptStatus `json:"status" db:"status"`
	DurationSeconds int           `json:"duration_seconds" db:"duration_seconds"`
	Error           string        `json:"error,omitempty" db:"error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type AttemptStatus string

const (
	AttemptStatusCompleted AttemptStatus = "completed"
	AttemptStatusNoAnswer  AttemptStatus = "no_answer"
	AttemptStatusFailed    AttemptStatus = "failed"
	AttemptStatusDenied    AttemptStatus = "denied" // balance admission refused
)

// Recorder is the append-only persistence contract for attempts.
// Callers treat recording as best-effort; a failed append must never block
// settlement of the job or the ledger.
type Recorder interface {
	Record(ctx context.Context, a Attempt) error
}

// ListRepository is the read side used by reporting.
type ListRepository interface {
	ListAttempts(ctx context.Context, accountID string, from, to time.Time, batchID string) ([]Attempt, error)
}

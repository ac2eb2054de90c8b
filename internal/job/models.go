package job

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Job is one call-attempt unit of work, tracked from ingestion to a terminal
// status. Rows are created by batch ingestion in `pending` and from then on
// mutated only through the Store's atomic claim and settlement operations.
//
// Lease invariant: at most one worker holds an active lease at any time.
// WorkerID non-nil implies ReservedUntil in the future; a pending job always
// has WorkerID nil.
type Job struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	BatchID   string `json:"batch_id" db:"batch_id"`

	// DedupKey prevents a second job for the same debtor within a batch.
	// Unique index; duplicate inserts are rejected, not merged.
	DedupKey string `json:"dedup_key" db:"dedup_key"`

	Status Status `json:"status" db:"status"`

	// Lease fields. ReservedUntil is the absolute lease expiry; a worker
	// that crashes mid-call simply lets it run out, which is the sole
	// crash-recovery mechanism (no heartbeats).
	WorkerID      *string    `json:"worker_id,omitempty" db:"worker_id"`
	ReservedUntil *time.Time `json:"reserved_until,omitempty" db:"reserved_until"`

	// NotBefore hides the job from claims until the retry backoff has
	// elapsed. Kept separate from ReservedUntil so a short retry delay and
	// a long crash-detection lease can coexist.
	NotBefore *time.Time `json:"not_before,omitempty" db:"not_before"`

	Attempts    int    `json:"attempts" db:"attempts"`
	MaxAttempts int    `json:"max_attempts" db:"max_attempts"`
	LastError   string `json:"last_error,omitempty" db:"last_error"`

	// ReservedCostMinor is the amount held against the account ledger for
	// the current attempt; set after admission, consumed at settlement.
	ReservedCostMinor int64 `json:"reserved_cost_minor" db:"reserved_cost_minor"`

	Contact Contact `json:"contact" db:"contact"`
	Payload Payload `json:"payload" db:"payload"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Contact carries the debtor's phone candidates. PhoneIndex points at the
// number the dialer is currently trying; it advances when a number proves
// unreachable.
type Contact struct {
	Name       string   `json:"name"`
	Phones     []string `json:"phones"`
	PhoneIndex int      `json:"phone_index"`

	// Region is the pricing bucket for this contact's numbers, assigned by
	// ingestion's number normalization.
	Region string `json:"region,omitempty"`
}

// ActivePhone returns the number currently in use, or "" when the candidate
// list is exhausted.
func (c Contact) ActivePhone() string {
	if c.PhoneIndex < 0 || c.PhoneIndex >= len(c.Phones) {
		return ""
	}
	return c.Phones[c.PhoneIndex]
}

// DedupKey derives the deduplication key for a debtor within a batch.
// Hashed so contact phone numbers never appear in an index column.
func DedupKey(accountID, batchID, phone string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", accountID, batchID, phone)))
	return hex.EncodeToString(sum[:16])
}

package job

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("job: not found")
	ErrDuplicateJob    = errors.New("job: duplicate dedup key")
	ErrInvalidArgument = errors.New("job: invalid argument")

	// ErrLeaseLost means a settlement write raced with lease expiry: the job
	// is no longer in_progress under the caller's worker id. The caller must
	// discard its outcome; another worker owns (or owned) the job now.
	ErrLeaseLost = errors.New("job: lease lost")
)

// Store is the durable job collection plus the lease protocol.
//
// Correctness contract: ClaimNext and every settlement write are single
// atomic operations against the backing store. Worker processes share no
// memory; this interface is their only coordination point.
type Store interface {
	// Create inserts a pending job. A duplicate dedup key returns
	// ErrDuplicateJob rather than silently creating a second job for the
	// same debtor within the batch.
	Create(ctx context.Context, j *Job) error

	Get(ctx context.Context, id string) (Job, error)

	// ClaimNext atomically selects the oldest eligible job and transitions
	// it to in_progress under workerID with a lease of the given duration,
	// incrementing its attempt counter. Eligible means: pending or
	// scheduled past its not_before, or in_progress with an expired lease
	// (abandoned by a crashed worker), always with attempts remaining.
	// Returns (nil, nil) when no job is eligible.
	ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*Job, error)

	// SetReservedCost records the ledger hold for the current attempt.
	// Fenced by workerID like the settlement writes.
	SetReservedCost(ctx context.Context, jobID, workerID string, costMinor int64) error

	// MarkCompleted, Requeue and MarkFailed settle an attempt. Each is
	// fenced: it applies only while the job is still in_progress under
	// workerID, otherwise ErrLeaseLost. The lease owner is the fencing
	// token: a worker whose lease expired mid-call cannot overwrite the
	// outcome written by the worker that reclaimed the job.
	MarkCompleted(ctx context.Context, jobID, workerID string) error
	Requeue(ctx context.Context, jobID, workerID string, retryAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, jobID, workerID string, lastError string) error

	// AdvancePhone moves the contact to its next phone candidate. Fenced.
	AdvancePhone(ctx context.Context, jobID, workerID string) error

	// ReleaseClaim hands a claimed job back without consuming the attempt:
	// the attempt counter is decremented and the job hidden until notBefore.
	// Used when the worker backs off before invoking the provider (e.g. the
	// account's concurrent-call cap is saturated). Fenced.
	ReleaseClaim(ctx context.Context, jobID, workerID string, notBefore time.Time) error

	// CancelBatch marks every pending/scheduled job of a batch cancelled.
	// Advisory: jobs already leased finish their attempt normally and only
	// future claims are prevented. Returns the number of jobs cancelled.
	CancelBatch(ctx context.Context, accountID, batchID string) (int64, error)

	// ReapExhausted fails jobs whose lease expired on their final attempt.
	// Such jobs are no longer claimable (no attempts remain) and would
	// otherwise sit in_progress forever. Returns the number reaped.
	ReapExhausted(ctx context.Context) (int64, error)

	ListByBatch(ctx context.Context, accountID, batchID string) ([]Job, error)
}

package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresStore implements Store on database/sql (pgx stdlib driver).
//
// Expected table: call_jobs with
// - UNIQUE (dedup_key)
// - contact and payload stored as JSONB
// - a partial index on (status, not_before, created_at) for the claim scan
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `
id, account_id, batch_id, dedup_key, status,
worker_id, reserved_until, not_before,
attempts, max_attempts, last_error, reserved_cost_minor,
contact, payload,
created_at, started_at, finished_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, j *Job) error {
	if j.ID == "" || j.AccountID == "" || j.DedupKey == "" {
		return ErrInvalidArgument
	}
	contact, err := json.Marshal(j.Contact)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO call_jobs (
  id, account_id, batch_id, dedup_key, status,
  attempts, max_attempts, reserved_cost_minor,
  contact, payload, not_before,
  created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
`
	_, err = s.db.ExecContext(ctx, q,
		j.ID,
		j.AccountID,
		j.BatchID,
		j.DedupKey,
		j.Status,
		j.Attempts,
		j.MaxAttempts,
		j.ReservedCostMinor,
		contact,
		payload,
		j.NotBefore,
		j.CreatedAt,
	)
	if err != nil {
		// 23505 = unique_violation; dedup_key is the only unique besides pk.
		if strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateJob
		}
		return err
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Job, error) {
	q := fmt.Sprintf(`SELECT %s FROM call_jobs WHERE id = $1`, jobColumns)
	return scanJob(s.db.QueryRowContext(ctx, q, id))
}

// ClaimNext is the heart of the lease protocol: one UPDATE whose target row
// is picked with FOR UPDATE SKIP LOCKED, so under any number of concurrent
// callers exactly one worker receives a given job for a given lease window.
func (s *PostgresStore) ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*Job, error) {
	if workerID == "" || lease <= 0 {
		return nil, ErrInvalidArgument
	}
	now := time.Now().UTC()
	until := now.Add(lease)

	q := fmt.Sprintf(`
UPDATE call_jobs
SET status = 'in_progress',
    worker_id = $1,
    reserved_until = $2,
    not_before = NULL,
    attempts = attempts + 1,
    started_at = COALESCE(started_at, $3),
    updated_at = $3
WHERE id = (
  SELECT id FROM call_jobs
  WHERE attempts < max_attempts
    AND (
         (status IN ('pending','scheduled') AND (not_before IS NULL OR not_before <= $3))
      OR (status = 'in_progress' AND reserved_until IS NOT NULL AND reserved_until <= $3)
    )
  ORDER BY created_at ASC
  FOR UPDATE SKIP LOCKED
  LIMIT 1
)
RETURNING %s`, jobColumns)

	j, err := scanJob(s.db.QueryRowContext(ctx, q, workerID, until, now))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) SetReservedCost(ctx context.Context, jobID, workerID string, costMinor int64) error {
	const q = `
UPDATE call_jobs
SET reserved_cost_minor = $3, updated_at = now()
WHERE id = $1 AND status = 'in_progress' AND worker_id = $2
`
	return s.fenced(ctx, q, jobID, workerID, costMinor)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, jobID, workerID string) error {
	const q = `
UPDATE call_jobs
SET status = 'completed',
    worker_id = NULL, reserved_until = NULL, not_before = NULL,
    last_error = '', reserved_cost_minor = 0,
    finished_at = now(), updated_at = now()
WHERE id = $1 AND status = 'in_progress' AND worker_id = $2
`
	return s.fenced(ctx, q, jobID, workerID)
}

func (s *PostgresStore) Requeue(ctx context.Context, jobID, workerID string, retryAt time.Time, lastError string) error {
	const q = `
UPDATE call_jobs
SET status = 'pending',
    worker_id = NULL, reserved_until = NULL,
    not_before = $3, last_error = $4, reserved_cost_minor = 0,
    updated_at = now()
WHERE id = $1 AND status = 'in_progress' AND worker_id = $2
`
	return s.fenced(ctx, q, jobID, workerID, retryAt.UTC(), lastError)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, jobID, workerID string, lastError string) error {
	const q = `
UPDATE call_jobs
SET status = 'failed',
    worker_id = NULL, reserved_until = NULL, not_before = NULL,
    last_error = $3, reserved_cost_minor = 0,
    finished_at = now(), updated_at = now()
WHERE id = $1 AND status = 'in_progress' AND worker_id = $2
`
	return s.fenced(ctx, q, jobID, workerID, lastError)
}

func (s *PostgresStore) AdvancePhone(ctx context.Context, jobID, workerID string) error {
	const q = `
UPDATE call_jobs
SET contact = jsonb_set(contact, '{phone_index}', to_jsonb((contact->>'phone_index')::int + 1)),
    updated_at = now()
WHERE id = $1 AND status = 'in_progress' AND worker_id = $2
`
	return s.fenced(ctx, q, jobID, workerID)
}

func (s *PostgresStore) ReleaseClaim(ctx context.Context, jobID, workerID string, notBefore time.Time) error {
	const q = `
UPDATE call_jobs
SET status = 'pending',
    worker_id = NULL, reserved_until = NULL,
    not_before = $3,
    attempts = GREATEST(attempts - 1, 0),
    updated_at = now()
WHERE id = $1 AND status = 'in_progress' AND worker_id = $2
`
	return s.fenced(ctx, q, jobID, workerID, notBefore.UTC())
}

func (s *PostgresStore) CancelBatch(ctx context.Context, accountID, batchID string) (int64, error) {
	const q = `
UPDATE call_jobs
SET status = 'cancelled',
    worker_id = NULL, reserved_until = NULL, not_before = NULL,
    finished_at = now(), updated_at = now()
WHERE account_id = $1 AND batch_id = $2 AND status IN ('pending','scheduled')
`
	res, err := s.db.ExecContext(ctx, q, accountID, batchID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) ReapExhausted(ctx context.Context) (int64, error) {
	const q = `
UPDATE call_jobs
SET status = 'failed',
    worker_id = NULL, reserved_until = NULL,
    last_error = 'lease expired on final attempt',
    finished_at = now(), updated_at = now()
WHERE status = 'in_progress'
  AND reserved_until IS NOT NULL AND reserved_until <= now()
  AND attempts >= max_attempts
`
	res, err := s.db.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) ListByBatch(ctx context.Context, accountID, batchID string) ([]Job, error) {
	q := fmt.Sprintf(`
SELECT %s FROM call_jobs
WHERE account_id = $1 AND batch_id = $2
ORDER BY created_at ASC`, jobColumns)

	rows, err := s.db.QueryContext(ctx, q, accountID, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// fenced runs a lease-guarded UPDATE; zero rows means the caller's lease is
// no longer valid for this job.
func (s *PostgresStore) fenced(ctx context.Context, q string, jobID, workerID string, args ...any) error {
	all := append([]any{jobID, workerID}, args...)
	res, err := s.db.ExecContext(ctx, q, all...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var workerID sql.NullString
	var reservedUntil, notBefore, startedAt, finishedAt sql.NullTime
	var contact, payload []byte

	err := row.Scan(
		&j.ID,
		&j.AccountID,
		&j.BatchID,
		&j.DedupKey,
		&j.Status,
		&workerID,
		&reservedUntil,
		&notBefore,
		&j.Attempts,
		&j.MaxAttempts,
		&j.LastError,
		&j.ReservedCostMinor,
		&contact,
		&payload,
		&j.CreatedAt,
		&startedAt,
		&finishedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}

	if workerID.Valid {
		v := workerID.String
		j.WorkerID = &v
	}
	if reservedUntil.Valid {
		t := reservedUntil.Time
		j.ReservedUntil = &t
	}
	if notBefore.Valid {
		t := notBefore.Time
		j.NotBefore = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	if err := json.Unmarshal(contact, &j.Contact); err != nil {
		return Job{}, err
	}
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return Job{}, err
	}
	return j, nil
}

package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo implements Recorder and ListRepository on database/sql (pgx
// stdlib driver). call_attempts is append-only; INSERT and SELECT only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Record(ctx context.Context, a Attempt) error {
	const q = `
INSERT INTO call_attempts (
  id, account_id, batch_id, job_id, attempt,
  to_number, provider_call_id, status, duration_seconds, error, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := r.db.ExecContext(ctx, q,
		a.ID, a.AccountID, a.BatchID, a.JobID, a.Attempt,
		a.To, a.ProviderCallID, a.Status, a.DurationSeconds, a.Error, a.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListAttempts(ctx context.Context, accountID string, from, to time.Time, batchID string) ([]Attempt, error) {
	if accountID == "" {
		return nil, errors.New("account_id required")
	}
	q := `
SELECT id, account_id, batch_id, job_id, attempt,
       to_number, provider_call_id, status, duration_seconds, error, created_at
FROM call_attempts
WHERE account_id = $1 AND created_at >= $2 AND created_at < $3`
	args := []any{accountID, from, to}
	if batchID != "" {
		q += ` AND batch_id = $4`
		args = append(args, batchID)
	}
	q += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(
			&a.ID, &a.AccountID, &a.BatchID, &a.JobID, &a.Attempt,
			&a.To, &a.ProviderCallID, &a.Status, &a.DurationSeconds, &a.Error, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

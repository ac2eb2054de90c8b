package campaign

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo implements BatchRepository on database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const batchColumns = `
id, account_id, name, status,
total_jobs, duplicate_rows, rejected_rows,
created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, b *Batch) error {
	if b.ID == "" || b.AccountID == "" {
		return ErrInvalidArgument
	}
	const q = `
INSERT INTO call_batches (
  id, account_id, name, status,
  total_jobs, duplicate_rows, rejected_rows,
  created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
`
	_, err := r.db.ExecContext(ctx, q,
		b.ID, b.AccountID, b.Name, b.Status,
		b.TotalJobs, b.DuplicateRows, b.RejectedRows,
		b.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, accountID, batchID string) (Batch, error) {
	const q = `
SELECT id, account_id, name, status,
       total_jobs, duplicate_rows, rejected_rows,
       created_at, updated_at
FROM call_batches
WHERE id = $1 AND account_id = $2`

	var b Batch
	err := r.db.QueryRowContext(ctx, q, batchID, accountID).Scan(
		&b.ID, &b.AccountID, &b.Name, &b.Status,
		&b.TotalJobs, &b.DuplicateRows, &b.RejectedRows,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Batch{}, ErrNotFound
		}
		return Batch{}, err
	}
	return b, nil
}

func (r *PostgresRepo) UpdateCounts(ctx context.Context, batchID string, totalJobs, duplicateRows, rejectedRows int) error {
	const q = `
UPDATE call_batches
SET total_jobs = $2, duplicate_rows = $3, rejected_rows = $4, updated_at = now()
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, batchID, totalJobs, duplicateRows, rejectedRows)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) SetStatus(ctx context.Context, accountID, batchID string, status BatchStatus) error {
	const q = `
UPDATE call_batches
SET status = $3, updated_at = now()
WHERE id = $1 AND account_id = $2
`
	res, err := r.db.ExecContext(ctx, q, batchID, accountID, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListByAccount(ctx context.Context, accountID string) ([]Batch, error) {
	const q = `
SELECT id, account_id, name, status,
       total_jobs, duplicate_rows, rejected_rows,
       created_at, updated_at
FROM call_batches
WHERE account_id = $1
ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(
			&b.ID, &b.AccountID, &b.Name, &b.Status,
			&b.TotalJobs, &b.DuplicateRows, &b.RejectedRows,
			&b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

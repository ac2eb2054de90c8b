package account

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"collections-dialer/pkg/utils"
)

// PostgresStore implements Store on database/sql (pgx stdlib driver).
//
// Expected tables:
// - accounts (balance columns mutated only here)
// - account_transactions (append-only, UNIQUE (account_id, idempotency_key))
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, accountID string) (Account, error) {
	const q = `
SELECT id, name, plan, status,
       minutes_remaining, minutes_reserved,
       credit_balance_minor, credit_reserved_minor, currency,
       created_at, updated_at
FROM accounts
WHERE id = $1
`
	var a Account
	if err := s.db.QueryRowContext(ctx, q, accountID).Scan(
		&a.ID,
		&a.Name,
		&a.Plan,
		&a.Status,
		&a.MinutesRemaining,
		&a.MinutesReserved,
		&a.CreditBalanceMinor,
		&a.CreditReservedMinor,
		&a.Currency,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// ReserveCredit embeds the admission condition in the UPDATE itself: the
// check and the increment are one statement, so concurrent reservations
// serialize on the row and the losers simply match zero rows.
func (s *PostgresStore) ReserveCredit(ctx context.Context, accountID string, amountMinor int64) (bool, error) {
	const q = `
UPDATE accounts
SET credit_reserved_minor = credit_reserved_minor + $2,
    updated_at = now()
WHERE id = $1
  AND plan = 'credit_based'
  AND credit_balance_minor - credit_reserved_minor >= $2
`
	res, err := s.db.ExecContext(ctx, q, accountID, amountMinor)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) Apply(ctx context.Context, accountID string, delta BalanceDelta, txn Transaction) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Serialize money operations per account.
		var status AccountStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM accounts WHERE id = $1 FOR UPDATE`, accountID,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		// Idempotency: the first settlement of an attempt wins; replays
		// observe the existing row and change nothing.
		var existing string
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM account_transactions WHERE account_id = $1 AND idempotency_key = $2 LIMIT 1`,
			accountID, txn.IdempotencyKey,
		).Scan(&existing)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		const ins = `
INSERT INTO account_transactions (
  id, account_id, type, amount_minor, minutes, job_id, idempotency_key, note, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
		if _, err := tx.ExecContext(ctx, ins,
			txn.ID,
			txn.AccountID,
			txn.Type,
			txn.AmountMinor,
			txn.Minutes,
			txn.JobID,
			txn.IdempotencyKey,
			txn.Note,
			txn.CreatedAt,
		); err != nil {
			return err
		}

		const upd = `
UPDATE accounts
SET credit_balance_minor  = credit_balance_minor + $2,
    credit_reserved_minor = GREATEST(credit_reserved_minor + $3, 0),
    minutes_remaining     = minutes_remaining + $4,
    updated_at            = now()
WHERE id = $1
`
		_, err = tx.ExecContext(ctx, upd,
			accountID,
			delta.CreditBalanceMinor,
			delta.CreditReservedMinor,
			delta.MinutesRemaining,
		)
		return err
	})
}

func (s *PostgresStore) Transactions(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	const q = `
SELECT id, account_id, type, amount_minor, minutes, job_id, idempotency_key, note, created_at
FROM account_transactions
WHERE account_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC
`
	rows, err := s.db.QueryContext(ctx, q, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID,
			&t.AccountID,
			&t.Type,
			&t.AmountMinor,
			&t.Minutes,
			&t.JobID,
			&t.IdempotencyKey,
			&t.Note,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

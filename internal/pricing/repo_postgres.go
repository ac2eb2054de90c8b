package pricing

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo implements RateRepository on database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindMinuteRate(ctx context.Context, accountID, destination string, at time.Time) (MinuteRate, bool, error) {
	const q = `
SELECT id, account_id, destination, rate_per_minute_minor, currency,
       minimum_billable_seconds, billing_increment_seconds,
       status, effective_from, effective_to
FROM minute_rates
WHERE account_id = $1 AND destination = $2 AND status = 'active'
  AND effective_from <= $3
  AND (effective_to IS NULL OR effective_to > $3)
ORDER BY effective_from DESC
LIMIT 1`

	var rate MinuteRate
	var effectiveTo sql.NullTime
	err := r.db.QueryRowContext(ctx, q, accountID, destination, at).Scan(
		&rate.ID, &rate.AccountID, &rate.Destination, &rate.RatePerMinuteMinor, &rate.Currency,
		&rate.MinimumBillableSeconds, &rate.BillingIncrementSeconds,
		&rate.Status, &rate.EffectiveFrom, &effectiveTo,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MinuteRate{}, false, nil
		}
		return MinuteRate{}, false, err
	}
	if effectiveTo.Valid {
		t := effectiveTo.Time
		rate.EffectiveTo = &t
	}
	return rate, true, nil
}

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresRepo implements Repository on database/sql (pgx stdlib driver).
// audit_events has no updates or deletes; INSERT and SELECT only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	detail, err := marshalDetail(e.Detail)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO audit_events (id, account_id, actor, action, target_id, detail, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err = r.db.ExecContext(ctx, q, e.ID, e.AccountID, e.Actor, e.Action, e.TargetID, detail, e.CreatedAt)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, accountID string, from, to time.Time) ([]Event, error) {
	const q = `
SELECT id, account_id, actor, action, target_id, detail, created_at
FROM audit_events
WHERE account_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, q, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var detail []byte
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Actor, &e.Action, &e.TargetID, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

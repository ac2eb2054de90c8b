package account

import "time"

// Account is the financial container call jobs draw against.
//
// Money invariants:
// - reserved <= balance at all times (credit plans)
// - balances are mutated only through reserve/commit/release and top-up
//   transactions, never edited directly
// - every balance change has a corresponding Transaction row
type Account struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	Plan   PlanType      `json:"plan" db:"plan"`
	Status AccountStatus `json:"status" db:"status"`

	// Minutes-based plans: remaining talk time and (future) holds.
	// Reservations on minutes plans do not pre-deduct because call duration
	// is unknown at reservation time; MinutesReserved exists for symmetry
	// and stays zero under the current admission rule.
	MinutesRemaining int64 `json:"minutes_remaining" db:"minutes_remaining"`
	MinutesReserved  int64 `json:"minutes_reserved" db:"minutes_reserved"`

	// Credit-based plans: balance and outstanding reservations, minor units.
	CreditBalanceMinor  int64  `json:"credit_balance_minor" db:"credit_balance_minor"`
	CreditReservedMinor int64  `json:"credit_reserved_minor" db:"credit_reserved_minor"`
	Currency            string `json:"currency" db:"currency"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type PlanType string

const (
	PlanMinutesBased PlanType = "minutes_based"
	PlanCreditBased  PlanType = "credit_based"
	PlanUnlimited    PlanType = "unlimited"
)

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusDisabled AccountStatus = "disabled"
)

// Available reports the spendable credit in minor units.
func (a Account) Available() int64 {
	return a.CreditBalanceMinor - a.CreditReservedMinor
}

// MinutesAvailable reports remaining minutes net of holds.
func (a Account) MinutesAvailable() int64 {
	return a.MinutesRemaining - a.MinutesReserved
}

// Transaction is an immutable append-only audit record of a balance change.
// It is used for reconciliation; the Account row is authoritative for the
// current balance.
//
// Idempotency invariant: (account_id, idempotency_key) is unique. Settlement
// derives the key from job id + attempt so replaying a settlement cannot
// double-charge.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Type      TransactionType `json:"type" db:"type"`

	// AmountMinor is signed: top-ups and bonuses positive, usage negative.
	AmountMinor int64 `json:"amount_minor" db:"amount_minor"`
	// Minutes is signed talk time for minutes-based plans.
	Minutes int64 `json:"minutes" db:"minutes"`

	// JobID links usage back to the call job that incurred it.
	JobID string `json:"job_id,omitempty" db:"job_id"`

	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`
	Note           string `json:"note,omitempty" db:"note"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type TransactionType string

const (
	TransactionTypeTopup TransactionType = "topup"
	TransactionTypeUsage TransactionType = "usage"
	TransactionTypeBonus TransactionType = "bonus"
	// TransactionTypeRelease records a dropped hold. Zero balance impact; it
	// exists so releases share the settlement idempotency key with commits.
	TransactionTypeRelease TransactionType = "release"
)

// Reservation is a provisional hold against an account, granted by
// TryReserve and consumed by exactly one Commit or Release.
type Reservation struct {
	AccountID string
	Plan      PlanType

	// HeldMinor is the amount added to credit_reserved_minor at grant time.
	// Zero for minutes-based and unlimited plans.
	HeldMinor int64

	JobID   string
	Attempt int
}

// Usage is the actual cost of a finished call, supplied at commit time.
type Usage struct {
	CostMinor       int64
	BillableMinutes int64
	DurationSeconds int
}

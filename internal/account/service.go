package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract for accounts and transactions.
//
// Every mutating method must be a single atomic conditional operation: the
// dialer runs many worker processes against one store and the reserve path
// in particular must never be a read-modify-write split across round trips.
type Store interface {
	Get(ctx context.Context, accountID string) (Account, error)

	// ReserveCredit atomically increments credit_reserved_minor by
	// amountMinor iff balance - reserved >= amountMinor still holds.
	// Returns false (and no error) when the condition fails.
	ReserveCredit(ctx context.Context, accountID string, amountMinor int64) (bool, error)

	// Apply atomically applies a balance delta and appends the transaction.
	// When a transaction with the same (account_id, idempotency_key) already
	// exists the call is a no-op; the first write wins.
	Apply(ctx context.Context, accountID string, delta BalanceDelta, txn Transaction) error

	Transactions(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error)
}

// BalanceDelta describes the signed balance mutation applied with a
// transaction append.
type BalanceDelta struct {
	CreditBalanceMinor  int64
	CreditReservedMinor int64
	MinutesRemaining    int64
}

var (
	ErrNotFound            = errors.New("account: not found")
	ErrInvalidArgument     = errors.New("account: invalid argument")
	ErrAccountDisabled     = errors.New("account: disabled")
	ErrInsufficientBalance = errors.New("account: insufficient balance")
)

// Service exposes the ledger operations the dialer admission path depends on:
// TryReserve / Commit / Release, plus administrative credits.
type Service struct {
	store Store
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// TryReserve grants or denies admission for one call attempt.
//
// Plan rules:
//   - unlimited: always grants; zero-amount hold for audit symmetry.
//   - minutes_based: grants iff any minutes remain. Duration is unknown at
//     reservation time so nothing is pre-deducted; the deduction happens at
//     Commit from the actual call duration.
//   - credit_based: grants iff available credit covers the fixed per-call
//     estimate, and atomically moves the estimate into reserved. The
//     condition is embedded in the update itself so two racing workers can
//     never both pass against the same remaining balance.
func (s *Service) TryReserve(ctx context.Context, accountID string, estimateMinor int64, jobID string, attempt int) (Reservation, error) {
	if accountID == "" || jobID == "" {
		return Reservation{}, ErrInvalidArgument
	}
	if estimateMinor < 0 {
		return Reservation{}, ErrInvalidArgument
	}

	acct, err := s.store.Get(ctx, accountID)
	if err != nil {
		return Reservation{}, err
	}
	if acct.Status != AccountStatusActive {
		return Reservation{}, ErrAccountDisabled
	}

	res := Reservation{AccountID: accountID, Plan: acct.Plan, JobID: jobID, Attempt: attempt}

	switch acct.Plan {
	case PlanUnlimited:
		return res, nil

	case PlanMinutesBased:
		if acct.MinutesAvailable() <= 0 {
			return Reservation{}, ErrInsufficientBalance
		}
		return res, nil

	case PlanCreditBased:
		ok, err := s.store.ReserveCredit(ctx, accountID, estimateMinor)
		if err != nil {
			return Reservation{}, err
		}
		if !ok {
			return Reservation{}, ErrInsufficientBalance
		}
		res.HeldMinor = estimateMinor
		return res, nil

	default:
		return Reservation{}, fmt.Errorf("%w: unknown plan %q", ErrInvalidArgument, acct.Plan)
	}
}

// Commit replaces the reservation with the true cost of the finished call
// and records a usage transaction. Safe to retry: the transaction
// idempotency key makes duplicate commits no-ops.
func (s *Service) Commit(ctx context.Context, res Reservation, usage Usage) error {
	if res.AccountID == "" || res.JobID == "" {
		return ErrInvalidArgument
	}
	if usage.CostMinor < 0 || usage.BillableMinutes < 0 {
		return ErrInvalidArgument
	}

	txn := Transaction{
		ID:             uuid.NewString(),
		AccountID:      res.AccountID,
		Type:           TransactionTypeUsage,
		JobID:          res.JobID,
		IdempotencyKey: settlementKey(res.JobID, res.Attempt),
		CreatedAt:      s.clock().UTC(),
	}

	var delta BalanceDelta
	switch res.Plan {
	case PlanUnlimited:
		// Nothing held, nothing charged; the transaction still records usage.
		txn.Minutes = -usage.BillableMinutes
	case PlanMinutesBased:
		delta.MinutesRemaining = -usage.BillableMinutes
		txn.Minutes = -usage.BillableMinutes
	case PlanCreditBased:
		delta.CreditBalanceMinor = -usage.CostMinor
		delta.CreditReservedMinor = -res.HeldMinor
		txn.AmountMinor = -usage.CostMinor
	default:
		return fmt.Errorf("%w: unknown plan %q", ErrInvalidArgument, res.Plan)
	}

	return s.store.Apply(ctx, res.AccountID, delta, txn)
}

// Release drops the hold when the call never happened (provider refused to
// even initiate, or the worker is unwinding a lost lease). Zero balance
// impact. It shares the settlement idempotency key with Commit: once an
// attempt has been committed or released, a replayed Release is a no-op and
// cannot touch holds belonging to other in-flight attempts.
func (s *Service) Release(ctx context.Context, res Reservation) error {
	if res.AccountID == "" || res.JobID == "" {
		return ErrInvalidArgument
	}
	if res.Plan != PlanCreditBased || res.HeldMinor == 0 {
		return nil
	}

	txn := Transaction{
		ID:             uuid.NewString(),
		AccountID:      res.AccountID,
		Type:           TransactionTypeRelease,
		JobID:          res.JobID,
		IdempotencyKey: settlementKey(res.JobID, res.Attempt),
		CreatedAt:      s.clock().UTC(),
	}
	delta := BalanceDelta{CreditReservedMinor: -res.HeldMinor}
	return s.store.Apply(ctx, res.AccountID, delta, txn)
}

// TopUpRequest credits an account. IdempotencyKey is required so a retried
// top-up cannot double-credit.
type TopUpRequest struct {
	AmountMinor    int64
	Minutes        int64
	IdempotencyKey string
	Note           string
}

func (s *Service) TopUp(ctx context.Context, accountID string, req TopUpRequest) (Transaction, error) {
	return s.credit(ctx, accountID, TransactionTypeTopup, req)
}

// Bonus credits promotional balance; ledgered separately from paid top-ups.
func (s *Service) Bonus(ctx context.Context, accountID string, req TopUpRequest) (Transaction, error) {
	return s.credit(ctx, accountID, TransactionTypeBonus, req)
}

func (s *Service) credit(ctx context.Context, accountID string, typ TransactionType, req TopUpRequest) (Transaction, error) {
	if accountID == "" || req.IdempotencyKey == "" {
		return Transaction{}, ErrInvalidArgument
	}
	if req.AmountMinor < 0 || req.Minutes < 0 {
		return Transaction{}, ErrInvalidArgument
	}
	if req.AmountMinor == 0 && req.Minutes == 0 {
		return Transaction{}, ErrInvalidArgument
	}

	txn := Transaction{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Type:           typ,
		AmountMinor:    req.AmountMinor,
		Minutes:        req.Minutes,
		IdempotencyKey: req.IdempotencyKey,
		Note:           req.Note,
		CreatedAt:      s.clock().UTC(),
	}
	delta := BalanceDelta{
		CreditBalanceMinor: req.AmountMinor,
		MinutesRemaining:   req.Minutes,
	}
	if err := s.store.Apply(ctx, accountID, delta, txn); err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

func (s *Service) Get(ctx context.Context, accountID string) (Account, error) {
	if accountID == "" {
		return Account{}, ErrInvalidArgument
	}
	return s.store.Get(ctx, accountID)
}

func (s *Service) Transactions(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	if accountID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.Transactions(ctx, accountID, from, to)
}

// settlementKey is the ledger idempotency key for one settled attempt.
func settlementKey(jobID string, attempt int) string {
	return fmt.Sprintf("job:%s:attempt:%d", jobID, attempt)
}

package reporting

import (
	"context"
	"errors"
	"time"

	"collections-dialer/internal/account"
	"collections-dialer/internal/calls"
)

var ErrInvalidArgument = errors.New("reporting: invalid argument")

// Service builds read-only rollups from the attempt log and the transaction
// ledger. It never mutates anything; reconciliation reads the same sources.
type Service struct {
	attempts calls.ListRepository
	ledger   LedgerReader
}

// LedgerReader is the slice of the account service reporting needs.
type LedgerReader interface {
	Transactions(ctx context.Context, accountID string, from, to time.Time) ([]account.Transaction, error)
}

func NewService(attempts calls.ListRepository, ledger LedgerReader) *Service {
	return &Service{attempts: attempts, ledger: ledger}
}

// CallSummary rolls up call attempts for an account, optionally scoped to a
// batch.
type CallSummary struct {
	AccountID string `json:"account_id"`
	BatchID   string `json:"batch_id,omitempty"`

	TotalAttempts int `json:"total_attempts"`
	Completed     int `json:"completed"`
	NoAnswer      int `json:"no_answer"`
	Failed        int `json:"failed"`
	Denied        int `json:"denied"`

	TotalDurationSeconds int `json:"total_duration_seconds"`
}

func (s *Service) CallSummary(ctx context.Context, accountID string, from, to time.Time, batchID string) (CallSummary, error) {
	if accountID == "" {
		return CallSummary{}, ErrInvalidArgument
	}
	attempts, err := s.attempts.ListAttempts(ctx, accountID, from, to, batchID)
	if err != nil {
		return CallSummary{}, err
	}

	sum := CallSummary{AccountID: accountID, BatchID: batchID}
	for _, a := range attempts {
		sum.TotalAttempts++
		sum.TotalDurationSeconds += a.DurationSeconds
		switch a.Status {
		case calls.AttemptStatusCompleted:
			sum.Completed++
		case calls.AttemptStatusNoAnswer:
			sum.NoAnswer++
		case calls.AttemptStatusFailed:
			sum.Failed++
		case calls.AttemptStatusDenied:
			sum.Denied++
		}
	}
	return sum, nil
}

// SpendSummary totals ledger movement per transaction type. Amounts are in
// minor units with the ledger's signs preserved: usage negative, credits
// positive.
type SpendSummary struct {
	AccountID string `json:"account_id"`

	TopupMinor int64 `json:"topup_minor"`
	BonusMinor int64 `json:"bonus_minor"`
	UsageMinor int64 `json:"usage_minor"`
	NetMinor   int64 `json:"net_minor"`

	UsageMinutes int64 `json:"usage_minutes"`

	TransactionCount int `json:"transaction_count"`
}

func (s *Service) SpendSummary(ctx context.Context, accountID string, from, to time.Time) (SpendSummary, error) {
	if accountID == "" {
		return SpendSummary{}, ErrInvalidArgument
	}
	txns, err := s.ledger.Transactions(ctx, accountID, from, to)
	if err != nil {
		return SpendSummary{}, err
	}

	sum := SpendSummary{AccountID: accountID}
	for _, t := range txns {
		sum.TransactionCount++
		sum.NetMinor += t.AmountMinor
		switch t.Type {
		case account.TransactionTypeTopup:
			sum.TopupMinor += t.AmountMinor
		case account.TransactionTypeBonus:
			sum.BonusMinor += t.AmountMinor
		case account.TransactionTypeUsage:
			sum.UsageMinor += t.AmountMinor
			if t.Minutes < 0 {
				sum.UsageMinutes += -t.Minutes
			}
		}
	}
	return sum, nil
}

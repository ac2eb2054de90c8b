package account

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// It honors the same atomic semantics as the Postgres implementation: each
// mutating call runs under one lock, so the reserve condition and the
// increment are indivisible from the caller's point of view.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	txns     []Transaction
	idemSeen map[string]struct{} // account_id|idempotency_key
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[string]*Account{},
		idemSeen: map[string]struct{}{},
	}
}

// Put seeds an account. Test helper; not part of the Store contract.
func (s *MemoryStore) Put(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	s.accounts[a.ID] = &cp
}

func (s *MemoryStore) Get(ctx context.Context, accountID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *a, nil
}

func (s *MemoryStore) ReserveCredit(ctx context.Context, accountID string, amountMinor int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return false, ErrNotFound
	}
	if a.Plan != PlanCreditBased {
		return false, nil
	}
	if a.CreditBalanceMinor-a.CreditReservedMinor < amountMinor {
		return false, nil
	}
	a.CreditReservedMinor += amountMinor
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) Apply(ctx context.Context, accountID string, delta BalanceDelta, txn Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}

	key := accountID + "|" + txn.IdempotencyKey
	if _, seen := s.idemSeen[key]; seen {
		return nil
	}
	s.idemSeen[key] = struct{}{}
	s.txns = append(s.txns, txn)

	a.CreditBalanceMinor += delta.CreditBalanceMinor
	a.CreditReservedMinor += delta.CreditReservedMinor
	if a.CreditReservedMinor < 0 {
		a.CreditReservedMinor = 0
	}
	a.MinutesRemaining += delta.MinutesRemaining
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Transactions(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, t := range s.txns {
		if t.AccountID != accountID {
			continue
		}
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

package dialer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"collections-dialer/internal/account"
	"collections-dialer/internal/calls"
	"collections-dialer/internal/job"
	"collections-dialer/internal/pricing"
	"collections-dialer/internal/telephony"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type settleFixture struct {
	clock    *fakeClock
	jobs     *job.MemoryStore
	accounts *account.MemoryStore
	ledger   *account.Service
	recorder *calls.MemoryRepo
	settler  *Settler
}

func newSettleFixture(t *testing.T, rates *pricing.Service) *settleFixture {
	t.Helper()
	clk := newFakeClock()
	jobs := job.NewMemoryStore()
	jobs.SetClock(clk.Now)
	accounts := account.NewMemoryStore()
	ledger := account.NewService(accounts)
	recorder := calls.NewMemoryRepo()

	policy := Policy{Backoff: Backoff{Base: 30 * time.Second, Max: 15 * time.Minute}}
	s := NewSettler(jobs, ledger, policy, rates, recorder, nil)
	s.clock = clk.Now

	return &settleFixture{
		clock:    clk,
		jobs:     jobs,
		accounts: accounts,
		ledger:   ledger,
		recorder: recorder,
		settler:  s,
	}
}

func (f *settleFixture) seedCreditAccount(balanceMinor int64) {
	f.accounts.Put(account.Account{
		ID:                 "acct-1",
		Plan:               account.PlanCreditBased,
		Status:             account.AccountStatusActive,
		CreditBalanceMinor: balanceMinor,
		Currency:           "MXN",
	})
}

func (f *settleFixture) seedJob(t *testing.T, phones []string, region string, maxAttempts int) {
	t.Helper()
	err := f.jobs.Create(context.Background(), &job.Job{
		ID:          "job-1",
		AccountID:   "acct-1",
		BatchID:     "batch-1",
		DedupKey:    job.DedupKey("acct-1", "batch-1", phones[0]),
		Status:      job.StatusPending,
		MaxAttempts: maxAttempts,
		Contact:     job.Contact{Name: "Debtor", Phones: phones, Region: region},
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

// claimAndReserve runs the admission half of the dial loop for tests.
func (f *settleFixture) claimAndReserve(t *testing.T, workerID string, estimateMinor int64) (*job.Job, account.Reservation) {
	t.Helper()
	ctx := context.Background()
	j, err := f.jobs.ClaimNext(ctx, workerID, time.Minute)
	if err != nil || j == nil {
		t.Fatalf("claim: job=%v err=%v", j, err)
	}
	res, err := f.ledger.TryReserve(ctx, j.AccountID, estimateMinor, j.ID, j.Attempts)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return j, res
}

func TestSettleSuccessChargesHeldEstimate(t *testing.T) {
	ctx := context.Background()
	f := newSettleFixture(t, nil)
	f.seedCreditAccount(1000)
	f.seedJob(t, []string{"+5215550001"}, "", 3)

	j, res := f.claimAndReserve(t, "w1", 200)

	result := telephony.OutboundCallResult{ProviderCallID: "CA123", Answered: true, DurationSeconds: 95}
	if err := f.settler.SettleSuccess(ctx, j, "w1", res, result); err != nil {
		t.Fatalf("SettleSuccess: %v", err)
	}

	got, err := f.jobs.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.FinishedAt == nil || got.WorkerID != nil {
		t.Fatalf("completed job should have finished_at set and no worker")
	}

	acct, _ := f.accounts.Get(ctx, "acct-1")
	if acct.CreditBalanceMinor != 800 {
		t.Fatalf("balance = %d, want 800", acct.CreditBalanceMinor)
	}
	if acct.CreditReservedMinor != 0 {
		t.Fatalf("reserved = %d, want 0", acct.CreditReservedMinor)
	}

	attempts := f.recorder.Attempts()
	if len(attempts) != 1 {
		t.Fatalf("recorded attempts = %d, want 1", len(attempts))
	}
	a := attempts[0]
	if a.Status != calls.AttemptStatusCompleted || a.ProviderCallID != "CA123" || a.DurationSeconds != 95 {
		t.Fatalf("unexpected attempt record: %+v", a)
	}
}

func TestSettleSuccessMetersCostFromRate(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	rates := pricing.NewService(&pricing.MemoryRepo{Rates: []pricing.MinuteRate{{
		ID:                 "rate-1",
		AccountID:          "acct-1",
		Destination:        "MX",
		RatePerMinuteMinor: 50,
		Currency:           "MXN",
		Status:             pricing.RateStatusActive,
		EffectiveFrom:      clk.Now().Add(-24 * time.Hour),
	}}})

	f := newSettleFixture(t, rates)
	f.seedCreditAccount(1000)
	f.seedJob(t, []string{"+5215550001"}, "MX", 3)

	j, res := f.claimAndReserve(t, "w1", 200)

	// 61s rounds up to 2 billable minutes at 50/min.
	result := telephony.OutboundCallResult{ProviderCallID: "CA200", Answered: true, DurationSeconds: 61}
	if err := f.settler.SettleSuccess(ctx, j, "w1", res, result); err != nil {
		t.Fatalf("SettleSuccess: %v", err)
	}

	acct, _ := f.accounts.Get(ctx, "acct-1")
	if acct.CreditBalanceMinor != 900 {
		t.Fatalf("balance = %d, want 900 (metered 100, not the 200 estimate)", acct.CreditBalanceMinor)
	}
	if acct.CreditReservedMinor != 0 {
		t.Fatalf("reserved = %d, want 0", acct.CreditReservedMinor)
	}
}

func TestSettleFailureTransientRequeuesRotatesAndReleases(t *testing.T) {
	ctx := context.Background()
	f := newSettleFixture(t, nil)
	f.seedCreditAccount(1000)
	f.seedJob(t, []string{"+5215550001", "+5215550002"}, "", 3)

	j, res := f.claimAndReserve(t, "w1", 200)

	err := f.settler.SettleFailure(ctx, j, "w1", res, telephony.NewTransientError("no answer"))
	if err != nil {
		t.Fatalf("SettleFailure: %v", err)
	}

	got, _ := f.jobs.Get(ctx, j.ID)
	if got.Status != job.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if got.NotBefore == nil || !got.NotBefore.Equal(f.clock.Now().Add(30*time.Second)) {
		t.Fatalf("not_before = %v, want now+30s", got.NotBefore)
	}
	if got.Contact.PhoneIndex != 1 {
		t.Fatalf("phone_index = %d, want 1 (rotated to next number)", got.Contact.PhoneIndex)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}

	acct, _ := f.accounts.Get(ctx, "acct-1")
	if acct.CreditBalanceMinor != 1000 || acct.CreditReservedMinor != 0 {
		t.Fatalf("failed call must cost nothing: balance=%d reserved=%d", acct.CreditBalanceMinor, acct.CreditReservedMinor)
	}

	attempts := f.recorder.Attempts()
	if len(attempts) != 1 || attempts[0].Status != calls.AttemptStatusNoAnswer {
		t.Fatalf("unexpected attempt log: %+v", attempts)
	}
}

func TestSettleFailureTransientAtCeilingFails(t *testing.T) {
	ctx := context.Background()
	f := newSettleFixture(t, nil)
	f.seedCreditAccount(1000)
	f.seedJob(t, []string{"+5215550001"}, "", 1)

	j, res := f.claimAndReserve(t, "w1", 200)

	err := f.settler.SettleFailure(ctx, j, "w1", res, telephony.NewTransientError("busy"))
	if err != nil {
		t.Fatalf("SettleFailure: %v", err)
	}

	got, _ := f.jobs.Get(ctx, j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.LastError == "" {
		t.Fatalf("failed job should keep the last error")
	}
}

func TestSettleFailurePermanentFailsFirstAttempt(t *testing.T) {
	ctx := context.Background()
	f := newSettleFixture(t, nil)
	f.seedCreditAccount(1000)
	f.seedJob(t, []string{"+5215550001"}, "", 3)

	j, res := f.claimAndReserve(t, "w1", 200)

	err := f.settler.SettleFailure(ctx, j, "w1", res, telephony.NewPermanentError("invalid number"))
	if err != nil {
		t.Fatalf("SettleFailure: %v", err)
	}

	got, _ := f.jobs.Get(ctx, j.ID)
	if got.Status != job.StatusFailed || got.Attempts != 1 {
		t.Fatalf("status=%q attempts=%d, want failed on first attempt", got.Status, got.Attempts)
	}
	acct, _ := f.accounts.Get(ctx, "acct-1")
	if acct.CreditBalanceMinor != 1000 || acct.CreditReservedMinor != 0 {
		t.Fatalf("permanent failure must cost nothing: %+v", acct)
	}
}

func TestSettleDeniedFailsAndRecords(t *testing.T) {
	ctx := context.Background()
	f := newSettleFixture(t, nil)
	f.seedCreditAccount(50)
	f.seedJob(t, []string{"+5215550001"}, "", 3)

	j, err := f.jobs.ClaimNext(ctx, "w1", time.Minute)
	if err != nil || j == nil {
		t.Fatalf("claim: %v", err)
	}
	_, rerr := f.ledger.TryReserve(ctx, j.AccountID, 200, j.ID, j.Attempts)
	if !errors.Is(rerr, account.ErrInsufficientBalance) {
		t.Fatalf("reserve err = %v, want insufficient balance", rerr)
	}

	if err := f.settler.SettleDenied(ctx, j, "w1", rerr); err != nil {
		t.Fatalf("SettleDenied: %v", err)
	}

	got, _ := f.jobs.Get(ctx, j.ID)
	if got.Status != job.StatusFailed || got.Attempts != 1 {
		t.Fatalf("status=%q attempts=%d, want failed after one denied attempt", got.Status, got.Attempts)
	}

	attempts := f.recorder.Attempts()
	if len(attempts) != 1 || attempts[0].Status != calls.AttemptStatusDenied {
		t.Fatalf("unexpected attempt log: %+v", attempts)
	}
}

func TestReplayedSuccessSettlementLeavesOtherHoldsIntact(t *testing.T) {
	ctx := context.Background()
	f := newSettleFixture(t, nil)
	f.seedCreditAccount(1000)
	f.seedJob(t, []string{"+5215550001"}, "", 3)
	// Created later so job-1 is claimed first.
	f.clock.Advance(time.Second)
	err := f.jobs.Create(ctx, &job.Job{
		ID:          "job-2",
		AccountID:   "acct-1",
		BatchID:     "batch-1",
		DedupKey:    job.DedupKey("acct-1", "batch-1", "+5215550002"),
		Status:      job.StatusPending,
		MaxAttempts: 3,
		Contact:     job.Contact{Name: "Debtor 2", Phones: []string{"+5215550002"}},
	})
	if err != nil {
		t.Fatalf("seed job-2: %v", err)
	}

	j1, res1 := f.claimAndReserve(t, "w1", 200)
	_, _ = f.claimAndReserve(t, "w2", 200)

	result := telephony.OutboundCallResult{ProviderCallID: "CA1", Answered: true, DurationSeconds: 40}
	if err := f.settler.SettleSuccess(ctx, j1, "w1", res1, result); err != nil {
		t.Fatalf("SettleSuccess: %v", err)
	}

	// The replay loses the fence on the completed job; its unwind must not
	// touch the hold still backing job-2's in-flight call.
	if err := f.settler.SettleSuccess(ctx, j1, "w1", res1, result); !errors.Is(err, job.ErrLeaseLost) {
		t.Fatalf("replayed settlement err = %v, want ErrLeaseLost", err)
	}

	acct, _ := f.accounts.Get(ctx, "acct-1")
	if acct.CreditBalanceMinor != 800 {
		t.Fatalf("balance = %d, want 800 (charged once)", acct.CreditBalanceMinor)
	}
	if acct.CreditReservedMinor != 200 {
		t.Fatalf("reserved = %d, want 200 (job-2's hold must survive the replay)", acct.CreditReservedMinor)
	}
}

func TestSettleSuccessAfterLeaseLossChargesNothing(t *testing.T) {
	ctx := context.Background()
	f := newSettleFixture(t, nil)
	f.seedCreditAccount(1000)
	f.seedJob(t, []string{"+5215550001"}, "", 3)

	jA, resA := f.claimAndReserve(t, "workerA", 200)

	// workerA stalls past its lease; workerB reclaims the job.
	f.clock.Advance(2 * time.Minute)
	jB, err := f.jobs.ClaimNext(ctx, "workerB", time.Minute)
	if err != nil || jB == nil || jB.ID != jA.ID {
		t.Fatalf("reclaim: job=%v err=%v", jB, err)
	}

	result := telephony.OutboundCallResult{ProviderCallID: "CA-stale", Answered: true, DurationSeconds: 30}
	err = f.settler.SettleSuccess(ctx, jA, "workerA", resA, result)
	if !errors.Is(err, job.ErrLeaseLost) {
		t.Fatalf("stale settlement err = %v, want ErrLeaseLost", err)
	}

	// The stale hold is released, the ledger untouched, the attempt unrecorded.
	acct, _ := f.accounts.Get(ctx, "acct-1")
	if acct.CreditBalanceMinor != 1000 || acct.CreditReservedMinor != 0 {
		t.Fatalf("stale settlement changed the ledger: %+v", acct)
	}
	if n := len(f.recorder.Attempts()); n != 0 {
		t.Fatalf("recorded attempts = %d, want 0", n)
	}

	got, _ := f.jobs.Get(ctx, jA.ID)
	if got.Status != job.StatusInProgress || got.WorkerID == nil || *got.WorkerID != "workerB" {
		t.Fatalf("job should stay with workerB: %+v", got)
	}
}

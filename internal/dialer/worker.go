package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"collections-dialer/internal/account"
	"collections-dialer/internal/job"
	"collections-dialer/internal/telephony"
	"collections-dialer/pkg/logger"
	"collections-dialer/pkg/utils"
)

// Options tunes the dial loop. Zero values fall back to defaults suitable
// for development; production values come from config.
type Options struct {
	// Workers is the number of concurrent dial loops in this process.
	Workers int

	// Lease is how long a claim stays exclusive. Must comfortably exceed the
	// longest possible call; expiry is the only crash-recovery signal.
	Lease time.Duration

	// PollInterval is the idle sleep when no job is claimable.
	PollInterval time.Duration

	// ReapInterval drives the sweep that fails expired leases with no
	// attempts left.
	ReapInterval time.Duration

	// CallCostEstimateMinor is the fixed per-call hold for credit plans.
	CallCostEstimateMinor int64

	// AccountCallCap bounds simultaneous in-flight calls per account.
	// Zero disables the cap (and the redis dependency with it).
	AccountCallCap int

	// CapRetryDelay is how long a job claimed over the cap stays hidden
	// before it becomes claimable again. The hand-back does not consume an
	// attempt.
	CapRetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.Workers <= 0 {
		out.Workers = 8
	}
	if out.Lease <= 0 {
		out.Lease = 5 * time.Minute
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 2 * time.Second
	}
	if out.ReapInterval <= 0 {
		out.ReapInterval = 30 * time.Second
	}
	if out.CallCostEstimateMinor <= 0 {
		out.CallCostEstimateMinor = 100
	}
	if out.CapRetryDelay <= 0 {
		out.CapRetryDelay = 5 * time.Second
	}
	return out
}

// Coordinator runs the dial loop: claim, admit, call, settle. It is the only
// component that talks to the telephony provider.
type Coordinator struct {
	jobs     job.Store
	ledger   *account.Service
	provider telephony.Provider
	settler  *Settler
	opts     Options

	// rdb enforces the per-account call cap; nil when the cap is disabled.
	rdb *redis.Client

	logger *slog.Logger
	clock  func() time.Time
}

func NewCoordinator(jobs job.Store, ledger *account.Service, provider telephony.Provider, settler *Settler, rdb *redis.Client, opts Options, log *slog.Logger) (*Coordinator, error) {
	if jobs == nil || ledger == nil || provider == nil || settler == nil {
		return nil, fmt.Errorf("dialer: jobs, ledger, provider and settler are required")
	}
	opts = opts.withDefaults()
	if opts.AccountCallCap > 0 && rdb == nil {
		return nil, fmt.Errorf("dialer: account call cap requires redis")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		jobs:     jobs,
		ledger:   ledger,
		provider: provider,
		settler:  settler,
		rdb:      rdb,
		opts:     opts,
		logger:   log,
		clock:    time.Now,
	}, nil
}

// Run blocks until ctx is cancelled and all workers have drained.
func (c *Coordinator) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.reapLoop(ctx)
	}()

	for i := 0; i < c.opts.Workers; i++ {
		workerID := fmt.Sprintf("worker-%s", uuid.NewString())
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.workerLoop(ctx, workerID)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func (c *Coordinator) workerLoop(ctx context.Context, workerID string) {
	log := logger.ForWorker(c.logger, workerID)
	log.Info("dial worker started")

	for {
		worked, err := c.runOnce(ctx, workerID, log)
		if ctx.Err() != nil {
			log.Info("dial worker stopping")
			return
		}
		if err != nil {
			log.Error("dial cycle failed", "err", err)
			if !sleep(ctx, c.opts.PollInterval) {
				return
			}
			continue
		}
		if !worked {
			if !sleep(ctx, c.opts.PollInterval) {
				return
			}
		}
	}
}

// runOnce processes at most one job. worked is false when the queue had
// nothing claimable.
func (c *Coordinator) runOnce(ctx context.Context, workerID string, log *slog.Logger) (worked bool, err error) {
	j, err := c.jobs.ClaimNext(ctx, workerID, c.opts.Lease)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if j == nil {
		return false, nil
	}
	log = log.With("job_id", j.ID, "account_id", j.AccountID, "attempt", j.Attempts)

	if c.opts.AccountCallCap > 0 {
		ok, capErr := utils.AcquireConcurrencyCap(ctx, c.rdb, capKey(j.AccountID), c.opts.AccountCallCap, c.opts.Lease)
		if capErr != nil {
			// Cap state unknown; hand the job back rather than risk blowing
			// past the account's trunk limit.
			c.handBack(ctx, j, workerID, log)
			return true, fmt.Errorf("call cap: %w", capErr)
		}
		if !ok {
			log.Debug("account call cap reached, handing job back")
			c.handBack(ctx, j, workerID, log)
			return true, nil
		}
		defer func() {
			if rerr := utils.ReleaseConcurrencyCap(ctx, c.rdb, capKey(j.AccountID)); rerr != nil {
				log.Warn("call cap release failed", "err", rerr)
			}
		}()
	}

	res, err := c.ledger.TryReserve(ctx, j.AccountID, c.opts.CallCostEstimateMinor, j.ID, j.Attempts)
	if err != nil {
		if ClassifyError(err) == OutcomeInsufficientBalance {
			log.Info("admission denied", "reason", err.Error())
			return true, c.settler.SettleDenied(ctx, j, workerID, err)
		}
		// Store hiccup, not a verdict. Hand the job back without consuming
		// the attempt.
		c.handBack(ctx, j, workerID, log)
		return true, fmt.Errorf("admission: %w", err)
	}

	if res.HeldMinor > 0 {
		if err := c.jobs.SetReservedCost(ctx, j.ID, workerID, res.HeldMinor); err != nil {
			if errors.Is(err, job.ErrLeaseLost) {
				c.releaseReservation(ctx, res, log)
				return true, nil
			}
			log.Warn("recording reserved cost failed", "err", err)
		}
	}

	phone := j.Contact.ActivePhone()
	if phone == "" {
		return true, c.settler.SettleFailure(ctx, j, workerID, res,
			telephony.NewPermanentError("no dialable phone number remaining"))
	}

	result, callErr := c.provider.InitiateCall(ctx, telephony.OutboundCallRequest{
		AccountID:      j.AccountID,
		JobID:          j.ID,
		To:             phone,
		Context:        j.Payload.CallContext(),
		IdempotencyKey: fmt.Sprintf("job:%s:attempt:%d", j.ID, j.Attempts),
	})
	if callErr != nil {
		log.Info("call failed", "to", phone, "err", callErr.Error())
		return true, c.settler.SettleFailure(ctx, j, workerID, res, callErr)
	}

	log.Info("call completed",
		"to", phone,
		"provider_call_id", result.ProviderCallID,
		"answered", result.Answered,
		"duration_s", result.DurationSeconds)
	return true, c.settler.SettleSuccess(ctx, j, workerID, res, result)
}

// handBack returns a claimed job to the queue without consuming the attempt.
func (c *Coordinator) handBack(ctx context.Context, j *job.Job, workerID string, log *slog.Logger) {
	notBefore := c.clock().UTC().Add(c.opts.CapRetryDelay)
	if err := c.jobs.ReleaseClaim(ctx, j.ID, workerID, notBefore); err != nil {
		log.Warn("claim hand-back failed", "err", err)
	}
}

func (c *Coordinator) releaseReservation(ctx context.Context, res account.Reservation, log *slog.Logger) {
	if err := c.ledger.Release(ctx, res); err != nil {
		log.Error("reservation release failed", "err", err)
	}
}

// reapLoop periodically fails expired leases whose attempt ceiling is spent.
// Jobs with attempts left need no sweep; expiry alone makes them claimable.
func (c *Coordinator) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.jobs.ReapExhausted(ctx)
			if err != nil {
				c.logger.Error("exhausted lease sweep failed", "err", err)
				continue
			}
			if n > 0 {
				c.logger.Warn("failed jobs with expired final-attempt leases", "count", n)
			}
		}
	}
}

func capKey(accountID string) string {
	return "dialer:calls:active:" + accountID
}

// sleep waits for d or context cancellation, reporting false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

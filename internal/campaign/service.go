package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"collections-dialer/internal/job"
)

var (
	ErrNotFound        = errors.New("campaign: batch not found")
	ErrInvalidArgument = errors.New("campaign: invalid argument")
	ErrEmptyBatch      = errors.New("campaign: batch has no usable rows")
)

// BatchRepository persists batch bookkeeping rows.
type BatchRepository interface {
	Create(ctx context.Context, b *Batch) error
	Get(ctx context.Context, accountID, batchID string) (Batch, error)
	UpdateCounts(ctx context.Context, batchID string, totalJobs, duplicateRows, rejectedRows int) error
	SetStatus(ctx context.Context, accountID, batchID string, status BatchStatus) error
	ListByAccount(ctx context.Context, accountID string) ([]Batch, error)
}

// Service turns debtor uploads into call jobs and manages batch lifecycle.
type Service struct {
	batches BatchRepository
	jobs    job.Store

	// defaultMaxAttempts applies when a request does not override it.
	defaultMaxAttempts int

	logger *slog.Logger
	clock  func() time.Time
}

func NewService(batches BatchRepository, jobs job.Store, defaultMaxAttempts int, logger *slog.Logger) *Service {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		batches:            batches,
		jobs:               jobs,
		defaultMaxAttempts: defaultMaxAttempts,
		logger:             logger,
		clock:              time.Now,
	}
}

// CreateBatch expands the upload into one job per debtor row.
//
// Row handling:
//   - rows with no dialable phone or an invalid payload are rejected, not
//     fatal; the upload continues and the result reports the count
//   - a row whose dedup key already exists in the batch is counted as a
//     duplicate and skipped (same debtor uploaded twice)
func (s *Service) CreateBatch(ctx context.Context, req CreateBatchRequest) (IngestResult, error) {
	if req.AccountID == "" || strings.TrimSpace(req.Name) == "" {
		return IngestResult{}, ErrInvalidArgument
	}
	if len(req.Rows) == 0 {
		return IngestResult{}, ErrEmptyBatch
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.defaultMaxAttempts
	}

	now := s.clock().UTC()
	b := Batch{
		ID:        uuid.NewString(),
		AccountID: req.AccountID,
		Name:      strings.TrimSpace(req.Name),
		Status:    BatchStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.batches.Create(ctx, &b); err != nil {
		return IngestResult{}, fmt.Errorf("create batch: %w", err)
	}

	var created, duplicates, rejected int
	for i, row := range req.Rows {
		phones := cleanPhones(row.Phones)
		if len(phones) == 0 {
			rejected++
			s.logger.Warn("batch row rejected", "batch_id", b.ID, "row", i, "reason", "no dialable phone")
			continue
		}
		if err := row.Payload.Validate(); err != nil {
			rejected++
			s.logger.Warn("batch row rejected", "batch_id", b.ID, "row", i, "reason", err.Error())
			continue
		}

		j := &job.Job{
			ID:          uuid.NewString(),
			AccountID:   req.AccountID,
			BatchID:     b.ID,
			DedupKey:    job.DedupKey(req.AccountID, b.ID, phones[0]),
			Status:      job.StatusPending,
			MaxAttempts: maxAttempts,
			Contact: job.Contact{
				Name:   strings.TrimSpace(row.Name),
				Phones: phones,
				Region: row.Region,
			},
			Payload: row.Payload,
		}
		switch err := s.jobs.Create(ctx, j); {
		case err == nil:
			created++
		case errors.Is(err, job.ErrDuplicateJob):
			duplicates++
		default:
			return IngestResult{}, fmt.Errorf("create job for row %d: %w", i, err)
		}
	}

	if created == 0 {
		// Bookkeeping row stays for audit; the upload itself is useless.
		_ = s.batches.UpdateCounts(ctx, b.ID, 0, duplicates, rejected)
		return IngestResult{}, ErrEmptyBatch
	}

	if err := s.batches.UpdateCounts(ctx, b.ID, created, duplicates, rejected); err != nil {
		s.logger.Error("batch count update failed", "batch_id", b.ID, "err", err)
	}
	b.TotalJobs = created
	b.DuplicateRows = duplicates
	b.RejectedRows = rejected

	s.logger.Info("batch ingested",
		"batch_id", b.ID, "account_id", b.AccountID,
		"jobs", created, "duplicates", duplicates, "rejected", rejected)

	return IngestResult{
		Batch:         b,
		JobsCreated:   created,
		DuplicateRows: duplicates,
		RejectedRows:  rejected,
	}, nil
}

// CancelBatch stops not-yet-claimed jobs. Advisory: claimed jobs finish
// their current attempt; the cancellation only prevents new claims.
func (s *Service) CancelBatch(ctx context.Context, accountID, batchID string) (int64, error) {
	if accountID == "" || batchID == "" {
		return 0, ErrInvalidArgument
	}
	if _, err := s.batches.Get(ctx, accountID, batchID); err != nil {
		return 0, err
	}

	n, err := s.jobs.CancelBatch(ctx, accountID, batchID)
	if err != nil {
		return 0, fmt.Errorf("cancel batch jobs: %w", err)
	}
	if err := s.batches.SetStatus(ctx, accountID, batchID, BatchStatusCancelled); err != nil {
		return n, fmt.Errorf("mark batch cancelled: %w", err)
	}

	s.logger.Info("batch cancelled", "batch_id", batchID, "account_id", accountID, "jobs_cancelled", n)
	return n, nil
}

// Progress rolls the batch's jobs up by status.
func (s *Service) Progress(ctx context.Context, accountID, batchID string) (Progress, error) {
	if accountID == "" || batchID == "" {
		return Progress{}, ErrInvalidArgument
	}
	b, err := s.batches.Get(ctx, accountID, batchID)
	if err != nil {
		return Progress{}, err
	}

	jobs, err := s.jobs.ListByBatch(ctx, accountID, batchID)
	if err != nil {
		return Progress{}, fmt.Errorf("list batch jobs: %w", err)
	}

	p := Progress{
		BatchID:   batchID,
		AccountID: accountID,
		Status:    b.Status,
		Counts:    map[string]int{},
		Total:     len(jobs),
	}
	for _, j := range jobs {
		p.Counts[string(j.Status)]++
		if j.Status.Terminal() {
			p.Done++
		}
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, accountID, batchID string) (Batch, error) {
	if accountID == "" || batchID == "" {
		return Batch{}, ErrInvalidArgument
	}
	return s.batches.Get(ctx, accountID, batchID)
}

func (s *Service) List(ctx context.Context, accountID string) ([]Batch, error) {
	if accountID == "" {
		return nil, ErrInvalidArgument
	}
	return s.batches.ListByAccount(ctx, accountID)
}

// cleanPhones drops empty entries and trims whitespace, preserving order.
func cleanPhones(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

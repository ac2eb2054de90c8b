package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"collections-dialer/internal/job"
)

func debtRow(name, phone string) DebtorRow {
	return DebtorRow{
		Name:   name,
		Phones: []string{phone},
		Region: "MX",
		Payload: job.Payload{
			UseCase: job.UseCaseDebtCollection,
			DebtCollection: &job.DebtCollectionPayload{
				DebtorName:     name,
				CreditorName:   "Banco Norte",
				AmountDueMinor: 150000,
				Currency:       "MXN",
			},
		},
	}
}

func newTestService(t *testing.T) (*Service, *MemoryRepo, *job.MemoryStore) {
	t.Helper()
	batches := NewMemoryRepo()
	jobs := job.NewMemoryStore()
	return NewService(batches, jobs, 3, nil), batches, jobs
}

func TestCreateBatchExpandsRowsIntoJobs(t *testing.T) {
	ctx := context.Background()
	svc, _, jobs := newTestService(t)

	res, err := svc.CreateBatch(ctx, CreateBatchRequest{
		AccountID: "acct-1",
		Name:      "march-collections",
		Rows: []DebtorRow{
			debtRow("Ana", "+5215550001"),
			debtRow("Luis", "+5215550002"),
			debtRow("Sofia", "+5215550003"),
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if res.JobsCreated != 3 || res.DuplicateRows != 0 || res.RejectedRows != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	list, err := jobs.ListByBatch(ctx, "acct-1", res.Batch.ID)
	if err != nil {
		t.Fatalf("ListByBatch: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("jobs = %d, want 3", len(list))
	}
	for _, j := range list {
		if j.Status != job.StatusPending {
			t.Fatalf("job %s status = %q, want pending", j.ID, j.Status)
		}
		if j.MaxAttempts != 3 {
			t.Fatalf("job %s max_attempts = %d, want default 3", j.ID, j.MaxAttempts)
		}
		if j.Contact.Region != "MX" {
			t.Fatalf("job %s region = %q, want MX", j.ID, j.Contact.Region)
		}
	}
}

func TestCreateBatchSkipsDuplicateDebtors(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	res, err := svc.CreateBatch(ctx, CreateBatchRequest{
		AccountID: "acct-1",
		Name:      "dupes",
		Rows: []DebtorRow{
			debtRow("Ana", "+5215550001"),
			debtRow("Ana again", "+5215550001"), // same phone, same batch
			debtRow("Luis", "+5215550002"),
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if res.JobsCreated != 2 || res.DuplicateRows != 1 {
		t.Fatalf("created=%d duplicates=%d, want 2/1", res.JobsCreated, res.DuplicateRows)
	}
	if res.Batch.TotalJobs != 2 || res.Batch.DuplicateRows != 1 {
		t.Fatalf("batch counts not updated: %+v", res.Batch)
	}
}

func TestCreateBatchRejectsBadRowsWithoutAborting(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	badPayload := debtRow("Pedro", "+5215550005")
	badPayload.Payload.DebtCollection.AmountDueMinor = 0

	res, err := svc.CreateBatch(ctx, CreateBatchRequest{
		AccountID: "acct-1",
		Name:      "mixed",
		Rows: []DebtorRow{
			debtRow("Ana", "+5215550001"),
			{Name: "NoPhone", Phones: []string{"  "}},
			badPayload,
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if res.JobsCreated != 1 || res.RejectedRows != 2 {
		t.Fatalf("created=%d rejected=%d, want 1/2", res.JobsCreated, res.RejectedRows)
	}
}

func TestCreateBatchAllRowsUnusable(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.CreateBatch(ctx, CreateBatchRequest{
		AccountID: "acct-1",
		Name:      "useless",
		Rows:      []DebtorRow{{Name: "NoPhone"}},
	})
	if !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("err = %v, want ErrEmptyBatch", err)
	}
}

func TestCancelBatchStopsPendingOnly(t *testing.T) {
	ctx := context.Background()
	svc, batches, jobs := newTestService(t)

	res, err := svc.CreateBatch(ctx, CreateBatchRequest{
		AccountID: "acct-1",
		Name:      "to-cancel",
		Rows: []DebtorRow{
			debtRow("Ana", "+5215550001"),
			debtRow("Luis", "+5215550002"),
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	// One job is mid-call when the cancel lands.
	claimed, err := jobs.ClaimNext(ctx, "w1", time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := svc.CancelBatch(ctx, "acct-1", res.Batch.ID)
	if err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("cancelled = %d, want 1 (in-flight job untouched)", n)
	}

	b, err := batches.Get(ctx, "acct-1", res.Batch.ID)
	if err != nil || b.Status != BatchStatusCancelled {
		t.Fatalf("batch status = %q err=%v, want cancelled", b.Status, err)
	}

	inFlight, _ := jobs.Get(ctx, claimed.ID)
	if inFlight.Status != job.StatusInProgress {
		t.Fatalf("in-flight job status = %q, want in_progress", inFlight.Status)
	}
}

func TestCancelBatchWrongAccount(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	res, err := svc.CreateBatch(ctx, CreateBatchRequest{
		AccountID: "acct-1",
		Name:      "mine",
		Rows:      []DebtorRow{debtRow("Ana", "+5215550001")},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	if _, err := svc.CancelBatch(ctx, "acct-2", res.Batch.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-account cancel err = %v, want ErrNotFound", err)
	}
}

func TestProgressRollsUpStatuses(t *testing.T) {
	ctx := context.Background()
	svc, _, jobs := newTestService(t)

	res, err := svc.CreateBatch(ctx, CreateBatchRequest{
		AccountID: "acct-1",
		Name:      "progress",
		Rows: []DebtorRow{
			debtRow("Ana", "+5215550001"),
			debtRow("Luis", "+5215550002"),
			debtRow("Sofia", "+5215550003"),
		},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	j, err := jobs.ClaimNext(ctx, "w1", time.Minute)
	if err != nil || j == nil {
		t.Fatalf("claim: %v", err)
	}
	if err := jobs.MarkCompleted(ctx, j.ID, "w1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	p, err := svc.Progress(ctx, "acct-1", res.Batch.ID)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if p.Total != 3 || p.Done != 1 {
		t.Fatalf("total=%d done=%d, want 3/1", p.Total, p.Done)
	}
	if p.Counts["completed"] != 1 || p.Counts["pending"] != 2 {
		t.Fatalf("unexpected counts: %v", p.Counts)
	}
}

package campaign

import (
	"time"

	"collections-dialer/internal/job"
)

// Batch is one uploaded list of debtors to call. The batch row itself is
// bookkeeping; the call jobs spawned from it carry the work.
type Batch struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	Name      string `json:"name" db:"name"`

	Status BatchStatus `json:"status" db:"status"`

	// TotalJobs counts jobs actually created; DuplicateRows counts input rows
	// rejected by the per-batch dedup key.
	TotalJobs     int `json:"total_jobs" db:"total_jobs"`
	DuplicateRows int `json:"duplicate_rows" db:"duplicate_rows"`
	RejectedRows  int `json:"rejected_rows" db:"rejected_rows"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type BatchStatus string

const (
	BatchStatusActive    BatchStatus = "active"
	BatchStatusCancelled BatchStatus = "cancelled"
)

// DebtorRow is one input row of a batch upload.
type DebtorRow struct {
	Name string `json:"name"`

	// Phones are tried in order; the dialer rotates on unreachable numbers.
	Phones []string `json:"phones"`

	// Region is the pricing bucket, e.g. "MX".
	Region string `json:"region"`

	Payload job.Payload `json:"payload"`
}

// CreateBatchRequest is the ingestion input.
type CreateBatchRequest struct {
	AccountID string      `json:"account_id"`
	Name      string      `json:"name"`
	Rows      []DebtorRow `json:"rows"`

	// MaxAttempts overrides the configured default when > 0.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// IngestResult summarizes what a batch upload produced.
type IngestResult struct {
	Batch         Batch `json:"batch"`
	JobsCreated   int   `json:"jobs_created"`
	DuplicateRows int   `json:"duplicate_rows"`
	RejectedRows  int   `json:"rejected_rows"`
}

// Progress is the live status rollup of a batch.
type Progress struct {
	BatchID   string         `json:"batch_id"`
	AccountID string         `json:"account_id"`
	Status    BatchStatus    `json:"status"`
	Counts    map[string]int `json:"counts"`
	Total     int            `json:"total"`
	Done      int            `json:"done"`
}

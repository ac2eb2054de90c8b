package pricing

import "time"

// MinuteRate is an effective-dated per-minute outbound rate for a
// destination bucket. Accounts can carry negotiated rates; the dialer looks
// the rate up at settlement time to price the finished call.
type MinuteRate struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`

	// Destination is the region/bucket identifier used for rate resolution
	// (e.g., "MX", "US", "prefix:+52").
	Destination string `json:"destination" db:"destination"`

	RatePerMinuteMinor int64  `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`
	Currency           string `json:"currency" db:"currency"`

	// Billing shape: calls shorter than MinimumBillableSeconds bill the
	// minimum; durations round up to BillingIncrementSeconds.
	MinimumBillableSeconds  int `json:"minimum_billable_seconds" db:"minimum_billable_seconds"`
	BillingIncrementSeconds int `json:"billing_increment_seconds" db:"billing_increment_seconds"`

	Status        RateStatus `json:"status" db:"status"`
	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`
}

type RateStatus string

const (
	RateStatusActive   RateStatus = "active"
	RateStatusArchived RateStatus = "archived"
)

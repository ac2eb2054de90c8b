package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the provider-agnostic outbound calling interface the dialer
// consumes.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Request/response types stay provider-agnostic; raw provider payloads go
//   into Result.Raw if needed.
// - Failures must be classified through CallError; the dialer's retry policy
//   keys on the error kind, never on error text.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// InitiateCall places the call and blocks until the attempt resolves
	// (answered and finished, or failed to connect). The call may run for
	// minutes; callers must not hold in-memory locks while waiting.
	InitiateCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error)
}

// OutboundCallRequest describes one call attempt.
type OutboundCallRequest struct {
	AccountID string `json:"account_id"`
	JobID     string `json:"job_id"`

	// From and To are E.164.
	From string `json:"from"`
	To   string `json:"to"`

	// Context is the flat key-value projection of the job payload; the IVR
	// script references these keys by name.
	Context map[string]string `json:"context"`

	// IdempotencyKey dedupes the attempt at the provider (at-least-once
	// delivery with idempotency keys, not exactly-once).
	IdempotencyKey string `json:"idempotency_key"`
}

// OutboundCallResult is the resolved outcome of a placed call.
type OutboundCallResult struct {
	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id"`

	Answered        bool `json:"answered"`
	DurationSeconds int  `json:"duration_seconds"`

	// Raw is optional provider JSON for audit/debug.
	Raw string `json:"raw,omitempty"`
}

// ErrorKind classifies call failures for the retry policy.
type ErrorKind string

const (
	// ErrorKindTransient covers no-answer, busy and provider timeouts:
	// retrying later may succeed.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanent covers invalid numbers and payload rejections:
	// retrying is pointless.
	ErrorKindPermanent ErrorKind = "permanent"
)

// CallError is the only failure channel out of a provider adapter.
type CallError struct {
	Kind    ErrorKind
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("telephony: %s call failure: %s", e.Kind, e.Message)
}

// NewTransientError marks a failure worth retrying.
func NewTransientError(msg string) *CallError {
	return &CallError{Kind: ErrorKindTransient, Message: msg}
}

// NewPermanentError marks a failure that will repeat identically.
func NewPermanentError(msg string) *CallError {
	return &CallError{Kind: ErrorKindPermanent, Message: msg}
}

// Classify extracts the error kind. Unclassified errors (network blips,
// adapter bugs) default to transient so a provider outage cannot burn jobs
// into terminal failure.
func Classify(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrorKindTransient
}

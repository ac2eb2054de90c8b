package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event is one append-only record of an administrative action. Dial-loop
// activity is not audited here; the call attempt log covers it.
type Event struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`

	// Actor is the authenticated subject that performed the action.
	Actor string `json:"actor" db:"actor"`

	Action Action `json:"action" db:"action"`

	// TargetID identifies what was acted on: a batch id, a job id, the
	// account itself.
	TargetID string `json:"target_id,omitempty" db:"target_id"`

	// Detail is free-form structured context, stored as JSON.
	Detail map[string]any `json:"detail,omitempty" db:"detail"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Action string

const (
	ActionTopUp       Action = "account.topup"
	ActionBonus       Action = "account.bonus"
	ActionBatchCreate Action = "batch.create"
	ActionBatchCancel Action = "batch.cancel"
)

var ErrInvalidArgument = errors.New("audit: invalid argument")

// Repository is the append-only persistence contract.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, accountID string, from, to time.Time) ([]Event, error)
}

// Service records admin actions. Recording is best-effort from the caller's
// point of view: Log returns the error but callers typically only log it,
// since failing the admin action over a missing audit row helps nobody.
type Service struct {
	repo   Repository
	logger *slog.Logger
	clock  func() time.Time
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, clock: time.Now}
}

func (s *Service) Log(ctx context.Context, accountID, actor string, action Action, targetID string, detail map[string]any) error {
	if accountID == "" || actor == "" || action == "" {
		return ErrInvalidArgument
	}
	e := Event{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Actor:     actor,
		Action:    action,
		TargetID:  targetID,
		Detail:    detail,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.repo.Append(ctx, e); err != nil {
		s.logger.Error("audit append failed", "action", action, "account_id", accountID, "err", err)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, accountID string, from, to time.Time) ([]Event, error) {
	if accountID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.List(ctx, accountID, from, to)
}

// marshalDetail is shared by the persistence implementations.
func marshalDetail(detail map[string]any) ([]byte, error) {
	if detail == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(detail)
}

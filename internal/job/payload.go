package job

import (
	"errors"
	"fmt"
	"strconv"
)

// Payload is the call-content carried by a job, opaque to the leasing and
// settlement machinery. It is a tagged variant keyed by use case; exactly one
// variant must be set, and each variant carries its own typed field set.
type Payload struct {
	UseCase UseCase `json:"use_case"`

	DebtCollection *DebtCollectionPayload `json:"debt_collection,omitempty"`
	Marketing      *MarketingPayload      `json:"marketing,omitempty"`
}

type UseCase string

const (
	UseCaseDebtCollection UseCase = "debt_collection"
	UseCaseMarketing      UseCase = "marketing"
)

// DebtCollectionPayload drives a collections script.
type DebtCollectionPayload struct {
	DebtorName     string `json:"debtor_name"`
	CreditorName   string `json:"creditor_name"`
	AmountDueMinor int64  `json:"amount_due_minor"`
	Currency       string `json:"currency"`
	DueDate        string `json:"due_date,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
	PaymentLink    string `json:"payment_link,omitempty"`
}

// MarketingPayload drives a promotional script.
type MarketingPayload struct {
	CampaignName string `json:"campaign_name"`
	Script       string `json:"script"`
	OfferCode    string `json:"offer_code,omitempty"`
}

var ErrInvalidPayload = errors.New("job: invalid payload")

func (p Payload) Validate() error {
	switch p.UseCase {
	case UseCaseDebtCollection:
		if p.DebtCollection == nil || p.Marketing != nil {
			return fmt.Errorf("%w: use_case %q requires exactly the debt_collection variant", ErrInvalidPayload, p.UseCase)
		}
		if p.DebtCollection.DebtorName == "" || p.DebtCollection.CreditorName == "" {
			return fmt.Errorf("%w: debtor_name and creditor_name required", ErrInvalidPayload)
		}
		if p.DebtCollection.AmountDueMinor <= 0 {
			return fmt.Errorf("%w: amount_due_minor must be positive", ErrInvalidPayload)
		}
	case UseCaseMarketing:
		if p.Marketing == nil || p.DebtCollection != nil {
			return fmt.Errorf("%w: use_case %q requires exactly the marketing variant", ErrInvalidPayload, p.UseCase)
		}
		if p.Marketing.CampaignName == "" || p.Marketing.Script == "" {
			return fmt.Errorf("%w: campaign_name and script required", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: unknown use_case %q", ErrInvalidPayload, p.UseCase)
	}
	return nil
}

// CallContext projects the variant into the flat key-value map the telephony
// provider consumes. Keys are stable; IVR scripts reference them by name.
func (p Payload) CallContext() map[string]string {
	out := map[string]string{"use_case": string(p.UseCase)}
	switch p.UseCase {
	case UseCaseDebtCollection:
		if d := p.DebtCollection; d != nil {
			out["debtor_name"] = d.DebtorName
			out["creditor_name"] = d.CreditorName
			out["amount_due_minor"] = strconv.FormatInt(d.AmountDueMinor, 10)
			out["currency"] = d.Currency
			if d.DueDate != "" {
				out["due_date"] = d.DueDate
			}
			if d.ReferenceID != "" {
				out["reference_id"] = d.ReferenceID
			}
			if d.PaymentLink != "" {
				out["payment_link"] = d.PaymentLink
			}
		}
	case UseCaseMarketing:
		if m := p.Marketing; m != nil {
			out["campaign_name"] = m.CampaignName
			out["script"] = m.Script
			if m.OfferCode != "" {
				out["offer_code"] = m.OfferCode
			}
		}
	}
	return out
}

package telephony

import (
	"context"
	"errors"

	"collections-dialer/internal/config"
)

// TwilioProvider is a placeholder adapter for outbound calls via Twilio.
// TODO: wire in the Twilio REST client; map final call status
// (busy/no-answer/failed) onto CallError kinds.
type TwilioProvider struct {
	cfg config.ProviderConfig
}

func NewTwilioProvider(cfg config.ProviderConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio credentials required")
	}
	if cfg.CallerID == "" {
		return nil, errors.New("telephony: caller id required")
	}
	return &TwilioProvider{cfg: cfg}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	// TODO: call a lightweight Twilio endpoint.
	return nil
}

func (p *TwilioProvider) InitiateCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if req.To == "" {
		return OutboundCallResult{}, NewPermanentError("destination number required")
	}
	return OutboundCallResult{}, errors.New("telephony: twilio InitiateCall not implemented")
}

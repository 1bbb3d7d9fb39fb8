package services

import (
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/Ananth-NQI/rel8-backend/internal/config"
)

// Sender delivers outbound SMS outside of a webhook reply.
type Sender interface {
	SendSMS(to, body string) error
}

type TwilioService struct {
	client *twilio.RestClient
	from   string // Your Twilio SMS number, E.164
	logger *zap.Logger
}

// NewTwilioService creates a new Twilio service instance
func NewTwilioService(cfg config.TwilioConfig, logger *zap.Logger) (*TwilioService, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.PhoneNumber == "" {
		return nil, fmt.Errorf("missing Twilio credentials: TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER are required")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioService{
		client: client,
		from:   cfg.PhoneNumber,
		logger: logger,
	}, nil
}

// SendSMS sends a text message via Twilio
func (t *TwilioService) SendSMS(to, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.from)
	params.SetTo(to)
	params.SetBody(body)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		t.logger.Error("failed to send SMS", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("send sms: %w", err)
	}

	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		msg := ""
		if resp.ErrorMessage != nil {
			msg = *resp.ErrorMessage
		}
		return fmt.Errorf("twilio error %d: %s", *resp.ErrorCode, msg)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	t.logger.Info("SMS sent", zap.String("to", to), zap.String("sid", sid))
	return nil
}

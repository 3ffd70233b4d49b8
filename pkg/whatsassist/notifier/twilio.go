package notifier

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioConfig configures the Twilio messaging backend.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`

	// From is the sending WhatsApp number, with or without the
	// "whatsapp:" prefix.
	From string `yaml:"from"`

	// Timeout bounds each HTTP request to Twilio. Zero keeps the client
	// default.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// MessageCreator is the part of the Twilio REST API used for sending.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Twilio sends WhatsApp messages through Twilio's Messages API.
type Twilio struct {
	api    MessageCreator
	from   string
	logger *slog.Logger
}

// NewTwilio creates a Twilio backend from account credentials.
func NewTwilio(cfg TwilioConfig, logger *slog.Logger) (*Twilio, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, ErrNotConfigured
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return NewTwilioWithAPI(client.Api, cfg.From, logger), nil
}

// NewTwilioWithAPI creates a Twilio backend on an existing API client.
func NewTwilioWithAPI(api MessageCreator, from string, logger *slog.Logger) *Twilio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Twilio{
		api:    api,
		from:   whatsappAddress(from),
		logger: logger.With("component", "twilio"),
	}
}

// Deliver implements Notifier.
func (t *Twilio) Deliver(ctx context.Context, recipient, text string) (string, error) {
	to := whatsappAddress(recipient)
	if to == "" {
		return "", &DeliveryError{Recipient: recipient, Backend: "twilio", Err: ErrInvalidRecipient}
	}
	if err := ctx.Err(); err != nil {
		return "", &DeliveryError{Recipient: recipient, Backend: "twilio", Err: err}
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(text)

	// The REST client takes no context; stop waiting once ctx is done.
	type result struct {
		resp *twilioApi.ApiV2010Message
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := t.api.CreateMessage(params)
		ch <- result{resp, err}
	}()

	var resp *twilioApi.ApiV2010Message
	select {
	case <-ctx.Done():
		return "", &DeliveryError{Recipient: recipient, Backend: "twilio", Err: ctx.Err()}
	case r := <-ch:
		if r.err != nil {
			return "", &DeliveryError{Recipient: recipient, Backend: "twilio", Err: r.err}
		}
		resp = r.resp
	}
	if resp == nil || resp.Sid == nil {
		return "", &DeliveryError{Recipient: recipient, Backend: "twilio", Err: errors.New("response without message sid")}
	}

	t.logger.Info("message sent", "to", to, "sid", *resp.Sid)
	return *resp.Sid, nil
}

// whatsappAddress normalises a number to Twilio's "whatsapp:+<digits>"
// form. It returns "" when no digits remain.
func whatsappAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "whatsapp:") {
		s = s[len("whatsapp:"):]
	}
	digits := digitsOnly(s)
	if digits == "" {
		return ""
	}
	return "whatsapp:+" + digits
}

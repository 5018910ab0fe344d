package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/config"
	"github.com/mikeyg42/fallguard/internal/event"
)

const (
	twilioAPIBase = "https://api.twilio.com"
	// Classic GSM-7 single-segment limit; going over just costs more,
	// but an alert has no business spanning segments.
	smsMaxLen = 160
)

// SMSChannel delivers alerts as SMS through the Twilio REST API.
// Attachments are ignored; SMS carries text only.
type SMSChannel struct {
	cfg     config.TwilioConfig
	apiBase string
	client  *http.Client
	status  Status
	logger  *zap.Logger
}

// NewSMSChannel validates credentials without any network call; Twilio
// has no free health endpoint, so availability is assumed until the
// first send says otherwise.
func NewSMSChannel(cfg config.TwilioConfig, logger *zap.Logger) *SMSChannel {
	c := &SMSChannel{
		cfg:     cfg,
		apiBase: twilioAPIBase,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger.Named("sms"),
	}

	if cfg.SID == "" || cfg.Token == "" || cfg.From == "" {
		c.status.setUnavailable("twilio credentials not configured")
		c.logger.Warn("twilio credentials not configured, sms channel disabled")
		return c
	}

	c.status.setAvailable()
	c.logger.Info("twilio credentials present")
	return c
}

func (c *SMSChannel) Name() Channel          { return ChannelSMS }
func (c *SMSChannel) Status() StatusSnapshot { return c.status.Snapshot() }

// Send posts one message. A transport error and a non-2xx provider
// response are distinct failures: the latter means the request arrived
// and Twilio rejected it, which is worth surfacing verbatim.
func (c *SMSChannel) Send(ctx context.Context, recipient string, ev *event.FallEvent, _ []byte) error {
	if recipient == "" {
		err := fmt.Errorf("sms: no phone number")
		c.status.markFailure(err)
		return err
	}
	if c.cfg.SID == "" || c.cfg.Token == "" || c.cfg.From == "" {
		err := fmt.Errorf("sms: twilio credentials not configured")
		c.status.markFailure(err)
		return err
	}

	body := fmt.Sprintf("%sGuard alert: fall detected at %s, probability %.0f%%. Please check immediately.",
		testLabel(ev), formatWhen(ev), ev.Confidence*100)
	if len(body) > smsMaxLen {
		body = body[:smsMaxLen]
	}

	form := url.Values{}
	form.Set("From", c.cfg.From)
	form.Set("To", recipient)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.apiBase, c.cfg.SID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		c.status.markFailure(err)
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.SID, c.cfg.Token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		c.status.markFailure(err)
		c.logger.Error("sms request failed", zap.Error(err))
		return fmt.Errorf("sms: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("sms: provider rejected: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		c.status.markFailure(err)
		c.logger.Error("sms rejected by provider",
			zap.Int("status", resp.StatusCode), zap.String("body", string(detail)))
		return err
	}

	c.status.markSuccess()
	c.logger.Info("sms sent", zap.String("to", recipient), zap.String("event_id", ev.ID))
	return nil
}

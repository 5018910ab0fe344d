package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/config"
	"github.com/mikeyg42/fallguard/internal/event"
)

const emailBodyTemplate = `<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #ddd; border-radius: 5px;">
    <h2 style="color: #d9534f;">{{.TestLabel}}Fall Detection Alert</h2>
    <p>Hello,</p>
    <p>A fall was detected at <strong>{{.When}}</strong>.</p>
    <p>Fall probability: <strong>{{.ConfidencePct}}%</strong></p>
    <p style="background-color: #f2dede; padding: 10px; border-radius: 5px; border-left: 4px solid #d9534f;">
      <strong>Warning:</strong> please check on the person and call for help if needed.
    </p>
    <hr style="border: 1px solid #eee;">
    <p style="font-size: 12px; color: #777;">
      <i>This message was sent automatically. If this alert is unexpected,
      review the notification settings in the Guard application.</i>
    </p>
  </div>
</body>
</html>`

// EmailChannel delivers alerts over SMTP. Each Send opens a fresh
// authenticated session; at the event rates involved a connection pool
// would never pay for itself.
type EmailChannel struct {
	cfg    config.SMTPConfig
	from   string
	tmpl   *template.Template
	status Status
	logger *zap.Logger
}

// NewEmailChannel validates credentials and, uniquely among the
// adapters, performs one synchronous SMTP handshake so a dead relay is
// visible at startup instead of on the first fall.
func NewEmailChannel(cfg config.SMTPConfig, logger *zap.Logger) *EmailChannel {
	c := &EmailChannel{
		cfg:    cfg,
		from:   cfg.From,
		tmpl:   template.Must(template.New("alert-email").Parse(emailBodyTemplate)),
		logger: logger.Named("email"),
	}
	if c.from == "" {
		c.from = cfg.User
	}

	if cfg.User == "" || cfg.Pass == "" {
		c.status.setUnavailable("smtp credentials not configured")
		c.logger.Warn("smtp credentials not configured, email channel disabled")
		return c
	}

	if err := c.probe(); err != nil {
		c.status.setUnavailable(fmt.Sprintf("smtp handshake failed: %v", err))
		c.logger.Error("smtp handshake failed", zap.String("addr", cfg.Addr()), zap.Error(err))
		return c
	}

	c.status.setAvailable()
	c.logger.Info("smtp connection verified", zap.String("addr", cfg.Addr()))
	return c
}

// probe runs the startup handshake: connect, STARTTLS, authenticate, quit.
func (c *EmailChannel) probe() error {
	client, err := smtp.Dial(c.cfg.Addr())
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: c.cfg.Host}); err != nil {
			return err
		}
	}
	if err := client.Auth(c.auth()); err != nil {
		return err
	}
	return client.Quit()
}

func (c *EmailChannel) auth() smtp.Auth {
	return smtp.PlainAuth("", c.cfg.User, c.cfg.Pass, c.cfg.Host)
}

func (c *EmailChannel) Name() Channel          { return ChannelEmail }
func (c *EmailChannel) Status() StatusSnapshot { return c.status.Snapshot() }

// Send delivers one alert email, attaching the screenshot if present.
func (c *EmailChannel) Send(ctx context.Context, recipient string, ev *event.FallEvent, attachment []byte) error {
	if recipient == "" {
		err := fmt.Errorf("email: no recipient address")
		c.status.markFailure(err)
		return err
	}
	if c.cfg.User == "" || c.cfg.Pass == "" {
		err := fmt.Errorf("email: smtp credentials not configured")
		c.status.markFailure(err)
		return err
	}

	var body bytes.Buffer
	err := c.tmpl.Execute(&body, map[string]string{
		"TestLabel":     testLabel(ev),
		"When":          ev.Time().Format("02.01.2006 15:04:05"),
		"ConfidencePct": fmt.Sprintf("%.2f", ev.Confidence*100),
	})
	if err != nil {
		c.status.markFailure(err)
		return fmt.Errorf("email: render body: %w", err)
	}

	msg := buildMIMEMessage(alertEmail{
		From:     c.from,
		To:       recipient,
		Subject:  fmt.Sprintf("%sGuard Alert: fall detected (%.0f%%)", testLabel(ev), ev.Confidence*100),
		HTMLBody: body.String(),
		Image:    attachment,
	})

	if err := smtp.SendMail(c.cfg.Addr(), c.auth(), c.from, []string{recipient}, msg); err != nil {
		c.status.markFailure(err)
		c.logger.Error("email send failed", zap.String("to", recipient), zap.Error(err))
		return fmt.Errorf("email: send: %w", err)
	}

	c.status.markSuccess()
	c.logger.Info("email sent", zap.String("to", recipient), zap.String("event_id", ev.ID))
	return nil
}

func testLabel(ev *event.FallEvent) string {
	if ev.Test {
		return "[TEST] "
	}
	return ""
}

// formatWhen renders an event timestamp for the short-message channels.
func formatWhen(ev *event.FallEvent) string {
	if ev.Timestamp == 0 {
		return time.Now().Format("02.01.2006 15:04:05")
	}
	return ev.Time().Format("02.01.2006 15:04:05")
}

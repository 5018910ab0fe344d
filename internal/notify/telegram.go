package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/config"
	"github.com/mikeyg42/fallguard/internal/event"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramChannel delivers alerts through the Telegram bot API: a
// Markdown message first, then the screenshot as a best-effort second
// call. A failed photo does not fail the send, the text already landed.
type TelegramChannel struct {
	token   string
	apiBase string
	client  *http.Client
	status  Status
	logger  *zap.Logger
}

// NewTelegramChannel validates the token presence only; no network
// call, the bot is probed lazily by the first send.
func NewTelegramChannel(cfg config.TelegramConfig, logger *zap.Logger) *TelegramChannel {
	c := &TelegramChannel{
		token:   cfg.BotToken,
		apiBase: telegramAPIBase,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger.Named("telegram"),
	}

	if cfg.BotToken == "" {
		c.status.setUnavailable("telegram bot token not configured")
		c.logger.Warn("telegram bot token not configured, telegram channel disabled")
		return c
	}

	c.status.setAvailable()
	return c
}

func (c *TelegramChannel) Name() Channel          { return ChannelTelegram }
func (c *TelegramChannel) Status() StatusSnapshot { return c.status.Snapshot() }

func (c *TelegramChannel) Send(ctx context.Context, recipient string, ev *event.FallEvent, attachment []byte) error {
	if recipient == "" {
		err := fmt.Errorf("telegram: no chat id")
		c.status.markFailure(err)
		return err
	}
	if c.token == "" {
		err := fmt.Errorf("telegram: bot token not configured")
		c.status.markFailure(err)
		return err
	}

	message := fmt.Sprintf("%s*GUARD FALL ALERT*\n\n"+
		"*Time:* %s\n"+
		"*Fall probability:* %.2f%%\n\n"+
		"Please check on the person and call for help if needed.",
		testLabel(ev), formatWhen(ev), ev.Confidence*100)

	if err := c.sendMessage(ctx, recipient, message); err != nil {
		c.status.markFailure(err)
		c.logger.Error("telegram send failed", zap.String("chat_id", recipient), zap.Error(err))
		return err
	}

	if len(attachment) > 0 {
		if err := c.sendPhoto(ctx, recipient, attachment); err != nil {
			// best effort only
			c.logger.Warn("telegram photo send failed", zap.String("chat_id", recipient), zap.Error(err))
		}
	}

	c.status.markSuccess()
	c.logger.Info("telegram message sent", zap.String("chat_id", recipient), zap.String("event_id", ev.ID))
	return nil
}

func (c *TelegramChannel) sendMessage(ctx context.Context, chatID, text string) error {
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req)
}

func (c *TelegramChannel) sendPhoto(ctx context.Context, chatID string, jpeg []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("chat_id", chatID); err != nil {
		return err
	}
	part, err := w.CreateFormFile("photo", "fall_detected.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(jpeg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendPhoto", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("telegram: build photo request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req)
}

func (c *TelegramChannel) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

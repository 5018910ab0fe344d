package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/event"
)

// StatusStore is the slice of the event store the dispatcher needs: it
// stamps delivery outcome back onto the persisted event.
type StatusStore interface {
	SetNotificationStatus(ctx context.Context, userID, eventID string, channels []string, at time.Time) error
}

// Dispatcher orchestrates delivery: it resolves which channels are
// active for a user, fans out synchronously, enqueues duplicate tasks
// for durability, and re-routes failures to an alternate channel.
//
// The synchronous send plus queued duplicate is deliberate redundant
// delivery: the direct attempt gives the caller an immediate result,
// the queued copy survives the caller's thread being torn down. The
// cost is an occasional double alert, which is acceptable for a fall.
type Dispatcher struct {
	senders      map[Channel]Sender
	store        StatusStore
	queue        *Queue
	defaultEmail string
	logger       *zap.Logger
}

// NewDispatcher wires the adapters and the durability queue.
// defaultEmail is the operator address used when a user has no active
// channel; empty disables that fallback.
func NewDispatcher(senders []Sender, store StatusStore, defaultEmail string, queueSize int, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		senders:      make(map[Channel]Sender, len(senders)),
		store:        store,
		defaultEmail: defaultEmail,
		logger:       logger.Named("dispatcher"),
	}
	for _, s := range senders {
		d.senders[s.Name()] = s
	}
	d.queue = NewQueue(queueSize, d.handleQueued, logger)
	return d
}

// Start launches the queue consumer.
func (d *Dispatcher) Start() { d.queue.Start() }

// Stop drains the consumer.
func (d *Dispatcher) Stop() { d.queue.Stop() }

// delivery binds a channel to its resolved recipient handle.
type delivery struct {
	channel   Channel
	recipient string
}

// SendNotifications delivers the event through every active channel.
// It returns true iff at least one channel (directly or via fallback)
// confirmed success. Adapter errors never propagate; they surface only
// through the boolean and the per-channel status.
func (d *Dispatcher) SendNotifications(ctx context.Context, settings event.UserSettings, ev *event.FallEvent, screenshot []byte) bool {
	targets := d.resolveActive(settings)

	if len(targets) == 0 && d.defaultEmail != "" {
		d.logger.Info("no active channels, using default operator email",
			zap.String("event_id", ev.ID), zap.String("to", d.defaultEmail))
		targets = []delivery{{channel: ChannelEmail, recipient: d.defaultEmail}}
	}
	if len(targets) == 0 {
		d.logger.Warn("no channel available for event, delivery skipped", zap.String("event_id", ev.ID))
		return false
	}

	var succeeded []string
	for _, tgt := range targets {
		task := Task{
			Channel:    tgt.channel,
			Recipient:  tgt.recipient,
			Event:      *ev,
			Settings:   settings,
			Attachment: screenshot,
		}

		// Durability copy first, so the event survives even if this
		// goroutine dies mid-send.
		d.queue.Enqueue(task)

		if via, ok := d.deliver(ctx, task); ok {
			succeeded = append(succeeded, string(via))
		}
	}

	if len(succeeded) > 0 {
		d.recordStatus(ctx, ev, succeeded)
		return true
	}
	return false
}

// resolveActive maps canonical settings to deliverable channels. A
// channel needs both its preference flag and a recipient handle; email
// additionally accepts the operator default address as recipient.
func (d *Dispatcher) resolveActive(s event.UserSettings) []delivery {
	var targets []delivery

	if s.EmailNotification {
		if to := firstNonEmpty(s.Email, d.defaultEmail); to != "" {
			targets = append(targets, delivery{ChannelEmail, to})
		}
	}
	if s.SMSNotification && s.PhoneNumber != "" {
		targets = append(targets, delivery{ChannelSMS, s.PhoneNumber})
	}
	if s.TelegramNotification && s.TelegramChatID != "" {
		targets = append(targets, delivery{ChannelTelegram, s.TelegramChatID})
	}
	return targets
}

// deliver performs one synchronous send, re-routing a failure to the
// fallback channel. It reports the channel that ultimately succeeded.
// A task already marked as fallback is never re-routed again, so the
// longest possible chain is two hops.
func (d *Dispatcher) deliver(ctx context.Context, t Task) (Channel, bool) {
	sender, ok := d.senders[t.Channel]
	if !ok {
		d.logger.Warn("no adapter for channel", zap.String("channel", string(t.Channel)))
		return "", false
	}

	err := d.send(ctx, sender, t)
	if err == nil {
		return t.Channel, true
	}

	d.logger.Error("channel delivery failed",
		zap.String("channel", string(t.Channel)),
		zap.String("event_id", t.Event.ID),
		zap.Bool("is_fallback", t.IsFallback),
		zap.Error(err))

	if t.IsFallback {
		return "", false
	}

	fb, ok := d.fallbackFor(t)
	if !ok {
		return "", false
	}
	d.logger.Info("re-routing to fallback channel",
		zap.String("from", string(t.Channel)),
		zap.String("to", string(fb.Channel)),
		zap.String("event_id", t.Event.ID))
	return d.deliver(ctx, fb)
}

// send invokes the adapter, converting a panic into a failure so one
// misbehaving SDK cannot take the dispatcher down.
func (d *Dispatcher) send(ctx context.Context, sender Sender, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
			d.logger.Error("channel adapter panicked",
				zap.String("channel", string(t.Channel)), zap.Any("panic", r))
		}
	}()
	return sender.Send(ctx, t.Recipient, &t.Event, t.Attachment)
}

// fallbackFor applies the routing policy: email falls back to telegram,
// sms and telegram fall back to email. The returned task carries
// IsFallback so it can never trigger a further hop.
func (d *Dispatcher) fallbackFor(t Task) (Task, bool) {
	fb := t
	fb.IsFallback = true

	switch t.Channel {
	case ChannelEmail:
		if d.channelReady(ChannelTelegram) && t.Settings.TelegramChatID != "" {
			fb.Channel = ChannelTelegram
			fb.Recipient = t.Settings.TelegramChatID
			return fb, true
		}
	case ChannelSMS, ChannelTelegram:
		if to := firstNonEmpty(t.Settings.Email, d.defaultEmail); d.channelReady(ChannelEmail) && to != "" {
			fb.Channel = ChannelEmail
			fb.Recipient = to
			return fb, true
		}
	}
	return Task{}, false
}

func (d *Dispatcher) channelReady(ch Channel) bool {
	s, ok := d.senders[ch]
	return ok && s.Status().Available
}

// handleQueued is the queue consumer entry point: same delivery path,
// minus the status write (the synchronous attempt already recorded it).
func (d *Dispatcher) handleQueued(t Task) {
	d.deliver(context.Background(), t)
}

func (d *Dispatcher) recordStatus(ctx context.Context, ev *event.FallEvent, channels []string) {
	if d.store == nil || ev.UserID == "" {
		return
	}
	now := time.Now()
	if err := d.store.SetNotificationStatus(ctx, ev.UserID, ev.ID, channels, now); err != nil {
		d.logger.Error("recording notification status failed",
			zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	ev.NotificationSent = true
	ev.NotificationChannels = channels
	ev.NotificationTime = float64(now.UnixNano()) / float64(time.Second)
}

// Status reports per-channel health plus the queue depth, for the
// dashboard and the control API.
func (d *Dispatcher) Status() map[string]any {
	channels := make(map[string]StatusSnapshot, len(d.senders))
	for name, s := range d.senders {
		channels[string(name)] = s.Status()
	}
	return map[string]any{
		"channels":   channels,
		"queue_size": d.queue.Len(),
	}
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("adapter panic: %v", e.value) }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package notify implements multi-channel fall alerting: three channel
// adapters behind one contract, a bounded delivery queue, and a
// dispatcher that fans out, falls back between channels on failure, and
// records delivery status on the event.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mikeyg42/fallguard/internal/event"
)

// Channel names one independent delivery mechanism.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelTelegram Channel = "telegram"
)

// Sender is the uniform adapter contract. Send returns nil only when
// the provider confirmed delivery; adapters update their own Status
// before returning.
type Sender interface {
	Name() Channel
	Send(ctx context.Context, recipient string, ev *event.FallEvent, attachment []byte) error
	Status() StatusSnapshot
}

// Task is one queued delivery. It snapshots the event and settings so
// the consumer never reaches back into mutable caller state. IsFallback
// marks re-routed deliveries; a fallback task never produces another
// fallback, which bounds any routing cycle at two hops.
type Task struct {
	Channel    Channel
	Recipient  string
	Event      event.FallEvent
	Settings   event.UserSettings
	Attachment []byte
	IsFallback bool
}

// Status tracks a channel's last known health. The send path is the
// only writer; cross-thread readers (UI, API) take Snapshot and
// tolerate slightly stale values, so each field is individually atomic
// rather than guarded by one lock.
type Status struct {
	available   atomic.Bool
	lastError   atomic.Pointer[string]
	lastSuccess atomic.Int64 // unix nanos, 0 = never
}

// StatusSnapshot is the read-side copy of a channel's Status.
type StatusSnapshot struct {
	Available   bool      `json:"available"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success,omitzero"`
}

func (s *Status) markSuccess() {
	s.available.Store(true)
	s.lastSuccess.Store(time.Now().UnixNano())
}

func (s *Status) markFailure(err error) {
	msg := err.Error()
	s.available.Store(false)
	s.lastError.Store(&msg)
}

// setUnavailable records a configuration problem found before any send
// was attempted.
func (s *Status) setUnavailable(reason string) {
	s.available.Store(false)
	s.lastError.Store(&reason)
}

func (s *Status) setAvailable() {
	s.available.Store(true)
}

// Snapshot returns the current health for display.
func (s *Status) Snapshot() StatusSnapshot {
	snap := StatusSnapshot{Available: s.available.Load()}
	if p := s.lastError.Load(); p != nil {
		snap.LastError = *p
	}
	if ns := s.lastSuccess.Load(); ns != 0 {
		snap.LastSuccess = time.Unix(0, ns)
	}
	return snap
}

// Available reports the last known health of the channel.
func (s *Status) Available() bool { return s.available.Load() }

package event

import (
	"time"

	"github.com/google/uuid"
)

// FallEvent is a single debounced fall detection. Timestamps are stored
// as epoch seconds so records survive the trip through the local JSON
// fallback store unchanged.
type FallEvent struct {
	ID         string  `json:"id" db:"id"`
	UserID     string  `json:"user_id" db:"user_id"`
	CameraID   string  `json:"camera_id,omitempty" db:"camera_id"`
	Timestamp  float64 `json:"timestamp" db:"ts"`
	CreatedAt  float64 `json:"created_at" db:"created_at"`
	Confidence float64 `json:"confidence" db:"confidence"`
	ImageRef   string  `json:"image_ref,omitempty" db:"image_ref"`
	Reviewed   bool    `json:"reviewed" db:"reviewed"`
	Test       bool    `json:"test,omitempty" db:"test"`

	NotificationSent     bool     `json:"notification_sent" db:"notification_sent"`
	NotificationChannels []string `json:"notification_channels,omitempty" db:"notification_channels"`
	NotificationTime     float64  `json:"notification_time,omitempty" db:"notification_time"`
}

// NewFallEvent builds an event with a fresh id and the current time.
// Confidence is clamped to [0,1] here, at the classifier boundary, so
// nothing downstream has to re-check it.
func NewFallEvent(userID, cameraID string, confidence float64) *FallEvent {
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	return &FallEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		CameraID:   cameraID,
		Timestamp:  now,
		CreatedAt:  now,
		Confidence: NormalizeConfidence(confidence),
	}
}

// Time returns the event timestamp as a time.Time.
func (e *FallEvent) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// NormalizeConfidence clamps a raw classifier score into [0,1]. Scores
// arrive from model runtimes that sometimes report just outside the
// valid range.
func NormalizeConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// UserSettings is the one canonical shape for notification preferences.
// External documents (remote store records, legacy local files) are
// adapted into it by SettingsFromDocument; nothing past that boundary
// branches on document shape.
type UserSettings struct {
	EmailNotification    bool `json:"email_notification" mapstructure:"email_notification"`
	SMSNotification      bool `json:"sms_notification" mapstructure:"sms_notification"`
	TelegramNotification bool `json:"telegram_notification" mapstructure:"telegram_notification"`

	Email          string `json:"email,omitempty" mapstructure:"email"`
	PhoneNumber    string `json:"phone_number,omitempty" mapstructure:"phone_number"`
	TelegramChatID string `json:"telegram_chat_id,omitempty" mapstructure:"telegram_chat_id"`
}

// DefaultSettings matches what new users are provisioned with: email on,
// everything else opt-in.
func DefaultSettings() UserSettings {
	return UserSettings{EmailNotification: true}
}

// SettingsFromDocument adapts an external user document into canonical
// UserSettings. Callers historically stored preference fields either
// flat on the user record or nested under a "settings" key; both shapes
// are accepted here and nowhere else. Unrecognized keys are dropped.
func SettingsFromDocument(doc map[string]any) UserSettings {
	var s UserSettings
	if doc == nil {
		return s
	}

	lookup := func(key string) (any, bool) {
		if v, ok := doc[key]; ok {
			return v, true
		}
		if nested, ok := doc["settings"].(map[string]any); ok {
			if v, ok := nested[key]; ok {
				return v, true
			}
		}
		return nil, false
	}

	boolAt := func(key string) bool {
		v, ok := lookup(key)
		if !ok {
			return false
		}
		b, _ := v.(bool)
		return b
	}
	stringAt := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		str, _ := v.(string)
		return str
	}

	s.EmailNotification = boolAt("email_notification")
	s.SMSNotification = boolAt("sms_notification")
	s.TelegramNotification = boolAt("telegram_notification")
	s.Email = stringAt("email")
	s.PhoneNumber = stringAt("phone_number")
	s.TelegramChatID = stringAt("telegram_chat_id")
	return s
}

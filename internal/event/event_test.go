package event

import (
	"testing"
	"time"
)

func TestNewFallEventAssignsID(t *testing.T) {
	a := NewFallEvent("user1", "camera_0", 0.9)
	b := NewFallEvent("user1", "camera_0", 0.9)

	if a.ID == "" || b.ID == "" {
		t.Fatal("event id must be assigned at creation")
	}
	if a.ID == b.ID {
		t.Fatal("event ids must be unique")
	}
	if a.CreatedAt == 0 {
		t.Fatal("created_at must be stamped")
	}
}

func TestNormalizeConfidence(t *testing.T) {
	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{"in range", 0.42, 0.42},
		{"below zero", -0.1, 0},
		{"above one", 1.0001, 1},
		{"zero", 0, 0},
		{"one", 1, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeConfidence(tc.in); got != tc.want {
				t.Fatalf("NormalizeConfidence(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestEventTimeRoundTrip(t *testing.T) {
	ev := NewFallEvent("user1", "", 0.5)
	diff := time.Since(ev.Time())
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Second {
		t.Fatalf("event time %v too far from now", ev.Time())
	}
}

func TestSettingsFromFlatDocument(t *testing.T) {
	doc := map[string]any{
		"email_notification": true,
		"sms_notification":   true,
		"email":              "a@x.com",
		"phone_number":       "+15551234567",
	}

	s := SettingsFromDocument(doc)
	if !s.EmailNotification || !s.SMSNotification {
		t.Fatal("flat boolean flags not adapted")
	}
	if s.Email != "a@x.com" || s.PhoneNumber != "+15551234567" {
		t.Fatal("flat string fields not adapted")
	}
	if s.TelegramNotification || s.TelegramChatID != "" {
		t.Fatal("absent fields must stay zero")
	}
}

func TestSettingsFromNestedDocument(t *testing.T) {
	doc := map[string]any{
		"id": "user1",
		"settings": map[string]any{
			"telegram_notification": true,
			"telegram_chat_id":      "12345",
		},
	}

	s := SettingsFromDocument(doc)
	if !s.TelegramNotification || s.TelegramChatID != "12345" {
		t.Fatal("nested settings.* fields not adapted")
	}
}

func TestSettingsFlatWinsOverNested(t *testing.T) {
	doc := map[string]any{
		"email": "flat@x.com",
		"settings": map[string]any{
			"email": "nested@x.com",
		},
	}

	if s := SettingsFromDocument(doc); s.Email != "flat@x.com" {
		t.Fatalf("flat key must take precedence, got %q", s.Email)
	}
}

func TestSettingsFromNilDocument(t *testing.T) {
	s := SettingsFromDocument(nil)
	if s != (UserSettings{}) {
		t.Fatalf("nil document must yield zero settings, got %+v", s)
	}
}

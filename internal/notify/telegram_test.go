package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/config"
	"github.com/mikeyg42/fallguard/internal/event"
)

func newTelegramTest(t *testing.T, handler http.HandlerFunc) (*TelegramChannel, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewTelegramChannel(config.TelegramConfig{BotToken: "bot-token"}, zap.NewNop())
	c.apiBase = srv.URL
	return c, srv
}

func TestTelegramSendMessageAndPhoto(t *testing.T) {
	var paths []string
	var gotText string
	c, _ := newTelegramTest(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			r.ParseForm()
			gotText = r.PostFormValue("text")
			if r.PostFormValue("chat_id") != "chat-42" {
				t.Errorf("chat_id = %q", r.PostFormValue("chat_id"))
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	ev := event.NewFallEvent("user-1", "cam-1", 0.93)
	if err := c.Send(context.Background(), "chat-42", ev, []byte{0xff, 0xd8, 0xff}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(paths) != 2 {
		t.Fatalf("API calls = %v, want sendMessage then sendPhoto", paths)
	}
	if !strings.HasSuffix(paths[0], "/botbot-token/sendMessage") {
		t.Fatalf("first call = %q, want sendMessage", paths[0])
	}
	if !strings.HasSuffix(paths[1], "/botbot-token/sendPhoto") {
		t.Fatalf("second call = %q, want sendPhoto", paths[1])
	}
	if !strings.Contains(gotText, "93.00%") {
		t.Fatalf("message %q does not mention the probability", gotText)
	}
	if !c.Status().Available {
		t.Fatalf("channel not marked available after success")
	}
}

func TestTelegramNoAttachmentSkipsPhoto(t *testing.T) {
	var paths []string
	c, _ := newTelegramTest(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	if err := c.Send(context.Background(), "chat-42", event.NewFallEvent("u", "c", 0.8), nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(paths) != 1 || !strings.HasSuffix(paths[0], "/sendMessage") {
		t.Fatalf("API calls = %v, want sendMessage only", paths)
	}
}

func TestTelegramPhotoFailureStillSucceeds(t *testing.T) {
	c, _ := newTelegramTest(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/sendPhoto") {
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := c.Send(context.Background(), "chat-42", event.NewFallEvent("u", "c", 0.8), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Send = %v, want success: the text message landed", err)
	}
	if !c.Status().Available {
		t.Fatalf("channel marked unavailable after a photo-only failure")
	}
}

func TestTelegramMessageFailureIsError(t *testing.T) {
	c, _ := newTelegramTest(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	})

	err := c.Send(context.Background(), "chat-42", event.NewFallEvent("u", "c", 0.8), nil)
	if err == nil {
		t.Fatalf("Send succeeded on HTTP 400")
	}
	if !strings.Contains(err.Error(), "HTTP 400") {
		t.Fatalf("error %q does not carry the status", err)
	}
	if c.Status().Available {
		t.Fatalf("channel still available after message failure")
	}
}

func TestTelegramMissingTokenUnavailable(t *testing.T) {
	c := NewTelegramChannel(config.TelegramConfig{}, zap.NewNop())
	if c.Status().Available {
		t.Fatalf("channel available without a bot token")
	}
	if err := c.Send(context.Background(), "chat-42", event.NewFallEvent("u", "c", 0.8), nil); err == nil {
		t.Fatalf("Send succeeded without a bot token")
	}
}

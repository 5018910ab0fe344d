package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/event"
)

const defaultEventLimit = 25

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusPayload is shared by the status endpoint and the websocket
// stream.
func (s *Server) statusPayload() map[string]any {
	payload := s.notifier.Status()
	if s.detection != nil {
		det := map[string]any{"running": s.detection.Running()}
		if err := s.detection.Err(); err != nil {
			det["error"] = err.Error()
		}
		payload["detection"] = det
	}
	return payload
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.statusPayload())
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		http.Error(w, "user query parameter is required", http.StatusBadRequest)
		return
	}

	limit := defaultEventLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := s.store.GetEvents(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("listing events failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	eventID := mux.Vars(r)["eventID"]
	if userID == "" {
		http.Error(w, "user query parameter is required", http.StatusBadRequest)
		return
	}

	deleted, err := s.store.DeleteEvent(r.Context(), userID, eventID)
	if err != nil {
		s.logger.Error("deleting event failed", zap.String("event_id", eventID), zap.Error(err))
		http.Error(w, "failed to delete event", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleMarkReviewed(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	eventID := mux.Vars(r)["eventID"]
	if userID == "" {
		http.Error(w, "user query parameter is required", http.StatusBadRequest)
		return
	}

	if err := s.store.MarkReviewed(r.Context(), userID, eventID); err != nil {
		s.logger.Error("marking event reviewed failed", zap.String("event_id", eventID), zap.Error(err))
		http.Error(w, "failed to mark event reviewed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reviewed": true})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		http.Error(w, "user query parameter is required", http.StatusBadRequest)
		return
	}

	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("loading user failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, event.DefaultSettings())
		return
	}
	writeJSON(w, http.StatusOK, user.Settings)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		http.Error(w, "user query parameter is required", http.StatusBadRequest)
		return
	}

	var settings event.UserSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "invalid settings body", http.StatusBadRequest)
		return
	}

	if err := s.store.SaveSettings(r.Context(), userID, settings); err != nil {
		s.logger.Error("saving settings failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleTestNotification sends a labeled test alert through the user's
// configured channels without touching the event history.
func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	settings := event.DefaultSettings()
	user, err := s.store.GetUser(r.Context(), req.UserID)
	if err != nil {
		s.logger.Error("loading user for test alert failed", zap.String("user_id", req.UserID), zap.Error(err))
		http.Error(w, "failed to load user", http.StatusInternalServerError)
		return
	}
	if user != nil {
		settings = user.Settings
	}

	ev := event.NewFallEvent(req.UserID, "test", 1.0)
	ev.Test = true

	ok := s.notifier.SendNotifications(r.Context(), settings, ev, nil)
	s.logger.Info("test notification dispatched",
		zap.String("user_id", req.UserID), zap.Bool("delivered", ok))
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": ok})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

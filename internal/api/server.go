// Package api exposes the local control surface: event queries,
// settings, manual test alerts, and a status stream for the dashboard.
package api

import (
	"context"
	"net/http"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/config"
	"github.com/mikeyg42/fallguard/internal/event"
	"github.com/mikeyg42/fallguard/internal/store"
)

// Notifier is the slice of the dispatcher the API uses.
type Notifier interface {
	SendNotifications(ctx context.Context, settings event.UserSettings, ev *event.FallEvent, screenshot []byte) bool
	Status() map[string]any
}

// DetectionStatus reports the detection loop's health for the status
// endpoints.
type DetectionStatus interface {
	Running() bool
	Err() error
}

// Server is the local HTTP control server.
type Server struct {
	httpServer *http.Server
	store      store.EventStore
	notifier   Notifier
	detection  DetectionStatus
	logger     *zap.Logger
}

// NewServer wires the routes. detection may be nil when the process
// runs notification-only.
func NewServer(cfg config.APIConfig, st store.EventStore, notifier Notifier, detection DetectionStatus, logger *zap.Logger) *Server {
	s := &Server{
		store:     st,
		notifier:  notifier,
		detection: detection,
		logger:    logger.Named("api"),
	}

	// Manual test alerts go out over real channels; keep a lid on how
	// fast the dashboard can fire them.
	testLimiter := newRateLimiter(5, time.Minute)

	router := mux.NewRouter()
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/events", s.handleListEvents).Methods(http.MethodGet)
	router.HandleFunc("/api/events/{eventID}", s.handleDeleteEvent).Methods(http.MethodDelete)
	router.HandleFunc("/api/events/{eventID}/reviewed", s.handleMarkReviewed).Methods(http.MethodPost)
	router.HandleFunc("/api/settings", s.handleGetSettings).Methods(http.MethodGet)
	router.HandleFunc("/api/settings", s.handleSaveSettings).Methods(http.MethodPut)
	router.HandleFunc("/api/test-notification", testLimiter.middleware(s.handleTestNotification)).Methods(http.MethodPost)
	router.HandleFunc("/ws/status", s.handleStatusStream)

	cors := ghandlers.CORS(
		ghandlers.AllowedOrigins([]string{"*"}),
		ghandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		ghandlers.AllowedHeaders([]string{"Content-Type"}),
	)(router)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      cors,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mostly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves until Shutdown; it blocks the calling goroutine.
func (s *Server) Start() error {
	s.logger.Info("control api listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

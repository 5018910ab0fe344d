package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/config"
	"github.com/mikeyg42/fallguard/internal/event"
)

// ErrDuplicateID is returned when SaveEvent is called with an id that
// already exists; existing records are never overwritten.
var ErrDuplicateID = errors.New("store: event id already exists")

// UserRecord is a stored user with their canonical settings.
type UserRecord struct {
	ID        string             `json:"id"`
	CreatedAt float64            `json:"created_at"`
	LastLogin float64            `json:"last_login"`
	Settings  event.UserSettings `json:"settings"`
}

// EventStore persists fall events and user settings. Implementations:
// Postgres for the remote document store, LocalFile for degraded mode.
//
// GetUser returns (nil, nil) for an unknown user. DeleteEvent reports
// whether a record was actually removed, so calling it twice yields
// true then false.
type EventStore interface {
	SaveEvent(ctx context.Context, userID string, ev *event.FallEvent) (string, error)
	GetEvents(ctx context.Context, userID string, limit int) ([]event.FallEvent, error)
	DeleteEvent(ctx context.Context, userID, eventID string) (bool, error)

	SaveSettings(ctx context.Context, userID string, s event.UserSettings) error
	GetUser(ctx context.Context, userID string) (*UserRecord, error)
	CreateUser(ctx context.Context, userID string, s event.UserSettings) error
	UpdateLastLogin(ctx context.Context, userID string) error

	SetNotificationStatus(ctx context.Context, userID, eventID string, channels []string, at time.Time) error
	MarkReviewed(ctx context.Context, userID, eventID string) error

	Close() error
}

// Open connects to the configured remote store. If the remote store
// cannot be reached the process permanently degrades to the local file
// store; there is no per-call retry against the remote side. Losing an
// event is worse than losing consistency here.
func Open(cfg config.StoreConfig, logger *zap.Logger) EventStore {
	if cfg.DatabaseURL == "" {
		logger.Info("no database configured, using local file store",
			zap.String("path", cfg.LocalDataPath))
		return mustLocal(cfg.LocalDataPath, logger)
	}

	pg, err := NewPostgres(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Warn("remote store unavailable, degrading to local file store for process lifetime",
			zap.String("path", cfg.LocalDataPath), zap.Error(err))
		return mustLocal(cfg.LocalDataPath, logger)
	}
	return pg
}

func mustLocal(path string, logger *zap.Logger) EventStore {
	lf, err := NewLocalFile(path, logger)
	if err != nil {
		// The local file store only fails when its directory cannot be
		// created; running without any persistence is not acceptable.
		logger.Fatal("local file store unavailable", zap.Error(err))
	}
	return lf
}

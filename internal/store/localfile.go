package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/event"
)

// LocalFile is the degraded-mode event store: one JSON document holding
// every user keyed by id, rewritten whole on each mutation. A single
// writer lock serializes mutations from the detection and settings
// paths; every write is flushed to disk before returning so a crash
// cannot lose an accepted event.
type LocalFile struct {
	path   string
	logger *zap.Logger

	mu    sync.Mutex
	users map[string]*localUser
}

type localUser struct {
	ID         string             `json:"id"`
	CreatedAt  float64            `json:"created_at"`
	LastLogin  float64            `json:"last_login"`
	Settings   event.UserSettings `json:"settings"`
	FallEvents []event.FallEvent  `json:"fall_events"`
}

type localDocument struct {
	Users map[string]*localUser `json:"users"`
}

// NewLocalFile opens (or creates) the local data file.
func NewLocalFile(path string, logger *zap.Logger) (*LocalFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lf := &LocalFile{
		path:   path,
		logger: logger.Named("localstore"),
		users:  make(map[string]*localUser),
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// first run, start empty
	case err != nil:
		return nil, fmt.Errorf("read local data: %w", err)
	default:
		var doc localDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse local data: %w", err)
		}
		if doc.Users != nil {
			lf.users = doc.Users
		}
	}

	lf.logger.Info("local file store ready", zap.String("path", path), zap.Int("users", len(lf.users)))
	return lf, nil
}

// flush rewrites the whole document atomically. Caller holds mu.
func (lf *LocalFile) flush() error {
	raw, err := json.MarshalIndent(localDocument{Users: lf.users}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal local data: %w", err)
	}

	tmp := lf.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, lf.path); err != nil {
		return fmt.Errorf("replace local data: %w", err)
	}
	return nil
}

// userLocked returns the user entry, creating it if needed. Caller holds mu.
func (lf *LocalFile) userLocked(userID string) *localUser {
	u, ok := lf.users[userID]
	if !ok {
		u = &localUser{ID: userID}
		lf.users[userID] = u
	}
	return u
}

func (lf *LocalFile) SaveEvent(ctx context.Context, userID string, ev *event.FallEvent) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("save event: empty user id")
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = epochNow()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = ev.CreatedAt
	}
	ev.UserID = userID
	ev.Confidence = event.NormalizeConfidence(ev.Confidence)

	u := lf.userLocked(userID)
	for i := range u.FallEvents {
		if u.FallEvents[i].ID == ev.ID {
			return "", ErrDuplicateID
		}
	}
	u.FallEvents = append(u.FallEvents, *ev)

	if err := lf.flush(); err != nil {
		return "", err
	}
	lf.logger.Info("fall event saved locally", zap.String("event_id", ev.ID), zap.String("user_id", userID))
	return ev.ID, nil
}

func (lf *LocalFile) GetEvents(ctx context.Context, userID string, limit int) ([]event.FallEvent, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	u, ok := lf.users[userID]
	if !ok {
		return nil, nil
	}

	events := make([]event.FallEvent, len(u.FallEvents))
	copy(events, u.FallEvents)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt > events[j].CreatedAt
	})

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (lf *LocalFile) DeleteEvent(ctx context.Context, userID, eventID string) (bool, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	u, ok := lf.users[userID]
	if !ok {
		return false, nil
	}

	for i := range u.FallEvents {
		if u.FallEvents[i].ID == eventID {
			u.FallEvents = append(u.FallEvents[:i], u.FallEvents[i+1:]...)
			if err := lf.flush(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (lf *LocalFile) SaveSettings(ctx context.Context, userID string, s event.UserSettings) error {
	if userID == "" {
		return fmt.Errorf("save settings: empty user id")
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()

	u := lf.userLocked(userID)
	u.Settings = s
	if u.CreatedAt == 0 {
		u.CreatedAt = epochNow()
	}
	return lf.flush()
}

func (lf *LocalFile) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	u, ok := lf.users[userID]
	if !ok {
		return nil, nil
	}
	return &UserRecord{
		ID:        u.ID,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
		Settings:  u.Settings,
	}, nil
}

func (lf *LocalFile) CreateUser(ctx context.Context, userID string, s event.UserSettings) error {
	if userID == "" {
		return fmt.Errorf("create user: empty user id")
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()

	now := epochNow()
	u := lf.userLocked(userID)
	u.Settings = s
	if u.CreatedAt == 0 {
		u.CreatedAt = now
	}
	u.LastLogin = now
	return lf.flush()
}

func (lf *LocalFile) UpdateLastLogin(ctx context.Context, userID string) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	u := lf.userLocked(userID)
	u.LastLogin = epochNow()
	return lf.flush()
}

func (lf *LocalFile) SetNotificationStatus(ctx context.Context, userID, eventID string, channels []string, at time.Time) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	u, ok := lf.users[userID]
	if !ok {
		return fmt.Errorf("set notification status: unknown user %q", userID)
	}
	for i := range u.FallEvents {
		if u.FallEvents[i].ID == eventID {
			u.FallEvents[i].NotificationSent = true
			u.FallEvents[i].NotificationChannels = channels
			u.FallEvents[i].NotificationTime = float64(at.UnixNano()) / float64(time.Second)
			return lf.flush()
		}
	}
	return fmt.Errorf("set notification status: unknown event %q", eventID)
}

func (lf *LocalFile) MarkReviewed(ctx context.Context, userID, eventID string) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	u, ok := lf.users[userID]
	if !ok {
		return fmt.Errorf("mark reviewed: unknown user %q", userID)
	}
	for i := range u.FallEvents {
		if u.FallEvents[i].ID == eventID {
			u.FallEvents[i].Reviewed = true
			return lf.flush()
		}
	}
	return fmt.Errorf("mark reviewed: unknown event %q", eventID)
}

func (lf *LocalFile) Close() error { return nil }

func epochNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

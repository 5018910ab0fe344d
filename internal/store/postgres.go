package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/event"
)

// Postgres is the remote event store.
type Postgres struct {
	db     *sqlx.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	settings   JSONB NOT NULL DEFAULT '{}',
	created_at DOUBLE PRECISION NOT NULL,
	last_login DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS fall_events (
	id                    TEXT PRIMARY KEY,
	user_id               TEXT NOT NULL,
	camera_id             TEXT NOT NULL DEFAULT '',
	ts                    DOUBLE PRECISION NOT NULL,
	created_at            DOUBLE PRECISION NOT NULL,
	confidence            DOUBLE PRECISION NOT NULL,
	image_ref             TEXT NOT NULL DEFAULT '',
	reviewed              BOOLEAN NOT NULL DEFAULT FALSE,
	is_test               BOOLEAN NOT NULL DEFAULT FALSE,
	notification_sent     BOOLEAN NOT NULL DEFAULT FALSE,
	notification_channels TEXT[] NOT NULL DEFAULT '{}',
	notification_time     DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_fall_events_user_created
	ON fall_events (user_id, created_at DESC);
`

// NewPostgres connects, pings and ensures the schema. Any failure here
// causes the caller to degrade to the local file store.
func NewPostgres(dsn string, logger *zap.Logger) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.Info("postgres event store ready")
	return &Postgres{db: db, logger: logger.Named("pgstore")}, nil
}

func (p *Postgres) SaveEvent(ctx context.Context, userID string, ev *event.FallEvent) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("save event: empty user id")
	}

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

	// ON CONFLICT DO NOTHING keeps existing ids immutable: a zero row
	// count means the id was already taken.
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO fall_events
			(id, user_id, camera_id, ts, created_at, confidence, image_ref, reviewed, is_test)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.UserID, ev.CameraID, ev.Timestamp, ev.CreatedAt,
		ev.Confidence, ev.ImageRef, ev.Reviewed, ev.Test)
	if err != nil {
		return "", fmt.Errorf("insert fall event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", ErrDuplicateID
	}

	p.logger.Info("fall event saved", zap.String("event_id", ev.ID), zap.String("user_id", userID))
	return ev.ID, nil
}

type eventRow struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	CameraID         string         `db:"camera_id"`
	Timestamp        float64        `db:"ts"`
	CreatedAt        float64        `db:"created_at"`
	Confidence       float64        `db:"confidence"`
	ImageRef         string         `db:"image_ref"`
	Reviewed         bool           `db:"reviewed"`
	Test             bool           `db:"is_test"`
	NotificationSent bool           `db:"notification_sent"`
	NotificationChs  pq.StringArray `db:"notification_channels"`
	NotificationTime float64        `db:"notification_time"`
}

func (r eventRow) toEvent() event.FallEvent {
	return event.FallEvent{
		ID:                   r.ID,
		UserID:               r.UserID,
		CameraID:             r.CameraID,
		Timestamp:            r.Timestamp,
		CreatedAt:            r.CreatedAt,
		Confidence:           r.Confidence,
		ImageRef:             r.ImageRef,
		Reviewed:             r.Reviewed,
		Test:                 r.Test,
		NotificationSent:     r.NotificationSent,
		NotificationChannels: []string(r.NotificationChs),
		NotificationTime:     r.NotificationTime,
	}
}

func (p *Postgres) GetEvents(ctx context.Context, userID string, limit int) ([]event.FallEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	// LIMIT happens server-side so result size is bounded before any
	// rows cross the wire.
	var rows []eventRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, camera_id, ts, created_at, confidence, image_ref,
		       reviewed, is_test, notification_sent, notification_channels, notification_time
		FROM fall_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query fall events: %w", err)
	}

	events := make([]event.FallEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toEvent())
	}
	return events, nil
}

func (p *Postgres) DeleteEvent(ctx context.Context, userID, eventID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM fall_events WHERE id = $1 AND user_id = $2`, eventID, userID)
	if err != nil {
		return false, fmt.Errorf("delete fall event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete fall event: %w", err)
	}
	return n > 0, nil
}

func (p *Postgres) SaveSettings(ctx context.Context, userID string, s event.UserSettings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	now := epochNow()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO users (id, settings, created_at, last_login)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE SET settings = EXCLUDED.settings`,
		userID, raw, now)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (p *Postgres) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	var row struct {
		ID        string  `db:"id"`
		Settings  []byte  `db:"settings"`
		CreatedAt float64 `db:"created_at"`
		LastLogin float64 `db:"last_login"`
	}
	err := p.db.GetContext(ctx, &row,
		`SELECT id, settings, created_at, last_login FROM users WHERE id = $1`, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	rec := &UserRecord{ID: row.ID, CreatedAt: row.CreatedAt, LastLogin: row.LastLogin}
	if len(row.Settings) > 0 {
		if err := json.Unmarshal(row.Settings, &rec.Settings); err != nil {
			return nil, fmt.Errorf("parse user settings: %w", err)
		}
	}
	return rec, nil
}

func (p *Postgres) CreateUser(ctx context.Context, userID string, s event.UserSettings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	now := epochNow()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO users (id, settings, created_at, last_login)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE SET last_login = EXCLUDED.last_login`,
		userID, raw, now)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateLastLogin(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE users SET last_login = $2 WHERE id = $1`, userID, epochNow())
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

func (p *Postgres) SetNotificationStatus(ctx context.Context, userID, eventID string, channels []string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE fall_events
		SET notification_sent = TRUE, notification_channels = $3, notification_time = $4
		WHERE id = $1 AND user_id = $2`,
		eventID, userID, pq.StringArray(channels), float64(at.UnixNano())/float64(time.Second))
	if err != nil {
		return fmt.Errorf("set notification status: %w", err)
	}
	return nil
}

func (p *Postgres) MarkReviewed(ctx context.Context, userID, eventID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE fall_events SET reviewed = TRUE WHERE id = $1 AND user_id = $2`, eventID, userID)
	if err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }

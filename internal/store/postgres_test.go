package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/event"
)

func setupMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pg := &Postgres{db: sqlx.NewDb(db, "postgres"), logger: zap.NewNop()}
	return pg, mock
}

func TestPostgresSaveEventAssignsID(t *testing.T) {
	pg, mock := setupMockPostgres(t)

	mock.ExpectExec(`INSERT INTO fall_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ev := &event.FallEvent{Confidence: 1.5} // out-of-range score from the model runtime
	id, err := pg.SaveEvent(context.Background(), "user1", ev)
	if err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	if id == "" || ev.ID != id {
		t.Fatalf("SaveEvent id = %q, event id = %q", id, ev.ID)
	}
	if ev.Confidence != 1.0 {
		t.Fatalf("confidence not normalized: %v", ev.Confidence)
	}
	if ev.CreatedAt == 0 {
		t.Fatal("created_at not stamped")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresSaveEventDuplicateID(t *testing.T) {
	pg, mock := setupMockPostgres(t)

	// ON CONFLICT DO NOTHING reports zero rows for an existing id.
	mock.ExpectExec(`INSERT INTO fall_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := pg.SaveEvent(context.Background(), "user1", &event.FallEvent{ID: "taken"})
	if err != ErrDuplicateID {
		t.Fatalf("duplicate save returned %v, want ErrDuplicateID", err)
	}
}

func TestPostgresGetEventsServerSideLimit(t *testing.T) {
	pg, mock := setupMockPostgres(t)

	cols := []string{
		"id", "user_id", "camera_id", "ts", "created_at", "confidence", "image_ref",
		"reviewed", "is_test", "notification_sent", "notification_channels", "notification_time",
	}
	rows := sqlmock.NewRows(cols).
		AddRow("e2", "user1", "camera_0", 200.0, 200.0, 0.8, "", false, false, true, pq.StringArray{"email"}, 201.0).
		AddRow("e1", "user1", "camera_0", 100.0, 100.0, 0.9, "", false, false, false, pq.StringArray{}, 0.0)

	mock.ExpectQuery(`SELECT .+ FROM fall_events`).
		WithArgs("user1", 2).
		WillReturnRows(rows)

	events, err := pg.GetEvents(context.Background(), "user1", 2)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID != "e2" {
		t.Fatalf("newest-first ordering broken: first id %q", events[0].ID)
	}
	if !events[0].NotificationSent || events[0].NotificationChannels[0] != "email" {
		t.Fatalf("notification fields not mapped: %+v", events[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresDeleteEventIdempotent(t *testing.T) {
	pg, mock := setupMockPostgres(t)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM fall_events`).
		WithArgs("e1", "user1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM fall_events`).
		WithArgs("e1", "user1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := pg.DeleteEvent(ctx, "user1", "e1")
	if err != nil || !deleted {
		t.Fatalf("first delete = (%v, %v), want (true, nil)", deleted, err)
	}
	deleted, err = pg.DeleteEvent(ctx, "user1", "e1")
	if err != nil || deleted {
		t.Fatalf("second delete = (%v, %v), want (false, nil)", deleted, err)
	}
}

func TestPostgresGetUserAbsent(t *testing.T) {
	pg, mock := setupMockPostgres(t)

	mock.ExpectQuery(`SELECT id, settings, created_at, last_login FROM users`).
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)

	rec, err := pg.GetUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("GetUser for unknown user = %+v, want nil", rec)
	}
}

func TestPostgresGetUserSettings(t *testing.T) {
	pg, mock := setupMockPostgres(t)

	rows := sqlmock.NewRows([]string{"id", "settings", "created_at", "last_login"}).
		AddRow("user1", []byte(`{"email_notification":true,"email":"a@x.com"}`), 100.0, 200.0)
	mock.ExpectQuery(`SELECT id, settings, created_at, last_login FROM users`).
		WithArgs("user1").
		WillReturnRows(rows)

	rec, err := pg.GetUser(context.Background(), "user1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if rec == nil || !rec.Settings.EmailNotification || rec.Settings.Email != "a@x.com" {
		t.Fatalf("settings not decoded: %+v", rec)
	}
}

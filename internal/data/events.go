package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/technosupport/ts-camviewer/internal/events"
)

// EventStore persists event records in the events table.
type EventStore struct {
	DB      DBTX
	Dialect Dialect
	Now     func() time.Time
}

func NewEventStore(db DBTX, driver string) *EventStore {
	return &EventStore{DB: db, Dialect: DialectFor(driver), Now: time.Now}
}

// Insert appends r and returns the surrogate key assigned by the database.
func (m *EventStore) Insert(ctx context.Context, r events.Record) (int64, error) {
	query := m.Dialect.Rebind(`
		INSERT INTO events (camera_name, timestamp, video_path, viewed, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`)

	viewed := 0
	if r.Viewed {
		viewed = 1
	}

	var id int64
	err := m.DB.QueryRowContext(ctx, query,
		r.CameraName, r.Timestamp, r.VideoPath, viewed, events.FormatTimestamp(m.Now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event %s@%s: %w", r.CameraName, r.Timestamp, err)
	}
	return id, nil
}

func (m *EventStore) CountUnviewed(ctx context.Context, camera string) (int, error) {
	query := m.Dialect.Rebind(`SELECT COUNT(*) FROM events WHERE camera_name = ? AND viewed = 0`)

	var n int
	if err := m.DB.QueryRowContext(ctx, query, camera).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unviewed %s: %w", camera, err)
	}
	return n, nil
}

// CountSince counts events for camera whose timestamp is at or after since.
// Timestamps use a fixed zero-padded layout, so string order is time order.
func (m *EventStore) CountSince(ctx context.Context, camera string, since time.Time) (int, error) {
	query := m.Dialect.Rebind(`SELECT COUNT(*) FROM events WHERE camera_name = ? AND timestamp >= ?`)

	var n int
	if err := m.DB.QueryRowContext(ctx, query, camera, events.FormatTimestamp(since)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count since %s: %w", camera, err)
	}
	return n, nil
}

// ListRecent returns the newest events first. An empty camera lists all.
func (m *EventStore) ListRecent(ctx context.Context, camera string, limit int) ([]events.Stored, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, camera_name, timestamp, video_path, viewed, created_at
		FROM events`
	args := []any{}
	if camera != "" {
		query += ` WHERE camera_name = ?`
		args = append(args, camera)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := m.DB.QueryContext(ctx, m.Dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []events.Stored
	for rows.Next() {
		var (
			s         events.Stored
			viewed    int
			createdAt string
		)
		if err := rows.Scan(&s.ID, &s.CameraName, &s.Timestamp, &s.VideoPath, &viewed, &createdAt); err != nil {
			return nil, err
		}
		s.Viewed = viewed != 0
		if t, err := time.ParseInLocation(events.TimestampLayout, createdAt, time.Local); err == nil {
			s.CreatedAt = t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkViewed sets the viewed flag. It is the only update path for an event.
func (m *EventStore) MarkViewed(ctx context.Context, id int64) error {
	query := m.Dialect.Rebind(`UPDATE events SET viewed = 1 WHERE id = ?`)

	res, err := m.DB.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark viewed %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, sql.ErrNoRows)
}

package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/technosupport/ts-camviewer/internal/events"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// EventRepository is the storage surface the workers and the HTTP layer use.
type EventRepository interface {
	Insert(ctx context.Context, r events.Record) (int64, error)
	CountUnviewed(ctx context.Context, camera string) (int, error)
	CountSince(ctx context.Context, camera string, since time.Time) (int, error)
	ListRecent(ctx context.Context, camera string, limit int) ([]events.Stored, error)
	MarkViewed(ctx context.Context, id int64) error
}

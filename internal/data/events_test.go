package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-camviewer/internal/events"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)

func newMockStore(t *testing.T, driver string) (*EventStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewEventStore(db, driver)
	s.Now = func() time.Time { return fixedNow }
	return s, mock
}

func TestEventStore_Insert(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)

	mock.ExpectQuery(`INSERT INTO events \(camera_name, timestamp, video_path, viewed, created_at\)\s+VALUES \(\?, \?, \?, \?, \?\)\s+RETURNING id`).
		WithArgs("cam1", "2025-01-01 00:00:00", "/v/a.mp4", 0, "2025-01-02 03:04:05").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := s.Insert(context.Background(), events.Record{
		CameraName: "cam1", Timestamp: "2025-01-01 00:00:00", VideoPath: "/v/a.mp4",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_InsertPostgresPlaceholders(t *testing.T) {
	s, mock := newMockStore(t, DriverPostgres)

	mock.ExpectQuery(`VALUES \(\$1, \$2, \$3, \$4, \$5\)`).
		WithArgs("cam1", "2025-01-01 00:00:00", "/v/a.mp4", 1, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, err := s.Insert(context.Background(), events.Record{
		CameraName: "cam1", Timestamp: "2025-01-01 00:00:00", VideoPath: "/v/a.mp4", Viewed: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_InsertError(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)

	mock.ExpectQuery("INSERT INTO events").WillReturnError(sql.ErrConnDone)

	_, err := s.Insert(context.Background(), events.Record{CameraName: "cam1", Timestamp: "2025-01-01 00:00:00", VideoPath: "x"})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestEventStore_Counts(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM events WHERE camera_name = \? AND viewed = 0`).
		WithArgs("cam1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM events WHERE camera_name = \? AND timestamp >= \?`).
		WithArgs("cam1", "2025-01-01 03:04:05").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	n, err := s.CountUnviewed(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountSince(context.Background(), "cam1", fixedNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_ListRecentFilter(t *testing.T) {
	s, mock := newMockStore(t, DriverPostgres)

	rows := sqlmock.NewRows([]string{"id", "camera_name", "timestamp", "video_path", "viewed", "created_at"}).
		AddRow(2, "cam1", "2025-01-01 00:00:01", "/v/b.mp4", 0, "2025-01-02 03:04:05").
		AddRow(1, "cam1", "2025-01-01 00:00:00", "/v/a.mp4", 1, "bogus")
	mock.ExpectQuery(`FROM events WHERE camera_name = \$1 ORDER BY timestamp DESC, id DESC LIMIT \$2`).
		WithArgs("cam1", 50).
		WillReturnRows(rows)

	list, err := s.ListRecent(context.Background(), "cam1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(2), list[0].ID)
	assert.Equal(t, fixedNow, list[0].CreatedAt)
	assert.True(t, list[1].Viewed)
	assert.True(t, list[1].CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStore_MarkViewed(t *testing.T) {
	s, mock := newMockStore(t, DriverSQLite)

	mock.ExpectExec(`UPDATE events SET viewed = 1 WHERE id = \?`).WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE events SET viewed = 1`).WithArgs(int64(10)).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, s.MarkViewed(context.Background(), 9))
	err := s.MarkViewed(context.Background(), 10)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDialect_Rebind(t *testing.T) {
	q := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, q, DialectFor(DriverSQLite).Rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", DialectFor(DriverPostgres).Rebind(q))
}

func TestConfig_DSNs(t *testing.T) {
	c := Config{Path: "/tmp/e.db", BusyTimeout: 5 * time.Second}
	assert.Equal(t, "file:/tmp/e.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", c.SQLiteDSN())

	c = Config{User: "u", Password: "p", Host: "h", Port: 5432, Name: "cams", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/cams?sslmode=disable", c.PostgresDSN())

	c.DSN = "postgres://override"
	assert.Equal(t, "postgres://override", c.PostgresDSN())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	assert.Error(t, err)

	_, err = Open(Config{Driver: DriverSQLite})
	assert.Error(t, err)
}

package migrations

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-camviewer/internal/data"
	"github.com/technosupport/ts-camviewer/internal/events"
)

func sqliteConfig(t *testing.T) data.Config {
	return data.Config{
		Driver:      data.DriverSQLite,
		Path:        filepath.Join(t.TempDir(), "events.db"),
		BusyTimeout: time.Second,
	}
}

func TestUp_CreatesSchemaAndIsIdempotent(t *testing.T) {
	cfg := sqliteConfig(t)

	require.NoError(t, Up(cfg))
	require.NoError(t, Up(cfg))

	db, err := data.Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	var indexes int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND tbl_name = 'events' AND name LIKE 'idx_events_%'`,
	).Scan(&indexes))
	assert.Equal(t, 3, indexes)
}

func TestEventStore_AgainstMigratedSQLite(t *testing.T) {
	cfg := sqliteConfig(t)
	require.NoError(t, Up(cfg))

	db, err := data.Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	store := data.NewEventStore(db, cfg.Driver)
	ctx := context.Background()
	now := time.Now()

	recent := events.Record{CameraName: "cam1", Timestamp: events.FormatTimestamp(now.Add(-time.Hour)), VideoPath: "/v/a.mp4"}
	old := events.Record{CameraName: "cam1", Timestamp: events.FormatTimestamp(now.Add(-48 * time.Hour)), VideoPath: "/v/b.mp4"}
	seen := events.Record{CameraName: "cam1", Timestamp: events.FormatTimestamp(now.Add(-2 * time.Hour)), VideoPath: "/v/c.mp4", Viewed: true}
	other := events.Record{CameraName: "cam2", Timestamp: events.FormatTimestamp(now), VideoPath: "/v/d.mp4"}

	var ids []int64
	for _, r := range []events.Record{recent, old, seen, other} {
		id, err := store.Insert(ctx, r)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)

	unviewed, err := store.CountUnviewed(ctx, "cam1")
	require.NoError(t, err)
	assert.Equal(t, 2, unviewed)

	last24h, err := store.CountSince(ctx, "cam1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, last24h)

	list, err := store.ListRecent(ctx, "cam1", 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "/v/a.mp4", list[0].VideoPath)
	assert.Equal(t, "/v/b.mp4", list[2].VideoPath)
	assert.True(t, list[1].Viewed)

	all, err := store.ListRecent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "cam2", all[0].CameraName)

	require.NoError(t, store.MarkViewed(ctx, ids[0]))
	unviewed, err = store.CountUnviewed(ctx, "cam1")
	require.NoError(t, err)
	assert.Equal(t, 1, unviewed)

	assert.ErrorIs(t, store.MarkViewed(ctx, 999), data.ErrRecordNotFound)
}

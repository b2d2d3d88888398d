package presentation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/technosupport/ts-camviewer/internal/events"
	"github.com/technosupport/ts-camviewer/internal/ingest"
	"github.com/technosupport/ts-camviewer/internal/persist"
	"github.com/technosupport/ts-camviewer/internal/supervisor"
)

type fixedSession struct {
	info supervisor.SessionInfo
}

func (f fixedSession) Session() (supervisor.SessionInfo, bool) { return f.info, f.info.ID != "" }

func startLoop(t *testing.T, src Sources, hub *Hub) (*Loop, func()) {
	t.Helper()
	l := NewLoop(src, hub)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()
	return l, func() {
		cancel()
		<-done
	}
}

func TestCallbacks_NeverBlockWithoutRunner(t *testing.T) {
	l := NewLoop(Sources{}, nil)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			l.RefreshCounts()
			l.RefreshEventList("cam1")
			l.UpdateConnectionStatus("connecting", false)
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("callbacks blocked")
	}
	assert.Len(t, l.wake, 1)
	assert.True(t, l.listPending)
	assert.Equal(t, "cam1", l.listFilter)
}

func TestRefreshEventList_PendingFilterSurvivesPlainRefresh(t *testing.T) {
	l := NewLoop(Sources{}, nil)

	l.RefreshEventList("gate")
	l.RefreshEventList("")
	assert.True(t, l.listSet)
	assert.Equal(t, "gate", l.listFilter)

	l.SetFilter("")
	assert.True(t, l.listSet)
	assert.Equal(t, "", l.listFilter)
}

func TestLoop_PlainRefreshKeepsCurrentFilter(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cache := ingest.NewRecentCache(10)
	l, stop := startLoop(t, Sources{Cache: cache}, nil)
	defer stop()

	cache.Add(events.Record{CameraName: "piir", Timestamp: "2025-01-01 00:00:00", VideoPath: "/v/a.mp4"})
	l.RefreshEventList("piir")
	require.Eventually(t, func() bool { return l.View().Filter == "piir" }, time.Second, 5*time.Millisecond)

	// new events refresh the list without a filter of their own
	cache.Add(events.Record{CameraName: "gate", Timestamp: "2025-01-01 00:00:01", VideoPath: "/v/b.mp4"})
	cache.Add(events.Record{CameraName: "piir", Timestamp: "2025-01-01 00:00:02", VideoPath: "/v/c.mp4"})
	l.RefreshEventList("")
	require.Eventually(t, func() bool { return len(l.View().Events) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "piir", l.View().Filter)
	for _, ev := range l.View().Events {
		assert.Equal(t, "piir", ev.CameraName)
	}

	l.SetFilter("")
	require.Eventually(t, func() bool { return len(l.View().Events) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "", l.View().Filter)
}

func TestLoop_BuildsViewFromSources(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	counters := persist.NewCounters()
	cache := ingest.NewRecentCache(10)
	remote := ingest.NewRemoteStatus()
	src := Sources{
		Counters: counters,
		Cache:    cache,
		Remote:   remote,
		Sessions: fixedSession{supervisor.SessionInfo{ID: "s1", Camera: "piir", Strategy: "tcp"}},
	}
	l, stop := startLoop(t, src, nil)
	defer stop()

	counters.Set(persist.Counts{Camera: "piir", Unviewed: 3, Last24h: 5})
	remote.Set("piir", "online", time.Now())
	l.RefreshCounts()
	require.Eventually(t, func() bool { return len(l.View().Counts) == 1 }, time.Second, 5*time.Millisecond)

	v := l.View()
	assert.Equal(t, 3, v.Counts[0].Unviewed)
	require.Len(t, v.Remote, 1)
	assert.Equal(t, "online", v.Remote[0].Status)
	require.NotNil(t, v.Session)
	assert.Equal(t, "s1", v.Session.ID)

	cache.Add(events.Record{CameraName: "piir", Timestamp: "2025-01-01 00:00:00", VideoPath: "/v/a.mp4"})
	cache.Add(events.Record{CameraName: "gate", Timestamp: "2025-01-01 00:00:01", VideoPath: "/v/b.mp4"})
	l.RefreshEventList("piir")
	require.Eventually(t, func() bool { return l.View().Filter == "piir" }, time.Second, 5*time.Millisecond)
	assert.Len(t, l.View().Events, 1)

	l.UpdateConnectionStatus("connecting to piir", false)
	l.UpdateConnectionStatus("live: piir via tcp", true)
	require.Eventually(t, func() bool { return l.View().Connection.Healthy }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "live: piir via tcp", l.View().Connection.Text)
}

func TestHub_StreamsViewUpdates(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	defer hub.Close()

	counters := persist.NewCounters()
	l, stop := startLoop(t, Sources{Counters: counters}, hub)
	defer stop()

	// the initial view is published before Run starts selecting
	require.Eventually(t, func() bool { return !l.View().UpdatedAt.IsZero() }, time.Second, 5*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	counters.Set(persist.Counts{Camera: "shed", Unviewed: 1})
	l.RefreshCounts()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg struct {
			Type string `json:"type"`
			Data View   `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "view", msg.Type)
		if len(msg.Data.Counts) == 1 {
			assert.Equal(t, "shed", msg.Data.Counts[0].Camera)
			break
		}
	}
}

func TestHub_CloseDisconnectsSubscribers(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	hub.Close()
	assert.Equal(t, 0, hub.Len())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

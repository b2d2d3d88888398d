package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-camviewer/internal/broker"
	"github.com/technosupport/ts-camviewer/internal/config"
	"github.com/technosupport/ts-camviewer/internal/data"
	"github.com/technosupport/ts-camviewer/internal/data/migrations"
	"github.com/technosupport/ts-camviewer/internal/events"
	"github.com/technosupport/ts-camviewer/internal/media"
)

// fakeBroker records subscriptions so the test can deliver messages the way
// the broker library would.
type fakeBroker struct {
	mu       sync.Mutex
	handlers map[string]broker.Handler
	closed   bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]broker.Handler)}
}

func (f *fakeBroker) Connect(context.Context) error { return nil }

func (f *fakeBroker) Subscribe(pattern string, h broker.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[pattern] = h
	return nil
}

func (f *fakeBroker) Publish(string, byte, []byte) error { return broker.ErrNotConnected }

func (f *fakeBroker) IsConnected() bool { return false }

func (f *fakeBroker) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeBroker) handler(pattern string) broker.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[pattern]
}

func (f *fakeBroker) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// stallingEngine builds pipelines that never become ready. With a nil
// release channel SetState waits for cancellation; otherwise it ignores the
// context and waits for release.
type stallingEngine struct {
	release chan struct{}
	builds  atomic.Int32
	waiting atomic.Int32
}

func (e *stallingEngine) Build(string) (media.Pipeline, error) {
	e.builds.Add(1)
	return &stallingPipeline{engine: e}, nil
}

type stallingPipeline struct {
	engine *stallingEngine
}

func (p *stallingPipeline) SetState(ctx context.Context, _ media.State) error {
	p.engine.waiting.Add(1)
	if p.engine.release == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	<-p.engine.release
	return errors.New("pipeline released")
}

func (p *stallingPipeline) Events() <-chan media.Event { return nil }

func (p *stallingPipeline) Release() error { return nil }

type fixture struct {
	app    *App
	store  *data.EventStore
	broker *fakeBroker
	topics broker.Topics
	addr   string
	exits  *exitRecorder
}

func newFixture(t *testing.T, tune func(*config.Config)) *fixture {
	t.Helper()
	return newEngineFixture(t, media.NullEngine{}, tune)
}

func newEngineFixture(t *testing.T, engine media.Engine, tune func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.ClientID = "test-viewer"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.Storage.BusyTimeout = time.Second
	cfg.Cameras = []config.Camera{{Name: "front", Endpoint: "rtsp://10.0.0.5/stream", Strategies: config.DefaultStrategies()}}
	if tune != nil {
		tune(&cfg)
	}

	require.NoError(t, migrations.Up(cfg.Storage))
	db, err := data.Open(cfg.Storage)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fb := newFakeBroker()
	topics := broker.MQTTTopics("rtsp_client")
	exits := &exitRecorder{}
	store := data.NewEventStore(db, cfg.Storage.Driver)

	a := New(Options{
		Config:   cfg,
		Store:    store,
		Engine:   engine,
		Broker:   fb,
		Topics:   topics,
		Listener: ln,
		Exit:     exits.exit,
	})
	return &fixture{app: a, store: store, broker: fb, topics: topics, addr: ln.Addr().String(), exits: exits}
}

func (f *fixture) run(t *testing.T) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- f.app.Run(context.Background()) }()

	// subscriptions happen on a Run goroutine
	pattern := f.topics.Subscriptions()[2]
	require.Eventually(t, func() bool { return f.broker.handler(pattern) != nil }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + f.addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	return errCh
}

func (f *fixture) deliverEvents(camera string, n int) {
	h := f.broker.handler(f.topics.Subscriptions()[2])
	base := time.Now().Add(-time.Minute)
	for i := 0; i < n; i++ {
		payload := fmt.Sprintf(`{"camera_name":%q,"timestamp":%q,"video_path":"/clips/%s-%03d.mp4"}`,
			camera, base.Add(time.Duration(i)*time.Second).Format("2006-01-02 15:04:05"), camera, i)
		h(f.topics.CameraEvents(camera), []byte(payload))
	}
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestApp_QuitDrainsQueuedEventsToStorage(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		// only a shutdown can get past the first batch
		cfg.Persist.BatchSize = 10
		cfg.Persist.BatchPause = time.Hour
	})
	errCh := f.run(t)

	f.deliverEvents("front", 25)

	resp, err := http.Post("http://"+f.addr+"/api/v1/quit", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, waitRun(t, errCh))
	assert.Empty(t, f.exits.calls())
	assert.True(t, f.broker.isClosed())

	n, err := f.store.CountUnviewed(context.Background(), "front")
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}

func TestApp_ContextCancelShutsDown(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.broker.handler(f.topics.Subscriptions()[0]) != nil
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, waitRun(t, errCh))
	assert.Empty(t, f.exits.calls())
}

func TestApp_ConnectWithoutMediaEngineFails(t *testing.T) {
	f := newFixture(t, nil)
	errCh := f.run(t)

	resp, err := http.Post("http://"+f.addr+"/api/v1/cameras/front/connect", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "failed", f.app.supervisor.State().Name)

	f.app.Shutdown("test")
	require.NoError(t, waitRun(t, errCh))
}

func TestApp_WriteQueueAcceptsMoreThanNotificationBound(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Ingest.QueueSize = 3 })

	for i := 0; i < 5; i++ {
		require.NoError(t, f.app.writes.Push(events.Record{CameraName: "front", VideoPath: fmt.Sprintf("/clips/%d.mp4", i)}))
	}
	assert.Equal(t, 5, f.app.writes.Len())
}

func (f *fixture) connectAsync(camera string) {
	go func() {
		resp, err := http.Post("http://"+f.addr+"/api/v1/cameras/"+camera+"/connect", "application/json", strings.NewReader("{}"))
		if err == nil {
			resp.Body.Close()
		}
	}()
}

func TestApp_ShutdownCancelsConnectInFlight(t *testing.T) {
	engine := &stallingEngine{}
	f := newEngineFixture(t, engine, func(cfg *config.Config) {
		cfg.Supervisor.ReadyTimeout = 3 * time.Second
		cfg.Shutdown.Timeout = time.Second
	})
	errCh := f.run(t)

	f.connectAsync("front")
	require.Eventually(t, func() bool { return engine.waiting.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	f.app.Shutdown("test")
	require.NoError(t, waitRun(t, errCh))

	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, f.exits.calls())
	// no further strategy was tried once the run ended
	assert.Equal(t, int32(1), engine.builds.Load())
	assert.Equal(t, "idle", f.app.supervisor.State().Name)
}

func TestApp_ShutdownBoundCoversStuckMediaEngine(t *testing.T) {
	engine := &stallingEngine{release: make(chan struct{})}
	t.Cleanup(func() { close(engine.release) })

	f := newEngineFixture(t, engine, func(cfg *config.Config) {
		cfg.Supervisor.ReadyTimeout = 3 * time.Second
		cfg.Shutdown.Timeout = 200 * time.Millisecond
	})
	errCh := f.run(t)

	f.connectAsync("front")
	require.Eventually(t, func() bool { return engine.waiting.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	f.app.Shutdown("test")
	assert.ErrorIs(t, waitRun(t, errCh), ErrShutdownTimeout)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []int{1}, f.exits.calls())
}

package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/technosupport/ts-camviewer/internal/api"
	"github.com/technosupport/ts-camviewer/internal/broker"
	"github.com/technosupport/ts-camviewer/internal/config"
	"github.com/technosupport/ts-camviewer/internal/data"
	"github.com/technosupport/ts-camviewer/internal/dispatch"
	"github.com/technosupport/ts-camviewer/internal/events"
	"github.com/technosupport/ts-camviewer/internal/ingest"
	"github.com/technosupport/ts-camviewer/internal/log"
	"github.com/technosupport/ts-camviewer/internal/media"
	"github.com/technosupport/ts-camviewer/internal/persist"
	"github.com/technosupport/ts-camviewer/internal/presentation"
	"github.com/technosupport/ts-camviewer/internal/queue"
	"github.com/technosupport/ts-camviewer/internal/status"
	"github.com/technosupport/ts-camviewer/internal/supervisor"
)

// Options carries what the binary resolved before wiring: config, storage,
// media engine and broker.
type Options struct {
	Config     config.Config
	ConfigPath string // watched for log level changes when set
	Store      data.EventRepository
	Engine     media.Engine
	Broker     broker.Client // nil runs without a broker
	Topics     broker.Topics
	Listener   net.Listener // overrides Config.HTTPAddr
	Exit       func(int)
	Signals    []os.Signal // nil means SIGINT and SIGTERM
}

// App owns every long-lived component of the viewer.
type App struct {
	opts   Options
	logger zerolog.Logger

	notifications *queue.Queue[broker.Message]
	writes        *queue.Queue[events.Record]

	hub        *presentation.Hub
	loop       *presentation.Loop
	ingest     *ingest.Worker
	persist    *persist.Worker
	supervisor *supervisor.Supervisor
	dispatcher *dispatch.Dispatcher
	shutdown   *Shutdown
	server     *http.Server
}

func New(opts Options) *App {
	cfg := opts.Config
	if opts.Signals == nil {
		opts.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	// the write queue is unbounded: the broker has already acknowledged
	// whatever reaches it
	a := &App{
		opts:          opts,
		logger:        log.WithComponent("app"),
		notifications: queue.New[broker.Message](cfg.Ingest.QueueSize),
		writes:        queue.New[events.Record](0),
		hub:           presentation.NewHub(),
	}

	cache := ingest.NewRecentCache(cfg.Ingest.CacheSize)
	remote := ingest.NewRemoteStatus()
	counters := persist.NewCounters()
	publisher := status.NewPublisher(opts.Broker, opts.Topics, cfg.ClientID)

	// the loop needs the supervisor for session info and the supervisor needs
	// the loop for status text, so the loop reads it through a closure
	sessions := sessionFunc(func() (supervisor.SessionInfo, bool) {
		if a.supervisor == nil {
			return supervisor.SessionInfo{}, false
		}
		return a.supervisor.Session()
	})
	a.loop = presentation.NewLoop(presentation.Sources{
		Counters: counters,
		Cache:    cache,
		Remote:   remote,
		Sessions: sessions,
	}, a.hub)

	a.supervisor = supervisor.New(supervisor.Config{
		ReadyTimeout: cfg.Supervisor.ReadyTimeout,
		HealthCheck:  cfg.Supervisor.HealthCheck,
	}, supervisor.Deps{
		Engine:  opts.Engine,
		Cameras: cfg.Cameras,
		Status:  publisher,
		Stats:   publisher,
		UI:      a.loop,
	})

	probe, err := ingest.NewProcessProbe()
	if err != nil {
		a.logger.Warn().Err(err).Msg("process probe unavailable, diagnostics without resource usage")
		probe = nil
	}
	a.ingest = ingest.NewWorker(ingest.Config{
		IdleWait:            cfg.Ingest.IdleWait,
		DiagnosticsInterval: cfg.Ingest.DiagnosticsInterval,
	}, ingest.Deps{
		Notifications: a.notifications,
		Writes:        a.writes,
		Cache:         cache,
		Dedup:         ingest.NewDedup(cfg.Ingest.DedupSize, cfg.Ingest.DedupTTL),
		Remote:        remote,
		UI:            a.loop,
		Status:        publisher,
		Probe:         probe,
	})

	a.persist = persist.NewWorker(persist.Config{
		BatchSize:  cfg.Persist.BatchSize,
		BatchPause: cfg.Persist.BatchPause,
	}, a.writes, opts.Store, counters, a.loop)

	a.dispatcher = dispatch.New(opts.Topics, a.notifications, a.supervisor)

	// ingestion first so its final drain still reaches the write queue; the
	// supervisor waits on the media engine, which may not honour cancellation
	a.shutdown = NewShutdown(cfg.Shutdown.Timeout, opts.Exit,
		Stage{Name: "ingest", Stopper: a.ingest},
		Stage{Name: "persist", Stopper: a.persist},
		Stage{Name: "supervisor", Stopper: StopFunc(a.supervisor.Close)},
	)

	handler := api.NewHandler(api.Deps{
		Cameras:    cfg.Cameras,
		Store:      opts.Store,
		Counters:   counters,
		Recounter:  a.persist,
		Cache:      cache,
		Remote:     remote,
		Supervisor: a.supervisor,
		UI:         a.loop,
		View:       a.loop.View,
		SetFilter:  a.loop.SetFilter,
		Hub:        a.hub,
		MediaRoot:  cfg.MediaRoot,
		Quit:       func() { a.Shutdown("api") },
	})
	a.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a
}

type sessionFunc func() (supervisor.SessionInfo, bool)

func (f sessionFunc) Session() (supervisor.SessionInfo, bool) { return f() }

// Shutdown requests a graceful stop. A second call forces exit.
func (a *App) Shutdown(reason string) {
	a.shutdown.Request(reason)
}

// Dispatcher exposes the broker delivery handler.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Run starts the workers and blocks until a shutdown request, parent context
// cancellation or a fatal component error, then drains and returns.
func (a *App) Run(ctx context.Context) error {
	a.persist.Recount(a.opts.Config.CameraNames())
	a.ingest.Start()
	a.persist.Start()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	// request handlers, connect attempts included, end with the run
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }

	// signals outlive the errgroup so a second one can still force exit
	stopSignals := a.forwardSignals()
	defer stopSignals()

	g.Go(func() error { return a.loop.Run(gctx) })
	g.Go(func() error { return a.dispatcher.Run(gctx) })

	g.Go(func() error {
		a.logger.Info().Str("addr", a.server.Addr).Msg("starting http server")
		var err error
		if a.opts.Listener != nil {
			err = a.server.Serve(a.opts.Listener)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), a.shutdown.timeout)
		defer done()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn().Err(err).Msg("http server shutdown")
		}
		return nil
	})

	if a.opts.Broker != nil {
		g.Go(func() error {
			if err := a.dispatcher.Subscribe(a.opts.Broker); err != nil {
				a.logger.Error().Err(err).Msg("broker subscribe failed")
				return nil
			}
			// the client keeps retrying in the background after a failed first attempt
			if err := a.opts.Broker.Connect(gctx); err != nil {
				a.logger.Warn().Err(err).Msg("broker not reachable yet")
			}
			return nil
		})
	}

	if a.opts.ConfigPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, a.opts.ConfigPath, a.opts.Config.Log.Level, func(level string) {
				if err := log.SetLevel(level); err == nil {
					a.logger.Info().Str("level", level).Msg("log level reloaded")
				}
			})
			if err != nil {
				a.logger.Warn().Err(err).Msg("config watch stopped")
			}
			return nil
		})
	}

	select {
	case reason := <-a.shutdown.Requested():
		a.logger.Info().Str("reason", reason).Msg("shutting down")
	case <-gctx.Done():
		a.logger.Info().Msg("context done, shutting down")
	}

	// cancel first: an in-flight connect must not hold the supervisor stage
	cancel()
	drainErr := a.shutdown.Drain()

	a.hub.Close()
	err := g.Wait()

	if a.opts.Broker != nil {
		a.opts.Broker.Close()
	}

	if err != nil {
		return err
	}
	return drainErr
}

func (a *App) forwardSignals() (stop func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, a.opts.Signals...)
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-quit:
				return
			case sig := <-sigs:
				a.shutdown.Request(sig.String())
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(quit)
		<-done
	}
}

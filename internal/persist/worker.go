package persist

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-camviewer/internal/data"
	"github.com/technosupport/ts-camviewer/internal/events"
	"github.com/technosupport/ts-camviewer/internal/log"
	"github.com/technosupport/ts-camviewer/internal/metrics"
	"github.com/technosupport/ts-camviewer/internal/queue"
)

const (
	insertTimeout = 5 * time.Second
	countWindow   = 24 * time.Hour
)

type Config struct {
	BatchSize  int
	BatchPause time.Duration
}

// CountsRefresher is poked after counters change. It must not block.
type CountsRefresher interface {
	RefreshCounts()
}

// Worker drains the write queue in bounded batches into the event store.
type Worker struct {
	cfg      Config
	writes   *queue.Queue[events.Record]
	store    data.EventRepository
	counters *Counters
	ui       CountsRefresher
	now      func() time.Time
	logger   zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewWorker(cfg Config, writes *queue.Queue[events.Record], store data.EventRepository, counters *Counters, ui CountsRefresher) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = 100 * time.Millisecond
	}
	if counters == nil {
		counters = NewCounters()
	}
	return &Worker{
		cfg:      cfg,
		writes:   writes,
		store:    store,
		counters: counters,
		ui:       ui,
		now:      time.Now,
		logger:   log.WithComponent("persist"),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go w.run()
}

// Stop asks the worker to flush what is queued and exit. It does not wait.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stopChan:
		return true
	default:
		return false
	}
}

func (w *Worker) run() {
	defer close(w.done)
	w.logger.Info().Int("batch_size", w.cfg.BatchSize).Dur("batch_pause", w.cfg.BatchPause).Msg("persistence worker started")

	for {
		batch := w.writes.PopBatch(w.cfg.BatchSize)
		if len(batch) == 0 {
			if w.stopping() {
				w.logger.Info().Msg("persistence worker stopped")
				return
			}
			select {
			case <-w.writes.Ready():
			case <-w.stopChan:
			}
			continue
		}

		w.persist(batch)

		// flush the backlog at full speed once stopping
		if w.stopping() {
			continue
		}
		timer := time.NewTimer(w.cfg.BatchPause)
		select {
		case <-timer.C:
		case <-w.stopChan:
		}
		timer.Stop()
	}
}

func (w *Worker) persist(batch []events.Record) {
	metrics.BatchSize.Observe(float64(len(batch)))
	touched := make(map[string]struct{})

	for _, r := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		id, err := w.store.Insert(ctx, r)
		cancel()
		if err != nil {
			w.logger.Error().Err(err).Str("camera", r.CameraName).Str("timestamp", r.Timestamp).Msg("event insert failed")
			metrics.PersistedTotal.WithLabelValues("error").Inc()
			continue
		}
		metrics.PersistedTotal.WithLabelValues("ok").Inc()
		touched[r.CameraName] = struct{}{}
		w.logger.Debug().Int64("id", id).Str("camera", r.CameraName).Msg("event stored")
	}
	metrics.WriteQueueDepth.Set(float64(w.writes.Len()))

	if len(touched) == 0 {
		return
	}
	cameras := make([]string, 0, len(touched))
	for c := range touched {
		cameras = append(cameras, c)
	}
	w.Recount(cameras)
	if w.ui != nil {
		w.ui.RefreshCounts()
	}
}

// Recount reloads the derived counters for cameras from the store.
func (w *Worker) Recount(cameras []string) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	since := w.now().Add(-countWindow)
	for _, camera := range cameras {
		unviewed, err := w.store.CountUnviewed(ctx, camera)
		if err != nil {
			w.logger.Warn().Err(err).Str("camera", camera).Msg("unviewed count failed")
			continue
		}
		recent, err := w.store.CountSince(ctx, camera, since)
		if err != nil {
			w.logger.Warn().Err(err).Str("camera", camera).Msg("24h count failed")
			continue
		}
		w.counters.Set(Counts{Camera: camera, Unviewed: unviewed, Last24h: recent})
	}
}

func (w *Worker) Counters() *Counters {
	return w.counters
}

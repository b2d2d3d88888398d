package ingest

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-camviewer/internal/broker"
	"github.com/technosupport/ts-camviewer/internal/events"
	"github.com/technosupport/ts-camviewer/internal/log"
	"github.com/technosupport/ts-camviewer/internal/metrics"
	"github.com/technosupport/ts-camviewer/internal/queue"
	"github.com/technosupport/ts-camviewer/internal/status"
)

type Config struct {
	IdleWait            time.Duration
	DiagnosticsInterval time.Duration
}

// Refresher is the part of the presentation layer the worker pokes. Both
// calls must be non-blocking.
type Refresher interface {
	RefreshCounts()
	RefreshEventList(filter string)
}

type Deps struct {
	Notifications *queue.Queue[broker.Message]
	Writes        *queue.Queue[events.Record]
	Cache         *RecentCache
	Dedup         *Dedup
	Remote        *RemoteStatus
	UI            Refresher
	Status        status.Sink
	Probe         ResourceProbe
}

// Worker drains the notification queue on a single goroutine. It validates
// event payloads and hands them to the write queue; it never touches storage.
type Worker struct {
	cfg    Config
	deps   Deps
	now    func() time.Time
	logger zerolog.Logger

	lastReport time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewWorker(cfg Config, deps Deps) *Worker {
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 5 * time.Second
	}
	if cfg.DiagnosticsInterval <= 0 {
		cfg.DiagnosticsInterval = 30 * time.Second
	}
	if deps.Cache == nil {
		deps.Cache = NewRecentCache(0)
	}
	if deps.Remote == nil {
		deps.Remote = NewRemoteStatus()
	}
	return &Worker{
		cfg:      cfg,
		deps:     deps,
		now:      time.Now,
		logger:   log.WithComponent("ingest"),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go w.run()
}

// Stop asks the worker to exit after one final drain. It does not wait; use
// Done for that.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

// Done is closed when the worker goroutine has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run() {
	defer close(w.done)

	w.lastReport = w.now()
	w.logger.Info().Dur("idle_wait", w.cfg.IdleWait).Msg("ingestion worker started")

	for {
		w.drain()
		w.maybeReport()

		select {
		case <-w.stopChan:
			w.drain()
			w.logger.Info().Msg("ingestion worker stopped")
			return
		default:
		}

		timer := time.NewTimer(w.cfg.IdleWait)
		select {
		case <-w.deps.Notifications.Ready():
		case <-w.stopChan:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (w *Worker) drain() {
	msgs := w.deps.Notifications.DrainAll()
	metrics.NotificationQueueDepth.Set(float64(w.deps.Notifications.Len()))

	for _, msg := range msgs {
		switch msg.Route.Tag {
		case broker.TagEvent:
			w.handleEvent(msg)
		case broker.TagStatus:
			w.handleStatus(msg)
		case broker.TagAlert:
			w.handleAlert(msg)
		default:
			w.logger.Debug().Str("topic", msg.Topic).Str("tag", msg.Route.Tag.String()).Msg("ignoring notification")
		}
	}
}

func (w *Worker) handleEvent(msg broker.Message) {
	rec, err := events.Parse(msg.Payload)
	if err != nil {
		w.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("dropping invalid event")
		metrics.IngestDroppedTotal.WithLabelValues(dropReason(err)).Inc()
		return
	}

	if w.deps.Dedup != nil && w.deps.Dedup.IsDuplicate(rec.DedupKey()) {
		w.logger.Debug().Str("camera", rec.CameraName).Str("timestamp", rec.Timestamp).Msg("duplicate delivery skipped")
		metrics.IngestDroppedTotal.WithLabelValues("duplicate").Inc()
		return
	}

	if err := w.deps.Writes.Push(rec); err != nil {
		// not stored, so a redelivery must still get through
		if w.deps.Dedup != nil {
			w.deps.Dedup.Forget(rec.DedupKey())
		}
		w.logger.Error().Err(err).Str("camera", rec.CameraName).Msg("write queue rejected event")
		metrics.IngestDroppedTotal.WithLabelValues("write_queue_full").Inc()
		return
	}
	w.deps.Cache.Add(rec)
	metrics.IngestedTotal.Inc()
	metrics.WriteQueueDepth.Set(float64(w.deps.Writes.Len()))

	w.logger.Debug().Str("camera", rec.CameraName).Str("timestamp", rec.Timestamp).Str("video_path", rec.VideoPath).Msg("event accepted")

	if w.deps.UI != nil {
		w.deps.UI.RefreshEventList("")
	}
}

func (w *Worker) handleStatus(msg broker.Message) {
	text := statusText(msg.Payload)
	w.deps.Remote.Set(msg.Route.Camera, text, msg.ReceivedAt)
	w.logger.Debug().Str("camera", msg.Route.Camera).Str("status", text).Msg("camera status")

	if w.deps.UI != nil {
		w.deps.UI.RefreshCounts()
	}
}

func (w *Worker) handleAlert(msg broker.Message) {
	metrics.AlertsTotal.Inc()
	w.logger.Warn().Str("camera", msg.Route.Camera).Str("alert", truncate(string(msg.Payload), 256)).Msg("camera alert")

	if w.deps.UI != nil {
		w.deps.UI.RefreshEventList(msg.Route.Camera)
	}
}

func (w *Worker) maybeReport() {
	now := w.now()
	if now.Sub(w.lastReport) < w.cfg.DiagnosticsInterval {
		return
	}
	w.lastReport = now

	d := w.Snapshot()
	w.logger.Info().
		Int("notification_depth", d.NotificationDepth).
		Int("write_depth", d.WriteDepth).
		Int("cache_size", d.CacheSize).
		Uint64("rss_bytes", d.Process.RSSBytes).
		Float64("cpu_percent", d.Process.CPUPercent).
		Int32("threads", d.Process.Threads).
		Int("goroutines", d.Process.Goroutines).
		Msg("ingest diagnostics")

	if w.deps.Status != nil {
		w.deps.Status.Publish(d.String())
	}
}

// Snapshot gathers queue depths and process usage.
func (w *Worker) Snapshot() Diagnostics {
	d := Diagnostics{
		NotificationDepth: w.deps.Notifications.Len(),
		WriteDepth:        w.deps.Writes.Len(),
		CacheSize:         w.deps.Cache.Len(),
	}
	if w.deps.Probe != nil {
		ps, err := w.deps.Probe.Sample()
		if err != nil {
			w.logger.Debug().Err(err).Msg("process sample failed")
		}
		d.Process = ps
	}
	return d
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, events.ErrMissingCamera):
		return "missing_camera"
	case errors.Is(err, events.ErrMissingPath):
		return "missing_path"
	case errors.Is(err, events.ErrInvalidTimestamp):
		return "invalid_timestamp"
	default:
		return "malformed"
	}
}

// statusText accepts {"status": "..."} or a bare string.
func statusText(payload []byte) string {
	var m struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &m); err == nil && m.Status != "" {
		return m.Status
	}
	return strings.TrimSpace(string(payload))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package presentation

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-camviewer/internal/events"
	"github.com/technosupport/ts-camviewer/internal/ingest"
	"github.com/technosupport/ts-camviewer/internal/log"
	"github.com/technosupport/ts-camviewer/internal/metrics"
	"github.com/technosupport/ts-camviewer/internal/persist"
	"github.com/technosupport/ts-camviewer/internal/supervisor"
)

const defaultListLimit = 50

// Callbacks is how the workers and the supervisor ask for a redraw. Every
// method returns immediately. An empty filter refreshes the event list under
// whatever filter is current.
type Callbacks interface {
	RefreshCounts()
	RefreshEventList(filter string)
	UpdateConnectionStatus(text string, healthy bool)
}

type ConnectionStatus struct {
	Text      string    `json:"text"`
	Healthy   bool      `json:"healthy"`
	UpdatedAt time.Time `json:"updated_at"`
}

// View is the full picture the UI renders. Only the loop goroutine builds it.
type View struct {
	Counts     []persist.Counts        `json:"counts"`
	Remote     []ingest.CameraStatus   `json:"remote"`
	Events     []events.Record         `json:"events"`
	Filter     string                  `json:"filter"`
	Connection ConnectionStatus        `json:"connection"`
	Session    *supervisor.SessionInfo `json:"session,omitempty"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

type SessionSource interface {
	Session() (supervisor.SessionInfo, bool)
}

type Sources struct {
	Counters *persist.Counters
	Cache    *ingest.RecentCache
	Remote   *ingest.RemoteStatus
	Sessions SessionSource
}

type envelope struct {
	Type string `json:"type"`
	Data View   `json:"data"`
}

// Loop coalesces refresh requests and rebuilds the View on its own goroutine.
type Loop struct {
	src       Sources
	hub       *Hub
	listLimit int
	now       func() time.Time
	logger    zerolog.Logger

	wake          chan struct{}
	countsPending atomic.Bool

	statusMu      sync.Mutex
	status        ConnectionStatus
	statusPending bool

	listMu      sync.Mutex
	listPending bool
	listSet     bool
	listFilter  string

	viewMu sync.RWMutex
	view   View
}

func NewLoop(src Sources, hub *Hub) *Loop {
	if src.Counters == nil {
		src.Counters = persist.NewCounters()
	}
	if src.Cache == nil {
		src.Cache = ingest.NewRecentCache(0)
	}
	if src.Remote == nil {
		src.Remote = ingest.NewRemoteStatus()
	}
	return &Loop{
		src:       src,
		hub:       hub,
		listLimit: defaultListLimit,
		now:       time.Now,
		logger:    log.WithComponent("presentation"),
		wake:      make(chan struct{}, 1),
	}
}

func (l *Loop) RefreshCounts() {
	l.countsPending.Store(true)
	l.signal()
}

func (l *Loop) RefreshEventList(filter string) {
	l.requestList(filter, filter != "")
}

// SetFilter changes the event list filter; an empty camera shows all cameras.
func (l *Loop) SetFilter(camera string) {
	l.requestList(camera, true)
}

// requestList merges into the pending request: the newest explicit filter
// wins and a plain refresh never clears one.
func (l *Loop) requestList(filter string, set bool) {
	l.listMu.Lock()
	if l.listPending {
		metrics.PresentationCoalescedTotal.Inc()
	}
	l.listPending = true
	if set {
		l.listSet = true
		l.listFilter = filter
	}
	l.listMu.Unlock()
	l.signal()
}

func (l *Loop) UpdateConnectionStatus(text string, healthy bool) {
	l.statusMu.Lock()
	l.status = ConnectionStatus{Text: text, Healthy: healthy, UpdatedAt: l.now()}
	l.statusPending = true
	l.statusMu.Unlock()
	l.signal()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// View returns the last published snapshot.
func (l *Loop) View() View {
	l.viewMu.RLock()
	defer l.viewMu.RUnlock()
	return l.view
}

// Run processes requests until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().Msg("presentation loop started")
	view := View{
		Counts: l.src.Counters.Snapshot(),
		Remote: l.src.Remote.Snapshot(),
		Events: l.src.Cache.Snapshot("", l.listLimit),
	}
	l.publish(view)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("presentation loop stopped")
			return nil

		case <-l.wake:
			changed := false
			if l.countsPending.Swap(false) {
				view.Counts = l.src.Counters.Snapshot()
				view.Remote = l.src.Remote.Snapshot()
				changed = true
			}
			l.listMu.Lock()
			if l.listPending {
				if l.listSet {
					view.Filter = l.listFilter
				}
				view.Events = l.src.Cache.Snapshot(view.Filter, l.listLimit)
				l.listPending, l.listSet = false, false
				changed = true
			}
			l.listMu.Unlock()
			l.statusMu.Lock()
			if l.statusPending {
				view.Connection = l.status
				l.statusPending = false
				changed = true
			}
			l.statusMu.Unlock()
			if changed {
				l.publish(view)
			}
		}
	}
}

func (l *Loop) publish(v View) {
	v.Session = nil
	if l.src.Sessions != nil {
		if info, ok := l.src.Sessions.Session(); ok {
			v.Session = &info
		}
	}
	v.UpdatedAt = l.now()

	l.viewMu.Lock()
	l.view = v
	l.viewMu.Unlock()

	if l.hub == nil {
		return
	}
	payload, err := json.Marshal(envelope{Type: "view", Data: v})
	if err != nil {
		l.logger.Error().Err(err).Msg("view marshal failed")
		return
	}
	l.hub.Broadcast(payload)
}

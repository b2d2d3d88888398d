package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-camviewer/internal/config"
	"github.com/technosupport/ts-camviewer/internal/log"
	"github.com/technosupport/ts-camviewer/internal/media"
	"github.com/technosupport/ts-camviewer/internal/metrics"
	"github.com/technosupport/ts-camviewer/internal/status"
)

var (
	ErrUnknownCamera       = errors.New("unknown camera")
	ErrAllStrategiesFailed = errors.New("all connection strategies failed")
	ErrReadyTimeout        = errors.New("pipeline did not become ready in time")
	ErrVerificationFailed  = errors.New("stream failed during health check")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTrying
	PhaseVerifying
	PhaseLive
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseTrying:
		return "trying"
	case PhaseVerifying:
		return "verifying"
	case PhaseLive:
		return "live"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// State is a snapshot of the supervisor. Attempt is the zero-based strategy
// index and only meaningful while trying or verifying.
type State struct {
	Phase    Phase  `json:"-"`
	Name     string `json:"phase"`
	Camera   string `json:"camera,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Attempt  int    `json:"attempt"`
}

// StatusView receives connection status lines. It must not block.
type StatusView interface {
	UpdateConnectionStatus(text string, healthy bool)
}

// StatsSink receives a stats sample whenever a session goes live.
type StatsSink interface {
	PublishStats(camera string, s status.Stats)
}

type Config struct {
	ReadyTimeout time.Duration
	HealthCheck  time.Duration
}

type Deps struct {
	Engine  media.Engine
	Cameras []config.Camera
	Status  status.Sink
	Stats   StatsSink
	UI      StatusView
}

// Supervisor drives the connect ladder for one camera at a time. Connect and
// Disconnect are serialized; they run on the caller's goroutine.
type Supervisor struct {
	cfg     Config
	engine  media.Engine
	cameras map[string]config.Camera
	sink    status.Sink
	stats   StatsSink
	ui      StatusView
	now     func() time.Time
	logger  zerolog.Logger

	mu      sync.Mutex
	session *Session

	// guarded separately so readers never wait behind a running Connect
	stateMu sync.RWMutex
	state   State
	live    *SessionInfo
}

func New(cfg Config, deps Deps) *Supervisor {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.HealthCheck <= 0 {
		cfg.HealthCheck = 5 * time.Second
	}
	engine := deps.Engine
	if engine == nil {
		engine = media.NullEngine{}
	}
	cams := make(map[string]config.Camera, len(deps.Cameras))
	for _, c := range deps.Cameras {
		cams[c.Name] = c
	}
	s := &Supervisor{
		cfg:     cfg,
		engine:  engine,
		cameras: cams,
		sink:    deps.Status,
		stats:   deps.Stats,
		ui:      deps.UI,
		now:     time.Now,
		logger:  log.WithComponent("supervisor"),
	}
	s.state = State{Phase: PhaseIdle, Name: PhaseIdle.String()}
	metrics.SessionState.Set(float64(PhaseIdle))
	return s
}

func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Session returns the live session, if any.
func (s *Supervisor) Session() (SessionInfo, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.live == nil {
		return SessionInfo{}, false
	}
	return *s.live, true
}

func (s *Supervisor) setSessionLocked(sess *Session) {
	s.session = sess
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if sess == nil {
		s.live = nil
		return
	}
	info := sess.info()
	s.live = &info
}

// Connect tears down any current session and walks the camera's strategies
// in order until one stays healthy through the health check.
func (s *Supervisor) Connect(ctx context.Context, name string) error {
	cam, ok := s.cameras[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCamera, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. Tear down whatever is running
	s.teardownLocked("switching camera")

	// 2. Walk the ladder
	var lastErr error
	for i, strat := range cam.Strategies {
		if err := ctx.Err(); err != nil {
			return s.cancelled(cam, err)
		}

		s.transition(State{Phase: PhaseTrying, Camera: cam.Name, Strategy: strat.Name, Attempt: i},
			fmt.Sprintf("connecting to %s (%s, %d/%d)", cam.Name, strat.Name, i+1, len(cam.Strategies)), false)

		p, err := s.attempt(ctx, cam, strat, i)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				metrics.ConnectAttemptsTotal.WithLabelValues(strat.Name, "cancelled").Inc()
				return s.cancelled(cam, ctxErr)
			}
			metrics.ConnectAttemptsTotal.WithLabelValues(strat.Name, outcome(err)).Inc()
			s.logger.Warn().Err(err).Str("camera", cam.Name).Str("strategy", strat.Name).Int("attempt", i+1).Msg("strategy failed")
			lastErr = err
			continue
		}

		// 3. Healthy: the session owns the pipeline from here on
		metrics.ConnectAttemptsTotal.WithLabelValues(strat.Name, "live").Inc()
		sess := newSession(cam, strat, p, i+1, s.now())
		s.setSessionLocked(sess)
		go s.monitor(sess)

		s.transition(State{Phase: PhaseLive, Camera: cam.Name, Strategy: strat.Name, Attempt: i},
			fmt.Sprintf("live: %s via %s", cam.Name, strat.Name), true)
		s.logger.Info().Str("camera", cam.Name).Str("strategy", strat.Name).Str("session_id", sess.id).Msg("session live")
		if s.stats != nil {
			s.stats.PublishStats(cam.Name, status.Stats{Strategy: strat.Name, SessionID: sess.id})
		}
		return nil
	}

	// 4. Exhausted
	s.transition(State{Phase: PhaseFailed, Camera: cam.Name}, fmt.Sprintf("connection failed for camera %s", cam.Name), false)
	s.logger.Error().AnErr("last_error", lastErr).Str("camera", cam.Name).Int("strategies", len(cam.Strategies)).Msg("connection failed")
	return fmt.Errorf("connection failed for camera %s: %w", cam.Name, ErrAllStrategiesFailed)
}

// attempt builds one pipeline and takes it through readiness and the health
// check. On any failure the pipeline is released before returning.
func (s *Supervisor) attempt(ctx context.Context, cam config.Camera, strat config.Strategy, i int) (media.Pipeline, error) {
	desc, err := strat.Render(cam.Endpoint)
	if err != nil {
		return nil, err
	}

	p, err := s.engine.Build(desc)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	err = p.SetState(readyCtx, media.StateReady)
	cancel()
	if err != nil {
		s.release(p)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrReadyTimeout, s.cfg.ReadyTimeout)
		}
		return nil, fmt.Errorf("ready: %w", err)
	}

	s.transition(State{Phase: PhaseVerifying, Camera: cam.Name, Strategy: strat.Name, Attempt: i},
		fmt.Sprintf("verifying %s via %s", cam.Name, strat.Name), false)

	if err := p.SetState(ctx, media.StatePlaying); err != nil {
		s.release(p)
		return nil, fmt.Errorf("play: %w", err)
	}

	timer := time.NewTimer(s.cfg.HealthCheck)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-p.Events():
			if !ok {
				s.release(p)
				return nil, fmt.Errorf("%w: event stream closed", ErrVerificationFailed)
			}
			if !ev.Terminal() {
				s.logger.Debug().Str("kind", ev.Kind.String()).Str("message", ev.Message).Msg("pipeline event")
				continue
			}
			s.release(p)
			return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, ev.Message)
		case <-timer.C:
			return p, nil
		case <-ctx.Done():
			s.release(p)
			return nil, ctx.Err()
		}
	}
}

// Disconnect stops the live session. It is a no-op when nothing is running.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	name := s.session.camera.Name
	s.teardownLocked("disconnect")
	s.transition(State{Phase: PhaseIdle}, fmt.Sprintf("disconnected from %s", name), false)
	return nil
}

// Close releases any live session; used on shutdown.
func (s *Supervisor) Close() {
	_ = s.Disconnect()
}

// monitor watches a live session until it is torn down or the stream dies.
func (s *Supervisor) monitor(sess *Session) {
	for {
		select {
		case <-sess.stop:
			return
		case ev, ok := <-sess.pipeline.Events():
			if ok && !ev.Terminal() {
				s.logger.Debug().Str("kind", ev.Kind.String()).Str("message", ev.Message).Msg("pipeline event")
				continue
			}
			reason := "event stream closed"
			if ok {
				reason = ev.Message
			}
			s.lost(sess, reason)
			return
		}
	}
}

func (s *Supervisor) lost(sess *Session, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// a Connect or Disconnect may have replaced the session while we waited
	if s.session == nil || s.session.id != sess.id {
		return
	}
	s.teardownLocked("stream lost")
	s.logger.Error().Str("camera", sess.camera.Name).Str("session_id", sess.id).Str("reason", reason).Msg("live stream lost")
	s.transition(State{Phase: PhaseFailed, Camera: sess.camera.Name}, fmt.Sprintf("stream lost for camera %s", sess.camera.Name), false)
}

func (s *Supervisor) teardownLocked(reason string) {
	sess := s.session
	if sess == nil {
		return
	}
	s.setSessionLocked(nil)
	close(sess.stop)
	s.release(sess.pipeline)
	s.logger.Info().
		Str("camera", sess.camera.Name).
		Str("session_id", sess.id).
		Dur("uptime", s.now().Sub(sess.startedAt)).
		Str("reason", reason).
		Msg("session closed")
}

func (s *Supervisor) cancelled(cam config.Camera, err error) error {
	s.transition(State{Phase: PhaseIdle}, fmt.Sprintf("connection to %s cancelled", cam.Name), false)
	return fmt.Errorf("connect %s: %w", cam.Name, err)
}

func (s *Supervisor) release(p media.Pipeline) {
	if err := p.Release(); err != nil {
		s.logger.Warn().Err(err).Msg("pipeline release failed")
	}
}

func (s *Supervisor) transition(st State, text string, healthy bool) {
	st.Name = st.Phase.String()
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()

	metrics.SessionState.Set(float64(st.Phase))
	if s.sink != nil {
		s.sink.Publish(text)
	}
	if s.ui != nil {
		s.ui.UpdateConnectionStatus(text, healthy)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrReadyTimeout):
		return "ready_timeout"
	case errors.Is(err, ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, media.ErrEngineUnavailable):
		return "engine_unavailable"
	default:
		return "error"
	}
}

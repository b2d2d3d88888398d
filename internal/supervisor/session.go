package supervisor

import (
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-camviewer/internal/config"
	"github.com/technosupport/ts-camviewer/internal/media"
)

// Session owns the single live pipeline. Only the supervisor touches it.
type Session struct {
	id        string
	camera    config.Camera
	strategy  config.Strategy
	pipeline  media.Pipeline
	startedAt time.Time
	attempts  int

	stop chan struct{}
}

func newSession(cam config.Camera, strat config.Strategy, p media.Pipeline, attempts int, now time.Time) *Session {
	return &Session{
		id:        uuid.New().String(),
		camera:    cam,
		strategy:  strat,
		pipeline:  p,
		startedAt: now,
		attempts:  attempts,
		stop:      make(chan struct{}),
	}
}

// SessionInfo is the read-only view of a Session handed to other components.
type SessionInfo struct {
	ID        string    `json:"id"`
	Camera    string    `json:"camera"`
	Strategy  string    `json:"strategy"`
	Transport string    `json:"transport"`
	StartedAt time.Time `json:"started_at"`
	Attempts  int       `json:"attempts"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:        s.id,
		Camera:    s.camera.Name,
		Strategy:  s.strategy.Name,
		Transport: s.strategy.Transport,
		StartedAt: s.startedAt,
		Attempts:  s.attempts,
	}
}

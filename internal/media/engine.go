package media

import (
	"context"
	"errors"
)

var ErrEngineUnavailable = errors.New("media engine unavailable")

type State int

const (
	StateNull State = iota
	// StateReady means the source was reached and formats were negotiated
	// but no frames are being rendered yet.
	StateReady
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	default:
		return "null"
	}
}

type EventKind int

const (
	EventInfo EventKind = iota
	EventWarning
	EventError
	EventEOS
)

func (k EventKind) String() string {
	switch k {
	case EventWarning:
		return "warning"
	case EventError:
		return "error"
	case EventEOS:
		return "eos"
	default:
		return "info"
	}
}

// Event is an asynchronous notification from a running pipeline.
type Event struct {
	Kind    EventKind
	Message string
}

// Terminal reports whether the pipeline can no longer render after e.
func (e Event) Terminal() bool {
	return e.Kind == EventError || e.Kind == EventEOS
}

// Pipeline is one built media graph. Release must be safe to call more than
// once.
type Pipeline interface {
	SetState(ctx context.Context, s State) error
	Events() <-chan Event
	Release() error
}

// Engine turns a rendered pipeline description into a Pipeline.
type Engine interface {
	Build(desc string) (Pipeline, error)
}

// NullEngine is used when the binary was built without a media backend.
type NullEngine struct{}

func (NullEngine) Build(string) (Pipeline, error) {
	return nil, ErrEngineUnavailable
}

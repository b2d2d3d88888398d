//go:build gst

// Package gst runs pipeline descriptions on GStreamer.
package gst

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"

	"github.com/technosupport/ts-camviewer/internal/log"
	"github.com/technosupport/ts-camviewer/internal/media"
)

const busPoll = 50 * time.Millisecond

var initOnce sync.Once

type Engine struct {
	logger zerolog.Logger
}

func NewEngine() *Engine {
	initOnce.Do(func() { gst.Init(nil) })
	return &Engine{logger: log.WithComponent("gst")}
}

func (e *Engine) Build(desc string) (media.Pipeline, error) {
	p, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}

	pl := &pipeline{
		p:       p,
		logger:  e.logger,
		events:  make(chan media.Event, 16),
		states:  make(chan gst.State, 4),
		failed:  make(chan error, 1),
		stopBus: make(chan struct{}),
		busDone: make(chan struct{}),
	}
	go pl.watchBus()
	return pl, nil
}

type pipeline struct {
	p      *gst.Pipeline
	logger zerolog.Logger

	events chan media.Event
	states chan gst.State
	failed chan error

	stopBus     chan struct{}
	busDone     chan struct{}
	releaseOnce sync.Once
}

func (pl *pipeline) Events() <-chan media.Event {
	return pl.events
}

func (pl *pipeline) SetState(ctx context.Context, s media.State) error {
	switch s {
	case media.StateReady:
		// PAUSED forces caps negotiation with the source without rendering
		if err := pl.p.SetState(gst.StatePaused); err != nil {
			return fmt.Errorf("pause: %w", err)
		}
		for {
			select {
			case st := <-pl.states:
				if st == gst.StatePaused || st == gst.StatePlaying {
					return nil
				}
			case err := <-pl.failed:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	case media.StatePlaying:
		if err := pl.p.SetState(gst.StatePlaying); err != nil {
			return fmt.Errorf("play: %w", err)
		}
		return nil
	default:
		return pl.p.SetState(gst.StateNull)
	}
}

func (pl *pipeline) Release() error {
	var err error
	pl.releaseOnce.Do(func() {
		close(pl.stopBus)
		<-pl.busDone
		err = pl.p.SetState(gst.StateNull)
	})
	return err
}

func (pl *pipeline) watchBus() {
	defer close(pl.busDone)
	bus := pl.p.GetPipelineBus()

	for {
		select {
		case <-pl.stopBus:
			return
		default:
		}

		msg := bus.TimedPop(busPoll)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			pl.logger.Error().Str("error", gerr.Error()).Str("debug", gerr.DebugString()).Msg("pipeline error")
			pl.fail(errors.New(gerr.Error()))
			pl.emit(media.Event{Kind: media.EventError, Message: gerr.Error()})
		case gst.MessageEOS:
			pl.fail(errors.New("end of stream"))
			pl.emit(media.Event{Kind: media.EventEOS, Message: "end of stream"})
		case gst.MessageWarning:
			gerr := msg.ParseWarning()
			pl.emit(media.Event{Kind: media.EventWarning, Message: gerr.Error()})
		case gst.MessageStateChanged:
			if msg.Source() != pl.p.GetName() {
				continue
			}
			_, next := msg.ParseStateChanged()
			pl.logger.Debug().Str("state", next.String()).Msg("pipeline state changed")
			select {
			case pl.states <- next:
			default:
			}
		}
	}
}

func (pl *pipeline) fail(err error) {
	select {
	case pl.failed <- err:
	default:
	}
}

func (pl *pipeline) emit(ev media.Event) {
	select {
	case pl.events <- ev:
	default:
		pl.logger.Warn().Str("kind", ev.Kind.String()).Msg("pipeline event dropped")
	}
}

package app

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-camviewer/internal/log"
)

var ErrShutdownTimeout = errors.New("shutdown timed out")

// Stopper is a worker that can be asked to stop and reports when it has.
type Stopper interface {
	Stop()
	Done() <-chan struct{}
}

// StopFunc adapts a blocking close call into a Stopper so it runs under the
// shutdown bound.
func StopFunc(fn func()) Stopper {
	return &funcStopper{fn: fn, done: make(chan struct{})}
}

type funcStopper struct {
	fn   func()
	once sync.Once
	done chan struct{}
}

func (f *funcStopper) Stop() {
	f.once.Do(func() {
		go func() {
			defer close(f.done)
			f.fn()
		}()
	})
}

func (f *funcStopper) Done() <-chan struct{} { return f.done }

// Stage is one worker in the shutdown order.
type Stage struct {
	Name    string
	Stopper Stopper
}

// Shutdown joins workers in order within one overall bound. Any number of
// sources may request it; the second request forces the process out.
type Shutdown struct {
	timeout time.Duration
	stages  []Stage
	exit    func(int)
	logger  zerolog.Logger

	requested atomic.Bool
	requests  chan string
}

// NewShutdown stops stages in the order given. exit defaults to os.Exit.
func NewShutdown(timeout time.Duration, exit func(int), stages ...Stage) *Shutdown {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if exit == nil {
		exit = os.Exit
	}
	return &Shutdown{
		timeout:  timeout,
		stages:   stages,
		exit:     exit,
		logger:   log.WithComponent("shutdown"),
		requests: make(chan string, 1),
	}
}

// Request never blocks.
func (s *Shutdown) Request(reason string) {
	if !s.requested.CompareAndSwap(false, true) {
		s.logger.Warn().Str("reason", reason).Msg("shutdown already in progress, forcing exit")
		s.exit(1)
		return
	}
	s.logger.Info().Str("reason", reason).Msg("shutdown requested")
	s.requests <- reason
}

// Requested delivers the reason of the first request.
func (s *Shutdown) Requested() <-chan string {
	return s.requests
}

// Drain stops every stage and waits for it before moving to the next. If the
// bound runs out the process exits with status 1.
func (s *Shutdown) Drain() error {
	s.requested.Store(true)
	start := time.Now()
	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	for _, st := range s.stages {
		st.Stopper.Stop()
		select {
		case <-st.Stopper.Done():
			s.logger.Debug().Str("stage", st.Name).Dur("elapsed", time.Since(start)).Msg("stage stopped")
		case <-deadline.C:
			s.logger.Error().Str("stage", st.Name).Dur("timeout", s.timeout).Msg("workers did not stop in time, forcing exit")
			s.exit(1)
			return ErrShutdownTimeout
		}
	}
	s.logger.Info().Dur("elapsed", time.Since(start)).Msg("workers stopped")
	return nil
}

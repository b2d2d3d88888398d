package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-camviewer/internal/broker"
	"github.com/technosupport/ts-camviewer/internal/log"
	"github.com/technosupport/ts-camviewer/internal/metrics"
	"github.com/technosupport/ts-camviewer/internal/queue"
)

var ErrUnknownCommand = errors.New("unknown control command")

const commandBuffer = 10

type CommandKind int

const (
	CommandConnect CommandKind = iota + 1
	CommandDisconnect
)

func (k CommandKind) String() string {
	switch k {
	case CommandConnect:
		return "connect"
	case CommandDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

type Command struct {
	Kind       CommandKind
	Camera     string
	ReceivedAt time.Time
}

// ParseCommand accepts the literal words connect and disconnect, ignoring
// case and surrounding whitespace.
func ParseCommand(payload []byte) (CommandKind, error) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "connect":
		return CommandConnect, nil
	case "disconnect":
		return CommandDisconnect, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, truncate(string(payload), 64))
	}
}

// Controller is the supervisor surface remote commands drive.
type Controller interface {
	Connect(ctx context.Context, camera string) error
	Disconnect() error
}

// Dispatcher routes broker deliveries. Handle runs on the broker's delivery
// goroutine and never blocks.
type Dispatcher struct {
	topics        broker.Topics
	notifications *queue.Queue[broker.Message]
	commands      chan Command
	ctl           Controller
	now           func() time.Time
	logger        zerolog.Logger
}

func New(topics broker.Topics, notifications *queue.Queue[broker.Message], ctl Controller) *Dispatcher {
	return &Dispatcher{
		topics:        topics,
		notifications: notifications,
		commands:      make(chan Command, commandBuffer),
		ctl:           ctl,
		now:           time.Now,
		logger:        log.WithComponent("dispatch"),
	}
}

// Subscribe registers Handle for every inbound topic pattern.
func (d *Dispatcher) Subscribe(client broker.Client) error {
	for _, pattern := range d.topics.Subscriptions() {
		if err := client.Subscribe(pattern, d.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", pattern, err)
		}
		d.logger.Info().Str("pattern", pattern).Msg("subscribed")
	}
	return nil
}

func (d *Dispatcher) Handle(topic string, payload []byte) {
	route := d.topics.Parse(topic)

	switch route.Tag {
	case broker.TagStatus, broker.TagAlert, broker.TagEvent:
		msg := broker.Message{Route: route, Topic: topic, Payload: payload, ReceivedAt: d.now()}
		if err := d.notifications.Push(msg); err != nil {
			d.logger.Warn().Err(err).Str("topic", topic).Int("depth", d.notifications.Len()).Msg("notification rejected")
			metrics.NotificationsTotal.WithLabelValues(route.Tag.String(), "rejected_full").Inc()
			return
		}
		metrics.NotificationsTotal.WithLabelValues(route.Tag.String(), "queued").Inc()
		metrics.NotificationQueueDepth.Set(float64(d.notifications.Len()))

	case broker.TagControl:
		kind, err := ParseCommand(payload)
		if err != nil {
			d.logger.Warn().Err(err).Str("topic", topic).Msg("ignoring control message")
			metrics.NotificationsTotal.WithLabelValues(route.Tag.String(), "invalid").Inc()
			return
		}
		d.Enqueue(Command{Kind: kind, Camera: route.Camera, ReceivedAt: d.now()})

	default:
		d.logger.Debug().Str("topic", topic).Msg("unrouted message")
	}
}

// Enqueue hands cmd to the control loop without blocking. It reports whether
// the command was accepted.
func (d *Dispatcher) Enqueue(cmd Command) bool {
	select {
	case d.commands <- cmd:
		metrics.NotificationsTotal.WithLabelValues(broker.TagControl.String(), "queued").Inc()
		return true
	default:
		d.logger.Warn().Str("command", cmd.Kind.String()).Str("camera", cmd.Camera).Msg("command queue full, dropping command")
		metrics.NotificationsTotal.WithLabelValues(broker.TagControl.String(), "rejected_full").Inc()
		return false
	}
}

// Run executes queued commands one at a time until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Msg("control loop started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("control loop stopped")
			return nil
		case cmd := <-d.commands:
			d.execute(ctx, cmd)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command) {
	logger := d.logger.With().Str("command", cmd.Kind.String()).Str("camera", cmd.Camera).Logger()
	logger.Info().Msg("control command received")

	var err error
	switch cmd.Kind {
	case CommandConnect:
		err = d.ctl.Connect(ctx, cmd.Camera)
	case CommandDisconnect:
		err = d.ctl.Disconnect()
	}
	if err != nil {
		logger.Error().Err(err).Msg("control command failed")
		return
	}
	logger.Info().Dur("took", d.now().Sub(cmd.ReceivedAt)).Msg("control command done")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

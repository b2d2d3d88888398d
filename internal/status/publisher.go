package status

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/technosupport/ts-camviewer/internal/broker"
	"github.com/technosupport/ts-camviewer/internal/log"
	"github.com/technosupport/ts-camviewer/internal/metrics"
)

// Sink is the narrow surface the supervisor and ingestion worker report to.
type Sink interface {
	Publish(msg string)
}

type Message struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Stats is a session stats sample published per camera.
type Stats struct {
	Strategy  string `json:"strategy"`
	SessionID string `json:"session_id"`
	UptimeSec int64  `json:"uptime_sec"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher reports process state on the broker. It never returns errors:
// failures are logged and swallowed.
type Publisher struct {
	client broker.Client
	topics broker.Topics
	topic  string
	now    func() time.Time
	logger zerolog.Logger
}

func NewPublisher(client broker.Client, topics broker.Topics, clientID string) *Publisher {
	return &Publisher{
		client: client,
		topics: topics,
		topic:  topics.ProcessStatus(clientID),
		now:    time.Now,
		logger: log.WithComponent("status"),
	}
}

// Publish sends msg at QoS 1 if the broker is connected, and is a no-op
// otherwise.
func (p *Publisher) Publish(msg string) {
	p.send(p.topic, Message{Status: msg, Timestamp: p.now().Unix()})
}

// PublishStats sends a stats sample for camera on the same terms as Publish.
func (p *Publisher) PublishStats(camera string, s Stats) {
	s.Timestamp = p.now().Unix()
	p.send(p.topics.Stats(camera), s)
}

func (p *Publisher) send(topic string, v any) {
	if p == nil || p.client == nil || !p.client.IsConnected() {
		metrics.StatusPublishTotal.WithLabelValues("skipped").Inc()
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("status marshal failed")
		metrics.StatusPublishTotal.WithLabelValues("error").Inc()
		return
	}
	if err := p.client.Publish(topic, 1, payload); err != nil {
		p.logger.Warn().Err(err).Str("topic", topic).Msg("status publish failed")
		metrics.StatusPublishTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.StatusPublishTotal.WithLabelValues("sent").Inc()
}

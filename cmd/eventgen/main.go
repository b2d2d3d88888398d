// Command eventgen publishes synthetic camera events, and optionally control
// commands, for exercising a running viewer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-camviewer/internal/broker"
	"github.com/technosupport/ts-camviewer/internal/events"
	"github.com/technosupport/ts-camviewer/internal/log"
)

type syntheticEvent struct {
	events.Record
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

var malformed = [][]byte{
	[]byte(`{"camera_name":`),
	[]byte(`{"camera_name":"","timestamp":"2024-01-01 00:00:00","video_path":"/x.mp4"}`),
	[]byte(`{"camera_name":"cam","timestamp":"yesterday","video_path":"/x.mp4"}`),
	[]byte(`not json at all`),
}

func main() {
	kind := flag.String("kind", "mqtt", "Broker kind: mqtt or nats")
	url := flag.String("broker", "tcp://localhost:1883", "Broker URL")
	prefix := flag.String("prefix", "rtsp_client", "Topic prefix for control commands")
	camera := flag.String("camera", "front", "Camera name")
	count := flag.Int("n", 10, "Number of events to publish")
	interval := flag.Duration("interval", 200*time.Millisecond, "Delay between events")
	withMalformed := flag.Bool("malformed", false, "Interleave malformed payloads")
	control := flag.String("control", "", "Send a control command (connect|disconnect) instead of events")
	flag.Parse()

	log.Configure(log.Config{Pretty: true, Service: "camviewer-eventgen"})
	logger := log.WithComponent("eventgen")

	client, topics, err := broker.New(broker.Config{
		Kind:     *kind,
		URL:      *url,
		ClientID: "eventgen-" + uuid.NewString()[:8],
		Prefix:   *prefix,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid broker config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Str("broker", *url).Msg("connect failed")
	}
	defer client.Close()

	if *control != "" {
		topic := topics.Control(*camera)
		if err := client.Publish(topic, 1, []byte(*control)); err != nil {
			logger.Fatal().Err(err).Str("topic", topic).Msg("publish control failed")
		}
		logger.Info().Str("topic", topic).Str("command", *control).Msg("control command sent")
		return
	}

	topic := topics.CameraEvents(*camera)
	kinds := []string{"motion", "person", "vehicle"}
	sent, bad := 0, 0
	for i := 0; i < *count; i++ {
		ev := syntheticEvent{
			Record: events.Record{
				CameraName: *camera,
				Timestamp:  events.FormatTimestamp(time.Now()),
				VideoPath:  fmt.Sprintf("clips/%s/%s.mp4", *camera, uuid.NewString()),
			},
			Type:       kinds[rand.Intn(len(kinds))],
			Confidence: 0.5 + rand.Float64()/2,
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			logger.Fatal().Err(err).Msg("marshal event")
		}
		if err := client.Publish(topic, 1, payload); err != nil {
			logger.Error().Err(err).Int("seq", i).Msg("publish failed")
		} else {
			sent++
		}

		if *withMalformed && i%3 == 0 {
			if err := client.Publish(topic, 1, malformed[bad%len(malformed)]); err == nil {
				bad++
			}
		}
		time.Sleep(*interval)
	}
	logger.Info().Str("topic", topic).Int("events", sent).Int("malformed", bad).Msg("done")
}

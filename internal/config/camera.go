package config

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

const TestPatternName = "test-pattern"

// Camera is a static camera descriptor. It is never modified after Load.
type Camera struct {
	Name       string     `yaml:"name" json:"name"`
	Endpoint   string     `yaml:"endpoint" json:"endpoint"`
	Strategies []Strategy `yaml:"strategies" json:"strategies"`
}

// Strategy is one connection attempt recipe. Template is opaque to the
// supervisor; it is rendered with the camera endpoint and handed to the media
// engine as a pipeline description.
type Strategy struct {
	Name      string        `yaml:"name" json:"name"`
	Transport string        `yaml:"transport" json:"transport"`
	Latency   time.Duration `yaml:"latency" json:"latency"`
	Template  string        `yaml:"template" json:"-"`
}

type templateData struct {
	Endpoint  string
	LatencyMS int64
}

// Render expands the strategy template for endpoint.
func (s Strategy) Render(endpoint string) (string, error) {
	tmpl, err := template.New(s.Name).Option("missingkey=error").Parse(s.Template)
	if err != nil {
		return "", fmt.Errorf("strategy %q: bad template: %w", s.Name, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, templateData{Endpoint: endpoint, LatencyMS: s.Latency.Milliseconds()}); err != nil {
		return "", fmt.Errorf("strategy %q: render: %w", s.Name, err)
	}
	desc := strings.TrimSpace(b.String())
	if desc == "" {
		return "", fmt.Errorf("strategy %q: empty pipeline", s.Name)
	}
	return desc, nil
}

const (
	rtspDecodeTail = " ! rtph264depay ! h264parse ! avdec_h264 ! videoconvert ! autovideosink sync=false"
	autoTemplate   = "uridecodebin uri={{.Endpoint}} ! videoconvert ! autovideosink sync=false"
)

// DefaultStrategies is the ladder used when a camera lists none: reliable TCP
// first, then low-latency UDP, then a fully auto-negotiated decode chain.
// The order is part of the connect policy.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name:      "tcp",
			Transport: "tcp",
			Latency:   200 * time.Millisecond,
			Template:  "rtspsrc location={{.Endpoint}} protocols=tcp latency={{.LatencyMS}}" + rtspDecodeTail,
		},
		{
			Name:      "udp",
			Transport: "udp",
			Latency:   0,
			Template:  "rtspsrc location={{.Endpoint}} protocols=udp latency={{.LatencyMS}}" + rtspDecodeTail,
		},
		{
			Name:      "auto",
			Transport: "auto",
			Template:  autoTemplate,
		},
	}
}

// TestPatternCamera is a synthetic SMPTE source for checking the display path
// without any network camera.
func TestPatternCamera() Camera {
	return Camera{
		Name:     TestPatternName,
		Endpoint: "videotestsrc://smpte",
		Strategies: []Strategy{{
			Name:      "pattern",
			Transport: "local",
			Template:  "videotestsrc pattern=smpte ! video/x-raw,width=320,height=240,framerate=30/1 ! videoconvert ! autovideosink sync=false",
		}},
	}
}

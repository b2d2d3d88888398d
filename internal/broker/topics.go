package broker

import (
	"strings"
	"time"
)

// Tag is the closed set of inbound message kinds.
type Tag int

const (
	TagUnknown Tag = iota
	TagStatus
	TagAlert
	TagEvent
	TagControl
)

func (t Tag) String() string {
	switch t {
	case TagStatus:
		return "status"
	case TagAlert:
		return "alert"
	case TagEvent:
		return "event"
	case TagControl:
		return "control"
	default:
		return "unknown"
	}
}

// Route is a topic parsed once at the broker boundary.
type Route struct {
	Tag    Tag
	Camera string
}

// Message is an inbound delivery after routing.
type Message struct {
	Route      Route
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Topics builds and parses the topic layout for one broker flavour.
//
//	camera/<cam>/{status,alert,events}   inbound per-camera
//	<prefix>/control/<cam>                inbound control
//	<prefix>/status/<client>              outbound process status
//	<prefix>/stats/<cam>                  outbound session stats
type Topics struct {
	Prefix    string
	Separator string // "/" for MQTT, "." for NATS
	Wildcard  string // single-level wildcard: "+" for MQTT, "*" for NATS
}

func MQTTTopics(prefix string) Topics {
	return Topics{Prefix: prefix, Separator: "/", Wildcard: "+"}
}

func NATSTopics(prefix string) Topics {
	return Topics{Prefix: prefix, Separator: ".", Wildcard: "*"}
}

func (t Topics) join(parts ...string) string {
	return strings.Join(parts, t.Separator)
}

// Subscriptions returns the inbound patterns the viewer listens on.
func (t Topics) Subscriptions() []string {
	return []string{
		t.join("camera", t.Wildcard, "status"),
		t.join("camera", t.Wildcard, "alert"),
		t.join("camera", t.Wildcard, "events"),
		t.join(t.Prefix, "control", t.Wildcard),
	}
}

func (t Topics) ProcessStatus(clientID string) string {
	return t.join(t.Prefix, "status", clientID)
}

func (t Topics) Stats(camera string) string {
	return t.join(t.Prefix, "stats", camera)
}

func (t Topics) CameraEvents(camera string) string {
	return t.join("camera", camera, "events")
}

func (t Topics) Control(camera string) string {
	return t.join(t.Prefix, "control", camera)
}

// Parse classifies a concrete topic. Anything outside the layout is
// TagUnknown.
func (t Topics) Parse(topic string) Route {
	parts := strings.Split(topic, t.Separator)
	if len(parts) != 3 || parts[1] == "" {
		return Route{}
	}

	if parts[0] == "camera" {
		switch parts[2] {
		case "status":
			return Route{Tag: TagStatus, Camera: parts[1]}
		case "alert":
			return Route{Tag: TagAlert, Camera: parts[1]}
		case "events":
			return Route{Tag: TagEvent, Camera: parts[1]}
		}
		return Route{}
	}

	if parts[0] == t.Prefix && parts[1] == "control" && parts[2] != "" {
		return Route{Tag: TagControl, Camera: parts[2]}
	}
	return Route{}
}

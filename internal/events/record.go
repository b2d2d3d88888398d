package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the only accepted event timestamp format.
const TimestampLayout = "2006-01-02 15:04:05"

var (
	ErrMalformedPayload = errors.New("malformed event payload")
	ErrMissingCamera    = errors.New("missing camera_name")
	ErrMissingPath      = errors.New("missing video_path")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// Record is one camera event as received from the broker. It has no identity
// of its own; storage assigns the key on insert.
type Record struct {
	CameraName string `json:"camera_name"`
	Timestamp  string `json:"timestamp"`
	VideoPath  string `json:"video_path"`
	Viewed     bool   `json:"viewed"`
}

// Stored is a Record read back from durable storage.
type Stored struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Record
}

// Parse decodes a broker payload and validates it. Unknown fields such as
// "type" or "confidence" sent by camera publishers are ignored.
func Parse(payload []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	r.CameraName = strings.TrimSpace(r.CameraName)
	r.Timestamp = strings.TrimSpace(r.Timestamp)
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Validate checks the required fields. Invalid timestamps are rejected, never
// replaced with the receive time.
func (r Record) Validate() error {
	if r.CameraName == "" {
		return ErrMissingCamera
	}
	if r.VideoPath == "" {
		return ErrMissingPath
	}
	if _, err := r.OccurredAt(); err != nil {
		return err
	}
	return nil
}

// OccurredAt parses Timestamp in local time.
func (r Record) OccurredAt() (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, r.Timestamp, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q", ErrInvalidTimestamp, r.Timestamp)
	}
	return t, nil
}

// DedupKey identifies a logical event across broker redeliveries.
func (r Record) DedupKey() string {
	return r.CameraName + "|" + r.Timestamp + "|" + r.VideoPath
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

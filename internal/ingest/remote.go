package ingest

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// CameraStatus is the last status a camera reported on its status topic.
type CameraStatus struct {
	Camera    string    `json:"camera"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RemoteStatus tracks per-camera status reports.
type RemoteStatus struct {
	mu    sync.RWMutex
	state map[string]CameraStatus
}

func NewRemoteStatus() *RemoteStatus {
	return &RemoteStatus{state: make(map[string]CameraStatus)}
}

func (r *RemoteStatus) Set(camera, status string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[camera] = CameraStatus{Camera: camera, Status: strings.TrimSpace(status), UpdatedAt: at}
}

func (r *RemoteStatus) Get(camera string) (CameraStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.state[camera]
	return s, ok
}

// Snapshot returns all entries sorted by camera.
func (r *RemoteStatus) Snapshot() []CameraStatus {
	r.mu.RLock()
	out := make([]CameraStatus, 0, len(r.state))
	for _, s := range r.state {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Camera < out[j].Camera })
	return out
}

package persist

import (
	"sort"
	"sync"
)

// Counts are the derived per-camera figures shown next to each camera.
type Counts struct {
	Camera   string `json:"camera"`
	Unviewed int    `json:"unviewed"`
	Last24h  int    `json:"last_24h"`
}

// Counters is written by the persistence worker and read by the presentation
// loop.
type Counters struct {
	mu    sync.RWMutex
	state map[string]Counts
}

func NewCounters() *Counters {
	return &Counters{state: make(map[string]Counts)}
}

func (c *Counters) Set(v Counts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[v.Camera] = v
}

func (c *Counters) Get(camera string) Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.state[camera]; ok {
		return v
	}
	return Counts{Camera: camera}
}

func (c *Counters) Snapshot() []Counts {
	c.mu.RLock()
	out := make([]Counts, 0, len(c.state))
	for _, v := range c.state {
		out = append(out, v)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Camera < out[j].Camera })
	return out
}

package ingest

import (
	"sync"

	"github.com/technosupport/ts-camviewer/internal/events"
)

// RecentCache holds the newest events, most recent first, for the event list.
type RecentCache struct {
	mu       sync.Mutex
	items    []events.Record
	capacity int
}

func NewRecentCache(capacity int) *RecentCache {
	if capacity <= 0 {
		capacity = 200
	}
	return &RecentCache{capacity: capacity}
}

// Add puts r at the head, evicting the oldest entry when full.
func (c *RecentCache) Add(r events.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) < c.capacity {
		c.items = append(c.items, events.Record{})
	}
	copy(c.items[1:], c.items)
	c.items[0] = r
}

// Snapshot copies up to limit entries matching camera (all when empty).
// limit <= 0 means no limit.
func (c *RecentCache) Snapshot(camera string, limit int) []events.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]events.Record, 0, len(c.items))
	for _, r := range c.items {
		if camera != "" && r.CameraName != camera {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (c *RecentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

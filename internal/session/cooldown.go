package session

import (
	"sync"
	"time"
)

// cooldown rate-limits detections per device so a tracker beaconing every
// two seconds does not flood the detection store and the database.
type cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newCooldown() *cooldown {
	return &cooldown{last: make(map[string]time.Time)}
}

func (c *cooldown) clear() {
	c.mu.Lock()
	c.last = make(map[string]time.Time)
	c.mu.Unlock()
}

func (c *cooldown) allow(key string, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok {
		if now.Sub(ts) < d {
			return false
		}
	}
	c.last[key] = now
	return true
}

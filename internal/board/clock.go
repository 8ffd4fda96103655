// internal/board/clock.go
package board

import (
	"sync"
	"time"
)

// tsSpan is the period of the 16-bit millisecond frame timestamp.
const tsSpan = 65536 * time.Millisecond

// Clock unfolds wrapped frame timestamps into offsets from session start.
// Frames must be fed in logging order. Each board wraps on its own.
type Clock struct {
	mu    sync.Mutex
	last  map[uint8]uint16
	epoch map[uint8]time.Duration
}

func NewClock() *Clock {
	return &Clock{
		last:  make(map[uint8]uint16),
		epoch: make(map[uint8]time.Duration),
	}
}

// Offset returns the time since session start of a frame from board id.
// A timestamp lower than the board's previous one starts a new period.
func (c *Clock) Offset(id uint8, ts uint16) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.last[id]; ok && ts < prev {
		c.epoch[id] += tsSpan
	}
	c.last[id] = ts
	return c.epoch[id] + time.Duration(ts)*time.Millisecond
}

package bridge

import (
	"sync/atomic"
	"time"
)

// Clock derives host block numbers from wall time.
type Clock struct {
	genesis   time.Time
	blockTime time.Duration
	offset    atomic.Uint64
}

func NewClock(blockTime time.Duration) *Clock {
	if blockTime <= 0 {
		blockTime = 6 * time.Second
	}
	return &Clock{genesis: time.Now(), blockTime: blockTime}
}

// Now returns the current host block.
func (c *Clock) Now() uint64 {
	return uint64(time.Since(c.genesis)/c.blockTime) + c.offset.Load()
}

// Resume continues numbering after block, used when state was restored from a store.
func (c *Clock) Resume(block uint64) {
	c.offset.Store(block)
}

// Package stats tracks copy progress with lock-free counters plus a small
// ring buffer of per-second throughput samples for rate display.
package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks copy operation statistics using atomic counters. The
// engine writes, presenters read.
type Collector struct {
	bytesRead     atomic.Int64
	bytesWritten  atomic.Int64
	blocksWritten atomic.Int64
	rangesCopied  atomic.Int64
	rangesChecked atomic.Int64
	syncs         atomic.Int64
	bytesTotal    atomic.Int64 // mapped size; 0 while unknown
	startTime     time.Time

	// Ring buffer is written only by the presenter's Tick, never by the
	// engine.
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes written per second
	ringIdx    int
	ringCount  int
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetBytesTotal records the expected number of bytes to write. Called once
// when the mapped size is known; never called for streams of unknown size.
func (c *Collector) SetBytesTotal(n int64) { c.bytesTotal.Store(n) }

func (c *Collector) AddBytesRead(n int64)     { c.bytesRead.Add(n) }
func (c *Collector) AddBytesWritten(n int64)  { c.bytesWritten.Add(n) }
func (c *Collector) AddBlocksWritten(n int64) { c.blocksWritten.Add(n) }
func (c *Collector) AddRangesCopied(n int64)  { c.rangesCopied.Add(n) }
func (c *Collector) AddRangesChecked(n int64) { c.rangesChecked.Add(n) }
func (c *Collector) AddSyncs(n int64)         { c.syncs.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	BytesRead     int64
	BytesWritten  int64
	BlocksWritten int64
	RangesCopied  int64
	RangesChecked int64
	Syncs         int64
	BytesTotal    int64
	Elapsed       time.Duration
}

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		BytesRead:     c.bytesRead.Load(),
		BytesWritten:  c.bytesWritten.Load(),
		BlocksWritten: c.blocksWritten.Load(),
		RangesCopied:  c.rangesCopied.Load(),
		RangesChecked: c.rangesChecked.Load(),
		Syncs:         c.syncs.Load(),
		BytesTotal:    c.bytesTotal.Load(),
		Elapsed:       c.Elapsed(),
	}
}

// Tick snapshots the bytes-written delta into the ring buffer. Called
// once per second by the presenter.
func (c *Collector) Tick() {
	current := c.bytesWritten.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := seconds
	if count > c.ringCount {
		count = c.ringCount
	}
	if count == 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// ETA estimates remaining time based on rolling speed and remaining bytes.
// Returns 0 when the total is unknown.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := c.bytesTotal.Load() - c.bytesWritten.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"read=%d written=%d blocks=%d ranges=%d checked=%d syncs=%d",
		s.BytesRead, s.BytesWritten, s.BlocksWritten,
		s.RangesCopied, s.RangesChecked, s.Syncs,
	)
}

package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Writer is the counting side of a Collector, handed to the engine.
type Writer interface {
	AddConsidered(n int64) int64
	AddBytesConsidered(n int64)
	AddTransferred(n int64)
	AddSimulated(n int64)
	AddNoop(n int64)
	AddSkipped(n int64)
	AddErrored(n int64)
	AddWarnings(n int64)
	AddBytesTransferred(n int64)
}

// Reader is the reporting side of a Collector, handed to presenters.
type Reader interface {
	Snapshot() Snapshot
}

// Collector accumulates the outcome counts of one run using lock-free
// atomic counters. It is owned by the run and passed explicitly to every
// stage; there is no package-level state.
type Collector struct {
	considered       atomic.Int64
	bytesConsidered  atomic.Int64
	transferred      atomic.Int64
	simulated        atomic.Int64
	noop             atomic.Int64
	skipped          atomic.Int64
	errored          atomic.Int64
	warnings         atomic.Int64
	bytesTransferred atomic.Int64
	startTime        time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// AddConsidered returns the new total.
func (c *Collector) AddConsidered(n int64) int64 { return c.considered.Add(n) }

func (c *Collector) AddBytesConsidered(n int64)  { c.bytesConsidered.Add(n) }
func (c *Collector) AddTransferred(n int64)      { c.transferred.Add(n) }
func (c *Collector) AddSimulated(n int64)        { c.simulated.Add(n) }
func (c *Collector) AddNoop(n int64)             { c.noop.Add(n) }
func (c *Collector) AddSkipped(n int64)          { c.skipped.Add(n) }
func (c *Collector) AddErrored(n int64)          { c.errored.Add(n) }
func (c *Collector) AddWarnings(n int64)         { c.warnings.Add(n) }
func (c *Collector) AddBytesTransferred(n int64) { c.bytesTransferred.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	Considered       int64
	BytesConsidered  int64
	Transferred      int64
	Simulated        int64
	Noop             int64
	Skipped          int64
	Errored          int64
	Warnings         int64
	BytesTransferred int64
	Elapsed          time.Duration
}

// Included is the number of files that passed the filter, whatever the
// executor then did with them.
func (s Snapshot) Included() int64 {
	return s.Transferred + s.Simulated + s.Noop
}

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Considered:       c.considered.Load(),
		BytesConsidered:  c.bytesConsidered.Load(),
		Transferred:      c.transferred.Load(),
		Simulated:        c.simulated.Load(),
		Noop:             c.noop.Load(),
		Skipped:          c.skipped.Load(),
		Errored:          c.errored.Load(),
		Warnings:         c.warnings.Load(),
		BytesTransferred: c.bytesTransferred.Load(),
		Elapsed:          c.Elapsed(),
	}
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"considered=%d included=%d transferred=%d simulated=%d noop=%d skipped=%d errored=%d warnings=%d bytes=%d",
		s.Considered, s.Included(), s.Transferred, s.Simulated, s.Noop,
		s.Skipped, s.Errored, s.Warnings, s.BytesTransferred,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

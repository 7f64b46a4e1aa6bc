package pipeline

import (
	"sync/atomic"
)

// Stats counts outcomes since the coordinator was created.
type Stats struct {
	Discovered  int64
	Collapsed   int64
	Skipped     int64
	Completed   int64
	Failed      int64
	Vanished    int64
	Retried     int64
	Interrupted int64
}

type counters struct {
	discovered  atomic.Int64
	collapsed   atomic.Int64
	skipped     atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	vanished    atomic.Int64
	retried     atomic.Int64
	interrupted atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Discovered:  c.discovered.Load(),
		Collapsed:   c.collapsed.Load(),
		Skipped:     c.skipped.Load(),
		Completed:   c.completed.Load(),
		Failed:      c.failed.Load(),
		Vanished:    c.vanished.Load(),
		Retried:     c.retried.Load(),
		Interrupted: c.interrupted.Load(),
	}
}

package stats

import "sync/atomic"

// Counters are the campaign totals shared by every worker. Cases are always
// counted before the crash they produced, and Snapshot loads crashes before
// cases, so a snapshot never shows more crashes than cases.
type Counters struct {
	cases   atomic.Uint64
	crashes atomic.Uint64
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) AddCase() {
	c.cases.Add(1)
}

// AddCrash must only be called after AddCase for the same execution.
func (c *Counters) AddCrash() {
	c.crashes.Add(1)
}

type Snapshot struct {
	Cases   uint64
	Crashes uint64
}

func (c *Counters) Snapshot() Snapshot {
	crashes := c.crashes.Load()
	cases := c.cases.Load()
	return Snapshot{Cases: cases, Crashes: crashes}
}

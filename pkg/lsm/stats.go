package lsm

import "sync/atomic"

// Stats accumulates the counters spec.md §7 requires worker failures to
// surface through instead of propagating to cursors: "worker failures
// never propagate to cursors; they become statistics entries."
type Stats struct {
	Switches         atomic.Uint64
	MergeInstalls    atomic.Uint64
	MergeErrors      atomic.Uint64
	CheckpointErrors atomic.Uint64
	ChunksReclaimed  atomic.Uint64
}

// Snapshot is a point-in-time copy of Stats safe to log or return to a
// caller without exposing the live atomics.
type Snapshot struct {
	Switches         uint64
	MergeInstalls    uint64
	MergeErrors      uint64
	CheckpointErrors uint64
	ChunksReclaimed  uint64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Switches:         s.Switches.Load(),
		MergeInstalls:    s.MergeInstalls.Load(),
		MergeErrors:      s.MergeErrors.Load(),
		CheckpointErrors: s.CheckpointErrors.Load(),
		ChunksReclaimed:  s.ChunksReclaimed.Load(),
	}
}

/*
NAME
  counters.go

DESCRIPTION
  counters.go provides Counters, four thread-safe monotonic counters
  populated by an external ROI motion collaborator and snapshotted/reset
  by the stack averager on each completed stack.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package ivs provides the motion-counter bookkeeping the stack averager
// attaches to each completed stack as metadata. The counters themselves
// are simple and owned here; the region-of-interest motion-detection
// algorithm that drives them is an external collaborator, out of scope for
// this package.
package ivs

import "sync"

// Snapshot is a point-in-time read of the four counters.
type Snapshot struct {
	Polls        int
	ActivePolls  int
	TotalROIs    int
	LastROIs     int
}

// Counters holds the four monotonic counters behind a mutex. The external
// collaborator calls Poll, passing the ROI count when a poll found motion,
// from its own goroutine; the stack averager calls Snapshot to
// read-and-reset atomically at the instant a stack completes.
type Counters struct {
	mu          sync.Mutex
	polls       int
	activePolls int
	totalROIs   int
	lastROIs    int
	started     bool
}

// New returns an empty Counters. Snapshot returns an all-zero Snapshot
// until the first call to Poll, matching the spec's "empty snapshot if the
// collaborator was not started" behaviour.
func New() *Counters {
	return &Counters{}
}

// Poll records one poll of the ROI grid, and active=true if motion was
// observed in that poll. rois is the count of regions reporting motion on
// this poll (0 if active is false).
func (c *Counters) Poll(active bool, rois int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.polls++
	if active {
		c.activePolls++
		c.totalROIs += rois
		c.lastROIs = rois
	}
}

// Snapshot reads the current counters and resets them to zero, atomically.
// If the collaborator never called Poll, Snapshot returns a zero Snapshot.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return Snapshot{}
	}
	s := Snapshot{
		Polls:       c.polls,
		ActivePolls: c.activePolls,
		TotalROIs:   c.totalROIs,
		LastROIs:    c.lastROIs,
	}
	c.polls, c.activePolls, c.totalROIs, c.lastROIs = 0, 0, 0, 0
	c.started = false
	return s
}

// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import "go.uber.org/atomic"

// Stats are lock-free counters a monitor/admin surface can read without
// taking the scheduler lock, following the sibling Mesos scheduler's own
// atomic Stats struct in the wider example pack.
type Stats struct {
	Dispatched atomic.Int64
	Completed  atomic.Int64
	Failed     atomic.Int64
	TimedOut   atomic.Int64
	ForceStop  atomic.Int64
}

// Snapshot is a point-in-time copy suitable for JSON encoding on an admin
// HTTP endpoint.
type StatsSnapshot struct {
	Dispatched int64 `json:"dispatched"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	TimedOut   int64 `json:"timed_out"`
	ForceStop  int64 `json:"force_stop"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Dispatched: s.Dispatched.Load(),
		Completed:  s.Completed.Load(),
		Failed:     s.Failed.Load(),
		TimedOut:   s.TimedOut.Load(),
		ForceStop:  s.ForceStop.Load(),
	}
}

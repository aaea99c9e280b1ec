// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

// TrackerSnapshot is a read-only view of one CommandTracker's current
// disposition, exposed to the admin surface.
type TrackerSnapshot struct {
	ID         int64    `json:"id"`
	Argv       []string `json:"argv"`
	SourcePath string   `json:"source_path,omitempty"`
	State      string   `json:"state"`
}

// Snapshot returns the current disposition of every tracked command. It is
// read-only: callers cannot mutate scheduler state through the result.
//
// A tracker's ExecutableCommand iterations are keyed by their own ID, not
// the tracker's, so more than one of a looping tracker's iterations can be
// live across different collections at once; the reported state is the
// most "active" one found, in executing > terminating > sleeping > ready
// priority.
func (s *Scheduler) Snapshot() []TrackerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := make(map[int64]string, len(s.trackers))

	for _, ec := range s.ready {
		state[ec.Tracker.ID] = "ready"
	}
	for _, ec := range s.sleeping {
		state[ec.Tracker.ID] = "sleeping"
	}
	for _, w := range s.terminating {
		state[w.ec.Tracker.ID] = "terminating"
	}
	for _, w := range s.executing {
		state[w.ec.Tracker.ID] = "executing"
	}

	out := make([]TrackerSnapshot, 0, len(s.trackers))
	for id, t := range s.trackers {
		st, ok := state[id]
		if !ok {
			st = "unscheduled"
		}
		out = append(out, TrackerSnapshot{
			ID:         t.ID,
			Argv:       t.Argv,
			SourcePath: t.SourcePath,
			State:      st,
		})
	}
	return out
}

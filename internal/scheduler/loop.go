// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"go.uber.org/zap"

	"github.com/codeactual/cmdsched/internal/device"
)

// Start runs the scheduling loop until shutdown completes. It blocks the
// calling goroutine; callers typically invoke it via `go s.Start()`.
func (s *Scheduler) Start() {
	s.devices.AddDeviceMonitor(func(serial string, state device.State) {
		s.signalWake()
	})

	close(s.loopStarted)

	for {
		if s.loopIteration() {
			break
		}
	}

	if err := s.teardown(); err != nil {
		s.log.Error("teardown reported errors", zap.Error(err))
	}

	close(s.loopDone)
}

// loopIteration runs one pass: wait, re-check in-flight invocations,
// match, dispatch. Returns true once the loop should exit.
func (s *Scheduler) loopIteration() (exit bool) {
	timer := s.clock.NewTimer(s.cfg.MaxPollInterval)
	select {
	case <-s.wake:
		timer.Stop()
	case <-timer.C():
	}

	s.checkBattery()

	matched := s.match()
	s.dispatch(matched)

	s.mu.Lock()
	empty := len(s.ready) == 0 && len(s.sleeping) == 0 && len(s.executing) == 0
	shouldExit := (s.phase == phaseQuitting && s.shutdownEmpty && empty) ||
		(s.phase == phaseQuitting && s.shutdownDrained && len(s.executing) == 0) ||
		(s.phase == phaseKilling && len(s.executing) == 0)
	s.mu.Unlock()

	return shouldExit
}

// match walks Ready in priority order, attempting device allocation for
// each command. Matched commands move Ready->Executing with a provisional
// context; unmatched commands stay in Ready with a deduplicated warning.
//
// Devices are allocated one-by-one per spec.md §5's resource policy: a
// multi-device config (ShardCount > 1) requests that many devices in
// sequence, and on the first allocation failure every device already
// allocated in that attempt is immediately freed back to Available (S3).
func (s *Scheduler) match() []*dispatchCandidate {
	s.mu.Lock()
	ordered := s.ready.sorted()
	s.mu.Unlock()

	var out []*dispatchCandidate

	for _, ec := range ordered {
		needed := ec.Config.ShardCount
		if needed < 1 {
			needed = 1
		}

		req := requirementsFor(ec.Config)
		var allocated []string
		for i := 0; i < needed; i++ {
			desc, err := s.devices.Allocate(req)
			if err != nil || desc == nil {
				break
			}
			allocated = append(allocated, desc.Serial)
		}

		if len(allocated) < needed {
			for _, serial := range allocated {
				s.devices.Free(serial, device.ReleaseAvailable)
			}
			s.mu.Lock()
			if !s.unscheduledWarned[ec.Tracker.ID] {
				s.unscheduledWarned[ec.Tracker.ID] = true
				s.log.Debug("no matchable device, remaining in Ready", s.logTracker(ec.Tracker)...)
			}
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		s.ready.remove(ec)
		delete(s.unscheduledWarned, ec.Tracker.ID)
		s.mu.Unlock()

		out = append(out, &dispatchCandidate{ec: ec, devices: allocated})
	}

	return out
}

type dispatchCandidate struct {
	ec      *ExecutableCommand
	devices []string
}

// dispatch starts a worker for each matched candidate outside the
// scheduler lock, and handles loop-mode re-enqueue.
func (s *Scheduler) dispatch(candidates []*dispatchCandidate) {
	for _, c := range candidates {
		// Dispatch preflight: refuse if any device is already bound to
		// another live invocation (spec.md §4.3's double-allocation guard).
		s.mu.Lock()
		doubleAllocated := false
		for _, w := range s.executing {
			for _, bound := range w.invCtx.Devices {
				for _, want := range c.devices {
					if bound == want {
						doubleAllocated = true
					}
				}
			}
		}
		s.mu.Unlock()

		if doubleAllocated {
			for _, serial := range c.devices {
				s.devices.Free(serial, device.ReleaseAvailable)
			}
			s.log.Error("dispatch preflight detected double allocation, re-queuing",
				append(s.logTracker(c.ec.Tracker), zap.Strings("devices", c.devices))...)
			s.enqueueReady(c.ec)
			continue
		}

		worker := newInvocationWorker(s, c.ec, c.devices)

		s.mu.Lock()
		s.executing[c.ec.ID] = worker
		running := s.phase == phaseRunning
		s.mu.Unlock()

		s.Stats.Dispatched.Inc()
		c.ec.Tracker.ScheduledCount++

		if running && c.ec.Config.Loop && c.ec.Tracker.ScheduledCount < c.ec.Config.MaxLoopCount {
			fresh := &ExecutableCommand{ID: s.nextExecID(), Tracker: c.ec.Tracker, Config: c.ec.Config, CreatedAt: s.clock.Now()}
			if c.ec.Config.LoopDelay > 0 {
				s.enqueueSleeping(fresh, c.ec.Config.LoopDelay)
			} else {
				s.enqueueReady(fresh)
			}
		}

		go worker.run()
	}
}

// checkBattery asks each live worker's bound devices for their current
// charge against the worker's per-device cutoffs, once per iteration
// (spec.md §4.4's battery policy; §5's "battery-triggers ... funnel
// through the same force-stop path").
func (s *Scheduler) checkBattery() {
	s.mu.Lock()
	workers := make([]*invocationWorker, 0, len(s.executing))
	for _, w := range s.executing {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		cutoffs := w.ec.Config.BatteryCutoff
		if len(cutoffs) == 0 {
			continue
		}
		for _, serial := range w.invCtx.Devices {
			cutoff, ok := cutoffs[serial]
			if !ok {
				continue
			}
			level, probed := s.devices.BatteryLevel(serial)
			if !probed || level >= cutoff {
				continue
			}
			if s.engine.Interruptible() {
				w.stopInvocation("battery too low", true, nil)
			} else {
				s.log.Warn("battery below cutoff but not interruptible this iteration",
					zap.String("device", serial), zap.Int("level", level), zap.Int("cutoff", cutoff))
			}
		}
	}
}

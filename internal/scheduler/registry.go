// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"time"

	"go.uber.org/zap"

	"github.com/codeactual/cmdsched/internal/device"
	"github.com/codeactual/cmdsched/internal/runconfig"
)

// Add materialises a run-config from argv and either enqueues a new
// ExecutableCommand or, for help/dry-run configs, emits a synthetic
// no-op reporting cycle. Returns the assigned tracker id.
func (s *Scheduler) Add(argv []string, sourcePath string) (accepted bool, id int64, err error) {
	cfg, cfgErr := s.factory.CreateConfig(argv)
	if cfgErr != nil {
		return false, 0, &ConfigError{Cause: cfgErr}
	}

	s.mu.Lock()
	if s.phase != phaseRunning {
		s.mu.Unlock()
		return false, 0, ErrShuttingDown
	}

	s.nextID++
	tracker := &CommandTracker{
		ID:         s.nextID,
		Argv:       append([]string{}, argv...),
		SourcePath: sourcePath,
		Attributes: cfg.Attributes(),
	}
	s.trackers[tracker.ID] = tracker
	if sourcePath != "" {
		s.cmdfileProvenance[sourcePath] = append(s.cmdfileProvenance[sourcePath], tracker.ID)
	}
	s.mu.Unlock()

	if cfg.Help || cfg.DryRun {
		s.runSyntheticCycle(tracker, cfg)
		return true, tracker.ID, nil
	}

	ec := &ExecutableCommand{ID: s.nextExecID(), Tracker: tracker, Config: cfg, CreatedAt: s.clock.Now()}
	s.enqueueReady(ec)
	s.signalWake()

	return true, tracker.ID, nil
}

// runSyntheticCycle emits invocationInitiated -> invocationComplete against
// a stub context, without ever touching Ready/Sleeping/Executing, for a
// help or dry-run config (spec.md §4.1).
func (s *Scheduler) runSyntheticCycle(tracker *CommandTracker, cfg *runconfig.Config) {
	ec := &ExecutableCommand{ID: s.nextExecID(), Tracker: tracker, Config: cfg, CreatedAt: s.clock.Now()}
	ctx := &InvocationContext{InvocationID: newInvocationID(), Command: ec, Attributes: cfg.Attributes()}
	s.listener.InvocationInitiated(ctx)
	s.listener.InvocationComplete(ctx, nil)
}

// AddForAllDevices materialises one ExecutableCommand per currently-known
// non-stub device, with the device's serial pinned into its requirements.
func (s *Scheduler) AddForAllDevices(argv []string, sourcePath string) (ids []int64, err error) {
	for _, d := range s.devices.ListAllDevices() {
		if d.Stub {
			continue
		}
		pinned := append(append([]string{}, argv...), "--device", d.Serial)
		_, id, addErr := s.Add(pinned, sourcePath)
		if addErr != nil {
			return ids, addErr
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RemoveAll removes every command from Ready and Sleeping. Executing is
// untouched; a subsequent call is indistinguishable from the first
// (spec.md §8 property 8).
func (s *Scheduler) RemoveAll() {
	s.mu.Lock()
	s.ready = readyQueue{}
	s.sleeping = make(map[int64]*ExecutableCommand)
	s.mu.Unlock()
}

// Remove removes commands matching predicate from Ready and Sleeping.
func (s *Scheduler) Remove(predicate func(*CommandTracker) bool) (removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := readyQueue{}
	for _, ec := range s.ready {
		if predicate(ec.Tracker) {
			removed++
			continue
		}
		kept.push(ec)
	}
	s.ready = kept

	for id, ec := range s.sleeping {
		if predicate(ec.Tracker) {
			delete(s.sleeping, id)
			removed++
		}
	}

	return removed
}

// enqueueReady moves ec into Ready. Held lock not required from caller;
// this method takes it itself. It does not wake the loop; callers that need
// a prompt match call signalWake themselves.
func (s *Scheduler) enqueueReady(ec *ExecutableCommand) {
	s.mu.Lock()
	s.ready.push(ec)
	s.mu.Unlock()
}

// enqueueSleeping arms a single-shot timer; when it fires the command moves
// Sleeping->Ready and the loop is woken (spec.md §4.2's delayed enqueue).
func (s *Scheduler) enqueueSleeping(ec *ExecutableCommand, delay time.Duration) {
	s.mu.Lock()
	s.sleeping[ec.ID] = ec
	s.mu.Unlock()

	timer := s.clock.NewTimer(delay)
	go func() {
		<-timer.C()
		s.mu.Lock()
		if _, ok := s.sleeping[ec.ID]; ok {
			delete(s.sleeping, ec.ID)
			s.ready.push(ec)
		}
		s.mu.Unlock()
		s.signalWake()
	}()
}

// Reschedule implements the reschedule contract: a mutated run-config is
// queued as a new ExecutableCommand sharing the tracker, loop forced off,
// entering Ready immediately with zero delay.
func (s *Scheduler) Reschedule(tracker *CommandTracker, cfg *runconfig.Config) {
	next := *cfg
	next.Loop = false
	ec := &ExecutableCommand{ID: s.nextExecID(), Tracker: tracker, Config: &next, Rescheduled: true, CreatedAt: s.clock.Now()}
	s.enqueueReady(ec)
	s.signalWake()
}

// requirementsFor derives device.Requirements from a config's device
// pattern.
func requirementsFor(cfg *runconfig.Config) device.Requirements {
	pattern := cfg.DevicePattern
	if pattern == "" {
		pattern = "*"
	}
	return device.Requirements{Pattern: pattern}
}

func (s *Scheduler) logTracker(tracker *CommandTracker) []zap.Field {
	return []zap.Field{
		zap.Int64("command_id", tracker.ID),
		zap.Strings("argv", tracker.Argv),
	}
}

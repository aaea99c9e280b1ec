// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// StopScheduling blocks new Add/loop re-enqueue but lets in-flight work run
// to completion. Transition: Running -> Quitting.
func (s *Scheduler) StopScheduling() {
	s.mu.Lock()
	if s.phase == phaseRunning {
		s.phase = phaseQuitting
	}
	s.mu.Unlock()
	s.signalWake()
}

// Shutdown initiates graceful drain: clears Ready and Sleeping (pending
// sleep timers still fire but no longer find their command, so they enqueue
// nothing), and signals the loop to exit once Executing empties. If
// notifyStop is true every live worker receives a notify-stop, which records
// the cause but does not end the invocation.
func (s *Scheduler) Shutdown(notifyStop bool) {
	s.mu.Lock()
	if s.phase == phaseRunning || s.phase == phaseQuitting {
		s.phase = phaseQuitting
	}
	s.ready = readyQueue{}
	s.sleeping = make(map[int64]*ExecutableCommand)
	s.shutdownDrained = true
	workers := make([]*invocationWorker, 0, len(s.executing))
	for _, w := range s.executing {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	if notifyStop {
		for _, w := range workers {
			w.stopInvocation("shutdown", false, nil)
		}
	}

	s.signalWake()
}

// ShutdownOnEmpty sets a flag so the loop exits as soon as all three
// collections are empty, without forcing a drain of Ready/Sleeping.
func (s *Scheduler) ShutdownOnEmpty() {
	s.mu.Lock()
	if s.phase == phaseRunning {
		s.phase = phaseQuitting
	}
	s.shutdownEmpty = true
	s.mu.Unlock()
	s.signalWake()
}

// ShutdownHard swaps the scheduler's listener for a no-op, force-stops each
// invocation, and, when killDeviceBridge is true, tells the Device Manager to
// terminate hard. Transition: any -> Killing. Workers that are already running
// keep the listener they were created with, so they still report their own
// completion; only workers created afterwards see the no-op listener.
func (s *Scheduler) ShutdownHard(killDeviceBridge bool) {
	s.mu.Lock()
	s.phase = phaseKilling
	workers := make([]*invocationWorker, 0, len(s.executing))
	for _, w := range s.executing {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	// Swap the listener for a no-op. Running workers captured the old one
	// in newInvocationWorker and are not affected by this swap.
	s.mu.Lock()
	s.listener = newMultiListener(nil)
	s.mu.Unlock()

	var errs error
	for _, w := range workers {
		w.stopInvocation("shutdown-hard", true, nil)
	}

	if killDeviceBridge {
		if err := s.devices.TerminateHard("shutdown-hard"); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		s.log.Error("errors during hard shutdown teardown", zap.Error(errs))
	}

	s.signalWake()
}

// Join blocks until the loop exits, or timeout elapses (timeout<=0 means
// block forever). It is one of the scheduler's only externally-visible
// waits (spec.md §5).
func (s *Scheduler) Join(timeout time.Duration) (exited bool) {
	if timeout <= 0 {
		<-s.loopDone
		return true
	}
	select {
	case <-s.loopDone:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Await blocks until the loop has started running.
func (s *Scheduler) Await() {
	s.await()
}

// teardown runs the post-loop sequence: await all live workers, await all
// terminating workers, terminate the Device Manager, emit a final stats
// line. Workers still in the terminating map when this begins may run their
// InvocationComplete callbacks during the first step; once that wait ends,
// no worker is left to call a listener.
func (s *Scheduler) teardown() error {
	for {
		s.mu.Lock()
		n := len(s.executing) + len(s.terminating)
		s.mu.Unlock()
		if n == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	var errs error
	if err := s.devices.Terminate(); err != nil {
		errs = multierr.Append(errs, err)
	}

	snap := s.Stats.Snapshot()
	s.log.Info("scheduler teardown complete",
		zap.Int64("dispatched", snap.Dispatched),
		zap.Int64("completed", snap.Completed),
		zap.Int64("failed", snap.Failed),
	)

	s.mu.Lock()
	s.phase = phaseTerminated
	s.mu.Unlock()

	return errs
}

// LastExitCode derives the process-level ExitCode from the last recorded
// invocation outcome, per spec.md §6.
func (s *Scheduler) LastExitCode() ExitCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.lastExitReason {
	case ExitDeviceUnresponsive:
		return DeviceUnresponsive
	case ExitDeviceUnavailable:
		return DeviceUnavailable
	case ExitFatalHost:
		return FatalHostError
	case ExitThrowableOther:
		return ThrowableException
	default:
		return NoError
	}
}

// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"go.uber.org/zap"

	"github.com/codeactual/cmdsched/internal/device"
	"github.com/codeactual/cmdsched/internal/invocation"

	cage_time "github.com/codeactual/cmdsched/internal/cage/time"
)

// taskGroup is a worker-scoped sync.WaitGroup tracking goroutines the
// worker spawned besides itself, the Go-native reading of spec.md §9's
// "thread-group-based stray-thread accounting".
type taskGroup struct {
	wg sync.WaitGroup
}

func (g *taskGroup) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// strayCount reports how many task-group goroutines are still outstanding
// after waiting up to grace for them to finish. A non-zero result is the
// "stray thread" signal the completion phase logs.
func (g *taskGroup) strayCount(grace time.Duration) int {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return 0
	case <-time.After(grace):
		// We cannot introspect sync.WaitGroup's internal counter directly;
		// its non-zero state is exactly what timed out above, so report 1
		// as "at least one stray" rather than fabricating a count.
		return 1
	}
}

// invocationWorker supervises one executing command from dispatch through
// release, per spec.md §4.4.
type invocationWorker struct {
	scheduler *Scheduler
	ec        *ExecutableCommand
	invCtx    *InvocationContext

	ctx    context.Context
	cancel context.CancelFunc

	interrupter *interrupter
	tasks       taskGroup
	listener    Listener

	stopOnce sync.Once
	stopErr  error

	done chan struct{}
}

func newInvocationWorker(s *Scheduler, ec *ExecutableCommand, devices []string) *invocationWorker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &invocationWorker{
		scheduler: s,
		ec:        ec,
		ctx:       ctx,
		cancel:    cancel,
		listener:  s.listener,
		done:      make(chan struct{}),
	}
	w.interrupter = newInterrupter(s.clock, cancel)
	w.invCtx = &InvocationContext{
		InvocationID: newInvocationID(),
		Command:      ec,
		Devices:      devices,
		Attributes:   ec.Config.Attributes(),
	}
	return w
}

// stopInvocation implements the two degrees of cancellation. A notify-stop
// (force false) only records the cause on the worker: nothing is sent to the
// engine and the invocation keeps running. A force-stop goes through the
// interrupter, which cancels the invocation's context, honoring the engine's
// allow-interrupt gate only when a grace timer is given.
func (w *invocationWorker) stopInvocation(cause string, force bool, grace cage_time.Timer) {
	w.stopOnce.Do(func() {
		w.stopErr = errNotifyStop(cause)
	})
	if force {
		w.interrupter.forceStop(w.scheduler.engine.Interruptible(), grace)
	}
}

func errNotifyStop(cause string) error {
	return &invocation.Cancelled{Cause: errorf("notify-stop: %s", cause)}
}

// run executes the init, run, and completion phases. It always runs the
// completion phase, even if the run phase panics, so device release is
// guaranteed (spec.md §7's propagation policy).
func (w *invocationWorker) run() {
	defer close(w.done)

	s := w.scheduler
	w.listener.InvocationInitiated(w.invCtx)

	var timeoutTimer cage_time.Timer
	if w.ec.Config.Timeout > 0 {
		timeoutTimer = s.clock.NewTimer(w.ec.Config.Timeout)
		w.tasks.Go(func() {
			select {
			case <-timeoutTimer.C():
				s.Stats.TimedOut.Inc()
				w.stopInvocation("timeout", true, nil)
			case <-w.ctx.Done():
			}
		})
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = errorf("invocation panicked: %v\n%s", r, stack.Trace().TrimRuntime())
			}
		}()
		runErr = s.engine.Invoke(w.ctx, invocation.Context{
			InvocationID: w.invCtx.InvocationID,
			Argv:         w.ec.Tracker.Argv,
			Devices:      w.invCtx.Devices,
		}, func(argv []string) error {
			cfg, cfgErr := s.factory.CreateConfig(argv)
			if cfgErr != nil {
				return &ConfigError{Cause: cfgErr}
			}
			s.Reschedule(w.ec.Tracker, cfg)
			return nil
		}, invocationListenerAdapter{w.listener})
	}()

	if timeoutTimer != nil {
		timeoutTimer.Stop()
	}
	// Release the timeout task (and any other task waiting on ctx) so it is
	// not counted as a stray at completion.
	w.cancel()

	w.complete(runErr)
}

// complete runs the completion phase: detach from the live map, check
// stray threads, build the device release map, notify listeners, update
// tracker stats, and record the last exit code.
func (w *invocationWorker) complete(runErr error) {
	s := w.scheduler

	s.mu.Lock()
	delete(s.executing, w.ec.ID)
	s.terminating[w.ec.ID] = w
	s.mu.Unlock()

	strays := w.tasks.strayCount(2 * time.Second)
	if strays > 0 {
		s.log.Warn("stray task-group goroutines detected at completion",
			zap.Int64("command_id", w.ec.Tracker.ID),
			zap.Strings("argv", w.ec.Tracker.Argv),
			zap.Int("stray_count", strays),
		)
	}

	release := w.buildReleaseMap(runErr)
	for _, r := range release {
		s.devices.Free(r.Serial, r.State)
	}

	w.listener.InvocationComplete(w.invCtx, release)

	s.mu.Lock()
	w.ec.Tracker.ExecutedTime += s.clock.Now().Sub(w.ec.CreatedAt)
	delete(s.terminating, w.ec.ID)
	s.mu.Unlock()

	s.recordExit(runErr)

	if isFatalHost(runErr) {
		s.log.Error("fatal host error, triggering hard shutdown", zap.Error(runErr))
		go s.ShutdownHard(true)
	}

	s.signalWake()
}

// buildReleaseMap computes the per-device terminal state per spec.md
// §4.4's release-map rules: default Available, cause-specific downgrades,
// cancellation preserves state.
func (w *invocationWorker) buildReleaseMap(runErr error) []ReleaseEntry {
	var cancelled *invocation.Cancelled
	preserveState := errorsAsCancelled(runErr, &cancelled)

	entries := make([]ReleaseEntry, 0, len(w.invCtx.Devices))
	for _, serial := range w.invCtx.Devices {
		state := device.ReleaseAvailable

		if !preserveState {
			switch {
			case errorsIsDeviceUnresponsive(runErr):
				state = device.ReleaseUnresponsive
			case errorsIsDeviceNotAvailable(runErr):
				state = device.ReleaseUnavailable
			}
		}

		entries = append(entries, ReleaseEntry{Serial: serial, State: state})
	}
	return entries
}

func (s *Scheduler) recordExit(err error) {
	reason := ExitNoError
	switch {
	case err == nil:
		reason = ExitNoError
		s.Stats.Completed.Inc()
	case isFatalHost(err):
		reason = ExitFatalHost
		s.Stats.Failed.Inc()
	case errorsIsDeviceUnresponsive(err):
		reason = ExitDeviceUnresponsive
		s.Stats.Failed.Inc()
	case errorsIsDeviceNotAvailable(err):
		reason = ExitDeviceUnavailable
		s.Stats.Failed.Inc()
	default:
		var cancelled *invocation.Cancelled
		if errorsAsCancelled(err, &cancelled) {
			s.Stats.ForceStop.Inc()
		} else {
			reason = ExitThrowableOther
			s.Stats.Failed.Inc()
		}
	}

	s.mu.Lock()
	s.lastExitReason = reason
	s.lastErr = err
	s.mu.Unlock()
}

// invocationListenerAdapter adapts the scheduler's Listener to the
// invocation.Listeners interface the engine consumes.
type invocationListenerAdapter struct {
	l Listener
}

func (a invocationListenerAdapter) InvocationEvent(name, detail string) {
	a.l.InvocationEvent(name, detail)
}

// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/codeactual/cmdsched/internal/device"
	"github.com/codeactual/cmdsched/internal/invocation"
	"github.com/codeactual/cmdsched/internal/runconfig"

	cage_time "github.com/codeactual/cmdsched/internal/cage/time"
	cage_zap "github.com/codeactual/cmdsched/internal/cage/log/zap"
)

// SchedulerConfig bundles the scheduler's own bootstrap knobs. cmd/cmdsched
// passes DefaultSchedulerConfig() unchanged; neither its config file nor its
// flags set these fields.
type SchedulerConfig struct {
	MaxPollInterval   time.Duration
	UnscheduledWarnDedup bool
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxPollInterval:      60 * time.Second,
		UnscheduledWarnDedup: true,
	}
}

// phase is the shutdown state machine's current state.
type phase int

const (
	phaseRunning phase = iota
	phaseQuitting
	phaseKilling
	phaseTerminated
)

func (p phase) String() string {
	switch p {
	case phaseRunning:
		return "Running"
	case phaseQuitting:
		return "Quitting"
	case phaseKilling:
		return "Killing"
	case phaseTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Scheduler is the Command Scheduler core. All exported methods are
// goroutine-safe.
type Scheduler struct {
	log    *zap.Logger
	clock  cage_time.Clock
	cfg    SchedulerConfig
	Stats  Stats

	devices  device.Manager
	factory  runconfig.Factory
	engine   invocation.Engine

	// mu guards every field below: the three collections, the id counter,
	// and the shutdown flags, per spec.md §5's "one scheduler lock" rule.
	mu                sync.Mutex
	nextID            int64
	execSeq           atomic.Int64 // ExecutableCommand.ID source, independent of tracker ids
	trackers          map[int64]*CommandTracker
	sleeping          map[int64]*ExecutableCommand // keyed by ExecutableCommand.ID
	ready             readyQueue
	executing         map[int64]*invocationWorker // keyed by ExecutableCommand.ID
	terminating       map[int64]*invocationWorker // keyed by ExecutableCommand.ID
	unscheduledWarned map[int64]bool              // keyed by Tracker.ID, dedups across loop iterations
	cmdfileProvenance map[string][]int64           // sourcePath -> tracker ids

	phase           phase
	notifyStop      bool
	shutdownEmpty   bool // shutdownOnEmpty(): exit once Ready/Sleeping/Executing are all empty
	shutdownDrained bool // shutdown(): Ready/Sleeping already cleared, exit once Executing empties

	lastExitReason ExitReason
	lastErr        error

	wake chan struct{} // the single event variable the loop blocks on

	listener *multiListener

	loopStarted chan struct{}
	loopDone    chan struct{}
	loopOnce    sync.Once

	cmdfile *cmdfileManager
}

// New constructs a Scheduler. Callers supply the three out-of-scope
// collaborators (Device Manager, Config Factory, Invocation Engine); tests
// substitute fakes per spec.md §9's dependency-injection guidance.
func New(log *zap.Logger, clock cage_time.Clock, cfg SchedulerConfig, devices device.Manager, factory runconfig.Factory, engine invocation.Engine) *Scheduler {
	s := &Scheduler{
		log:               log.With(cage_zap.Tag("scheduler")),
		clock:             clock,
		cfg:               cfg,
		devices:           devices,
		factory:           factory,
		engine:            engine,
		trackers:          make(map[int64]*CommandTracker),
		sleeping:          make(map[int64]*ExecutableCommand),
		ready:             readyQueue{},
		executing:         make(map[int64]*invocationWorker),
		terminating:       make(map[int64]*invocationWorker),
		unscheduledWarned: make(map[int64]bool),
		cmdfileProvenance: make(map[string][]int64),
		wake:              make(chan struct{}, 1),
		listener:          newMultiListener(nil),
		loopStarted:       make(chan struct{}),
		loopDone:          make(chan struct{}),
	}
	s.listener.onPanic = func(r interface{}) {
		s.log.Error("listener callback panicked", zap.Any("recovered", r))
	}
	return s
}

// AddListener registers a Listener to receive invocation lifecycle events.
// Must be called before Start (or under the caller's own synchronization)
// to avoid a data race with the multiListener's slice.
func (s *Scheduler) AddListener(l Listener) {
	s.mu.Lock()
	s.listener.add(l)
	s.mu.Unlock()
}

// nextExecID returns a fresh ExecutableCommand identity. Safe to call
// without holding mu.
func (s *Scheduler) nextExecID() int64 {
	return s.execSeq.Inc()
}

// signalWake wakes the scheduling loop. Safe to call from any goroutine,
// including Device-Manager monitor callbacks on foreign threads, which per
// spec.md §5 must do nothing more than this.
func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// await blocks until the scheduling loop has started running.
func (s *Scheduler) await() {
	<-s.loopStarted
}

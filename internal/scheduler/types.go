// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package scheduler implements the Command Scheduler core: command
// registry and ready queue, device-matching loop, invocation worker
// supervision, and the shutdown state machine. Device discovery,
// run-config parsing, and invocation internals are out of scope and are
// consumed only through the Manager/Factory/Engine interfaces in
// internal/device, internal/runconfig, and internal/invocation.
package scheduler

import (
	"time"

	"github.com/segmentio/ksuid"

	"github.com/codeactual/cmdsched/internal/device"
	"github.com/codeactual/cmdsched/internal/runconfig"
)

// CommandTracker is the stable identity of a user-submitted command across
// repeated dispatches.
type CommandTracker struct {
	ID             int64
	Argv           []string
	SourcePath     string // empty unless submitted via addFile
	ScheduledCount int
	ExecutedTime   time.Duration
	Attributes     map[string]string
}

// ExecutableCommand is one schedulable occurrence derived from a
// CommandTracker. It lives in exactly one of Sleeping, Ready, Executing.
//
// ID is its own identity, distinct from Tracker.ID: a looping command
// produces a new ExecutableCommand per iteration while sharing the same
// Tracker, and the Sleeping/Executing/Terminating collections are keyed
// by ID so two concurrently-live iterations of the same tracker never
// collide.
type ExecutableCommand struct {
	ID          int64
	Tracker     *CommandTracker
	Config      *runconfig.Config
	Rescheduled bool
	CreatedAt   time.Time
	SleepFor    time.Duration

	// heapIndex is maintained by container/heap; not part of the public API.
	heapIndex int
}

// InvocationContext binds one ExecutableCommand to a concrete device set
// plus invocation metadata. Created at dispatch, owned by the worker,
// handed to the release map at completion.
type InvocationContext struct {
	InvocationID string
	Command      *ExecutableCommand
	Devices      []string
	Attributes   map[string]string
}

func newInvocationID() string {
	return ksuid.New().String()
}

// ReleaseEntry is the terminal per-device state computed at invocation
// completion and handed back to the Device Manager.
type ReleaseEntry struct {
	Serial string
	State  device.ReleaseState
}

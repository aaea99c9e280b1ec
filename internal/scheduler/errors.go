// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"github.com/pkg/errors"

	"github.com/codeactual/cmdsched/internal/invocation"
)

func errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

func errorsIsDeviceUnresponsive(err error) bool {
	return errors.Is(err, invocation.ErrDeviceUnresponsive)
}

func errorsIsDeviceNotAvailable(err error) bool {
	return errors.Is(err, invocation.ErrDeviceNotAvailable)
}

func isFatalHost(err error) bool {
	return errors.Is(err, invocation.ErrFatalHost)
}

func errorsAsCancelled(err error, target **invocation.Cancelled) bool {
	return errors.As(err, target)
}

// ConfigError wraps a run-config parse failure surfaced by add().
type ConfigError struct {
	Cause error
}

func (e *ConfigError) Error() string { return "config error: " + e.Cause.Error() }
func (e *ConfigError) Unwrap() error { return e.Cause }

// ShuttingDown is returned by add() once stopScheduling/shutdown has been
// called; it is logged, not treated as a bug.
var ErrShuttingDown = errors.New("scheduler is shutting down")

// ErrInvocationNotFound is returned by stopInvocation when the target id
// has no live worker -- it has either already completed or never existed.
// Resolves spec.md §9's open question in favor of a typed not-found signal
// rather than a silent success.
var ErrInvocationNotFound = errors.New("invocation not found")

// DeviceDoubleAllocation describes a runtime assertion failure: a device
// already bound to another live invocation. The dispatch preflight in
// loop.go does not return it; it frees the devices, logs, and re-queues the
// command.
type DeviceDoubleAllocation struct {
	Serial string
}

func (e *DeviceDoubleAllocation) Error() string {
	return "device double allocation: " + e.Serial
}

// SchedulingError wraps a scheduling failure such as a
// DeviceDoubleAllocation. No code path in this package constructs it; a
// double allocation found by the dispatch preflight is not surfaced to any
// caller.
type SchedulingError struct {
	Cause error
}

func (e *SchedulingError) Error() string { return "scheduling error: " + e.Cause.Error() }
func (e *SchedulingError) Unwrap() error { return e.Cause }

// ExitReason categorizes the last-exit-code recorded on the scheduler,
// per spec.md §4.4's "categorised: Unresponsive, Unavailable, FatalHost,
// ThrowableOther, NoError".
type ExitReason int

const (
	ExitNoError ExitReason = iota
	ExitDeviceUnresponsive
	ExitDeviceUnavailable
	ExitFatalHost
	ExitThrowableOther
)

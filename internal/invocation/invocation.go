// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package invocation stands in for the scheduler's Test Invocation engine
// collaborator. The internals of a test invocation are an explicit
// non-goal of the core; this package supplies just enough of a real
// implementation (run an external process per invocation) to drive the
// worker end to end.
package invocation

import (
	"context"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Sentinel causes an invocation can throw. The worker's completion phase
// inspects these with errors.Is to classify the device release map.
var (
	ErrDeviceUnresponsive = errors.New("device unresponsive")
	ErrDeviceNotAvailable = errors.New("device not available")
	ErrFatalHost          = errors.New("fatal host error")
)

// Cancelled wraps any of the above to mark that the underlying cause was an
// operator-requested cancellation rather than an organic invocation fault.
// Per spec.md §4.4, a cause carrying this marker preserves device state
// instead of downgrading it.
type Cancelled struct {
	Cause error
}

func (c *Cancelled) Error() string { return "invocation cancelled: " + c.Cause.Error() }
func (c *Cancelled) Unwrap() error { return c.Cause }

// Rescheduler is the callback a running invocation uses to enqueue a
// derived ExecutableCommand sharing its tracker (spec.md's "Rescheduler").
type Rescheduler func(argv []string) error

// Listeners is the subset of the scheduler's listener surface an invocation
// can emit standard reporting events through while it runs.
type Listeners interface {
	InvocationEvent(name string, detail string)
}

// Context is the minimal view of an InvocationContext the engine needs: the
// resolved argv (after device binding) and the allocated device serials.
type Context struct {
	InvocationID string
	Argv         []string
	Devices      []string
}

// Engine is the collaborator contract the scheduler core consumes for the
// worker's run phase.
type Engine interface {
	// Invoke runs synchronously; ctx cancellation is the worker's only
	// lever for stopping it, and the worker cancels ctx for a force-stop
	// (a notify-stop does not reach the engine; see Default.Invoke).
	Invoke(ctx context.Context, invCtx Context, reschedule Rescheduler, listeners Listeners) error

	// Interruptible reports whether the engine currently honours
	// cancellation immediately ("the allow-interrupt gate").
	Interruptible() bool
}

// Default execs the invocation's argv as an external process. Sandbox
// mechanics, retry orchestration, and report serialization are explicit
// non-goals left to argv/environment conventions the caller controls.
type Default struct {
	interruptible atomic.Bool
}

func NewDefault() *Default {
	d := &Default{}
	d.interruptible.Store(true)
	return d
}

func (d *Default) Interruptible() bool {
	return d.interruptible.Load()
}

// SetInterruptible lets a test or a long-running invocation simulate a
// window during which force-stop must fall back to the deferred-open timer.
func (d *Default) SetInterruptible(v bool) {
	d.interruptible.Store(v)
}

func (d *Default) Invoke(ctx context.Context, invCtx Context, reschedule Rescheduler, listeners Listeners) error {
	if len(invCtx.Argv) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, invCtx.Argv[0], invCtx.Argv[1:]...) // #nosec G204

	if listeners != nil {
		listeners.InvocationEvent("invocationStarted", invCtx.InvocationID)
	}

	err := cmd.Run()

	if ctx.Err() == context.Canceled {
		return &Cancelled{Cause: errors.Wrap(err, "invocation cancelled")}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return errors.Wrapf(err, "invocation exited non-zero")
		}
		return errors.Wrap(err, "failed to run invocation")
	}

	return nil
}

var _ Engine = (*Default)(nil)

// Fake is a test-only Engine that runs a caller-supplied function instead
// of spawning a process, so scheduler tests can exercise worker lifecycle
// without the filesystem or a child process.
type Fake struct {
	mu            sync.Mutex
	interruptible bool
	Fn            func(ctx context.Context, invCtx Context, reschedule Rescheduler) error
}

func NewFake(fn func(ctx context.Context, invCtx Context, reschedule Rescheduler) error) *Fake {
	return &Fake{interruptible: true, Fn: fn}
}

func (f *Fake) Interruptible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interruptible
}

func (f *Fake) SetInterruptible(v bool) {
	f.mu.Lock()
	f.interruptible = v
	f.mu.Unlock()
}

func (f *Fake) Invoke(ctx context.Context, invCtx Context, reschedule Rescheduler, listeners Listeners) error {
	if listeners != nil {
		listeners.InvocationEvent("invocationStarted", invCtx.InvocationID)
	}
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, invCtx, reschedule)
}

var _ Engine = (*Fake)(nil)

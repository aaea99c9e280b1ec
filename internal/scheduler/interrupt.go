// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	cage_time "github.com/codeactual/cmdsched/internal/cage/time"
)

// interrupter is the per-worker cancellation primitive backing force-stop
// (spec.md §9's "per-scheduler cancellation primitive with a publishable
// allow-interrupt bit and a deferred-open timer"). The invocation engine
// publishes its interruptible state via allowInterrupt; if force-stop is
// requested while the gate is closed and a grace timer is given, interruption
// is delivered unconditionally once that timer fires.
type interrupter struct {
	clock cage_time.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	fired  atomic.Bool
}

func newInterrupter(clock cage_time.Clock, cancel context.CancelFunc) *interrupter {
	return &interrupter{clock: clock, cancel: cancel}
}

// forceStop delivers cancellation immediately if allowInterrupt is true or
// grace is nil; otherwise it waits for the deferred-open timer (grace), after
// which the gate is treated as open regardless of the engine's own state.
func (in *interrupter) forceStop(allowInterrupt bool, grace cage_time.Timer) {
	if in.fired.Swap(true) {
		return
	}

	if allowInterrupt || grace == nil {
		in.mu.Lock()
		if in.cancel != nil {
			in.cancel()
		}
		in.mu.Unlock()
		return
	}

	go func() {
		<-grace.C()
		in.mu.Lock()
		if in.cancel != nil {
			in.cancel()
		}
		in.mu.Unlock()
	}()
}

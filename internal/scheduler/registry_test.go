// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeactual/cmdsched/internal/device"
	"github.com/codeactual/cmdsched/internal/invocation"
	"github.com/codeactual/cmdsched/internal/runconfig"
	"github.com/codeactual/cmdsched/internal/scheduler"

	cage_time "github.com/codeactual/cmdsched/internal/cage/time"
	"github.com/codeactual/cmdsched/internal/cage/testkit"
)

func blockingScheduler(t *testing.T) (*scheduler.Scheduler, chan struct{}) {
	t.Helper()

	devices := device.NewInMemory()
	factory := runconfig.NewDefault()
	release := make(chan struct{})
	engine := invocation.NewFake(func(ctx context.Context, invCtx invocation.Context, reschedule invocation.Rescheduler) error {
		<-release
		return nil
	})

	cfg := scheduler.DefaultSchedulerConfig()
	cfg.MaxPollInterval = 20 * time.Millisecond
	s := scheduler.New(testkit.NewZapLogger(), cage_time.RealClock{}, cfg, devices, factory, engine)
	return s, release
}

// Property 3, Ready/Sleeping half: after RemoveAll, Ready/Sleeping are empty.
// The loop is not started here, so nothing is executing.
func TestRemoveAllEmptiesReadyAndSleeping(t *testing.T) {
	s, release := blockingScheduler(t)
	defer close(release)

	_, _, err := s.Add([]string{"cfg-no-device"}, "")
	testkit.FatalErrf(t, err, "Add")

	s.RemoveAll()
	require.Equal(t, 0, s.Remove(func(*scheduler.CommandTracker) bool { return true }))
}

// Property 8: two consecutive RemoveAll calls are indistinguishable from one.
func TestRemoveAllIdempotent(t *testing.T) {
	s, release := blockingScheduler(t)
	defer close(release)

	_, _, err := s.Add([]string{"cfg-1"}, "")
	testkit.FatalErrf(t, err, "Add")

	s.RemoveAll()
	s.RemoveAll() // must not panic or double-count

	require.Equal(t, 0, s.Remove(func(*scheduler.CommandTracker) bool { return true }))
}

func TestAddRejectedAfterStopScheduling(t *testing.T) {
	s, release := blockingScheduler(t)
	defer close(release)

	s.StopScheduling()

	_, _, err := s.Add([]string{"cfg-1"}, "")
	require.True(t, errors.Is(err, scheduler.ErrShuttingDown))
}

func TestStopInvocationNotFound(t *testing.T) {
	s, release := blockingScheduler(t)
	defer close(release)

	err := s.StopInvocation(999, "no-such-invocation", false)
	require.True(t, errors.Is(err, scheduler.ErrInvocationNotFound))
}

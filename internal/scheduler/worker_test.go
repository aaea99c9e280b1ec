// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler_test

import (
	"context"
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

// S4 -- invocation timeout: worker is force-stopped once the timeout fires,
// and the loop continues serving other commands.
func TestInvocationTimeoutForcesStop(t *testing.T) {
	devices := device.NewInMemory()
	devices.Add("D1", false)

	factory := runconfig.NewDefault()
	engine := invocation.NewFake(func(ctx context.Context, invCtx invocation.Context, reschedule invocation.Rescheduler) error {
		<-ctx.Done()
		return &invocation.Cancelled{Cause: ctx.Err()}
	})

	cfg := scheduler.DefaultSchedulerConfig()
	cfg.MaxPollInterval = 20 * time.Millisecond
	s := scheduler.New(testkit.NewZapLogger(), cage_time.RealClock{}, cfg, devices, factory, engine)

	go s.Start()
	s.Await()

	_, _, err := s.Add([]string{"cfg-slow", "--timeout", "100ms"}, "")
	testkit.FatalErrf(t, err, "Add")

	s.ShutdownOnEmpty()
	require.True(t, s.Join(3*time.Second))

	snap := s.Stats.Snapshot()
	require.Equal(t, int64(1), snap.TimedOut)
}

// S6 -- hard shutdown interrupts in-progress invocations and the loop exits
// regardless of whether they finished cleanly.
func TestShutdownHardInterrupts(t *testing.T) {
	devices := device.NewInMemory()
	devices.Add("D1", false)
	devices.Add("D2", false)

	factory := runconfig.NewDefault()
	started := make(chan struct{}, 2)
	engine := invocation.NewFake(func(ctx context.Context, invCtx invocation.Context, reschedule invocation.Rescheduler) error {
		started <- struct{}{}
		<-ctx.Done()
		return &invocation.Cancelled{Cause: ctx.Err()}
	})

	cfg := scheduler.DefaultSchedulerConfig()
	cfg.MaxPollInterval = 20 * time.Millisecond
	s := scheduler.New(testkit.NewZapLogger(), cage_time.RealClock{}, cfg, devices, factory, engine)

	go s.Start()
	s.Await()

	_, _, err := s.Add([]string{"cfg-1"}, "")
	testkit.FatalErrf(t, err, "Add")
	_, _, err = s.Add([]string{"cfg-2"}, "")
	testkit.FatalErrf(t, err, "Add")

	<-started
	<-started

	s.ShutdownHard(true)
	require.True(t, s.Join(3*time.Second))
}

// Devices released from a cancelled invocation preserve their prior state
// rather than being downgraded, per spec.md §4.4's release-map rule.
func TestCancelledReleasePreservesDeviceState(t *testing.T) {
	devices := device.NewInMemory()
	devices.Add("D1", false)

	factory := runconfig.NewDefault()
	engine := invocation.NewFake(func(ctx context.Context, invCtx invocation.Context, reschedule invocation.Rescheduler) error {
		<-ctx.Done()
		return &invocation.Cancelled{Cause: ctx.Err()}
	})

	cfg := scheduler.DefaultSchedulerConfig()
	cfg.MaxPollInterval = 20 * time.Millisecond
	s := scheduler.New(testkit.NewZapLogger(), cage_time.RealClock{}, cfg, devices, factory, engine)

	go s.Start()
	s.Await()

	_, _, err := s.Add([]string{"cfg-1"}, "")
	testkit.FatalErrf(t, err, "Add")

	time.Sleep(80 * time.Millisecond)
	s.ShutdownHard(false)
	require.True(t, s.Join(3*time.Second))

	all := devices.ListAllDevices()
	require.Len(t, all, 1)
	require.Equal(t, device.Available, all[0].State)
}

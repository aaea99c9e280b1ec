// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package invocation_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/codeactual/cmdsched/internal/invocation"
)

func TestDefaultInvokeSuccess(t *testing.T) {
	e := invocation.NewDefault()
	err := e.Invoke(context.Background(), invocation.Context{Argv: []string{"true"}}, nil, nil)
	require.NoError(t, err)
}

func TestDefaultInvokeNonZeroExit(t *testing.T) {
	e := invocation.NewDefault()
	err := e.Invoke(context.Background(), invocation.Context{Argv: []string{"false"}}, nil, nil)
	require.Error(t, err)
}

func TestDefaultInvokeCancelled(t *testing.T) {
	e := invocation.NewDefault()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Invoke(ctx, invocation.Context{Argv: []string{"sleep", "5"}}, nil, nil)
	require.Error(t, err)

	var cancelled *invocation.Cancelled
	require.True(t, errors.As(err, &cancelled))
}

func TestFakeInvokeRunsFn(t *testing.T) {
	called := false
	e := invocation.NewFake(func(ctx context.Context, invCtx invocation.Context, reschedule invocation.Rescheduler) error {
		called = true
		return nil
	})

	err := e.Invoke(context.Background(), invocation.Context{}, nil, nil)
	require.NoError(t, err)
	require.True(t, called)
}

func TestFakeInterruptibleToggle(t *testing.T) {
	e := invocation.NewFake(nil)
	require.True(t, e.Interruptible())
	e.SetInterruptible(false)
	require.False(t, e.Interruptible())
}

func TestCancelledUnwrap(t *testing.T) {
	c := &invocation.Cancelled{Cause: invocation.ErrDeviceUnresponsive}
	require.True(t, errors.Is(c, invocation.ErrDeviceUnresponsive))
}

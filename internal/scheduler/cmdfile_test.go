// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler_test

import (
	"context"
	"os"
	"path/filepath"
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

func TestAddFileParsesOneArgvPerLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "commands.txt")
	content := "cfg-A --device D1\n# a comment\n\ncfg-B --device D2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

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

	ids, err := s.AddFile(path, nil)
	testkit.FatalErrf(t, err, "AddFile")
	require.Len(t, ids, 2)

	close(release)
}

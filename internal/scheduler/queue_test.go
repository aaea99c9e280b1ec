// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadyQueuePriorityOrder(t *testing.T) {
	q := readyQueue{}

	a := &ExecutableCommand{Tracker: &CommandTracker{ID: 1, ExecutedTime: 5 * time.Second}}
	b := &ExecutableCommand{Tracker: &CommandTracker{ID: 2, ExecutedTime: 1 * time.Second}}
	c := &ExecutableCommand{Tracker: &CommandTracker{ID: 3, ExecutedTime: 1 * time.Second}}

	q.push(a)
	q.push(b)
	q.push(c)

	sorted := q.sorted()
	require.Len(t, sorted, 3)
	require.Equal(t, int64(2), sorted[0].Tracker.ID) // b: lowest ExecutedTime, lowest id tiebreak
	require.Equal(t, int64(3), sorted[1].Tracker.ID) // c: same ExecutedTime as b, higher id
	require.Equal(t, int64(1), sorted[2].Tracker.ID) // a: highest ExecutedTime
}

func TestReadyQueueRemove(t *testing.T) {
	q := readyQueue{}
	a := &ExecutableCommand{Tracker: &CommandTracker{ID: 1}}
	b := &ExecutableCommand{Tracker: &CommandTracker{ID: 2}}
	q.push(a)
	q.push(b)

	q.remove(a)
	require.Len(t, q, 1)
	require.Equal(t, int64(2), q[0].Tracker.ID)

	// Removing something no longer present is a no-op.
	q.remove(a)
	require.Len(t, q, 1)
}

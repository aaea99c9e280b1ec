// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import "container/heap"

// readyQueue orders ExecutableCommands by ascending tracker.ExecutedTime,
// id as tiebreaker -- spec.md §3's Ready queue ordering. It is not
// goroutine-safe on its own; callers hold the scheduler lock.
type readyQueue []*ExecutableCommand

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	a, b := q[i].Tracker, q[j].Tracker
	if a.ExecutedTime != b.ExecutedTime {
		return a.ExecutedTime < b.ExecutedTime
	}
	return a.ID < b.ID
}

func (q readyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *readyQueue) Push(x interface{}) {
	ec := x.(*ExecutableCommand)
	ec.heapIndex = len(*q)
	*q = append(*q, ec)
}

func (q *readyQueue) Pop() interface{} {
	old := *q
	n := len(old)
	ec := old[n-1]
	old[n-1] = nil
	ec.heapIndex = -1
	*q = old[:n-1]
	return ec
}

func (q *readyQueue) push(ec *ExecutableCommand) {
	heap.Push(q, ec)
}

// remove removes ec from the queue if present; no-op otherwise.
func (q *readyQueue) remove(ec *ExecutableCommand) {
	if ec.heapIndex < 0 || ec.heapIndex >= len(*q) || (*q)[ec.heapIndex] != ec {
		return
	}
	heap.Remove(q, ec.heapIndex)
}

// sorted returns the queue contents in priority order without mutating it,
// used by the scheduling loop's match step which walks Ready in order but
// must be able to re-queue commands it could not dispatch.
func (q readyQueue) sorted() []*ExecutableCommand {
	out := make([]*ExecutableCommand, len(q))
	copy(out, q)
	// q is already heap-ordered for Pop, but Pop order (priority order) is
	// easiest to obtain by copying and draining a scratch heap.
	scratch := make(readyQueue, len(q))
	copy(scratch, q)
	for i := range scratch {
		scratch[i].heapIndex = i
	}
	heap.Init(&scratch)
	for i := range out {
		out[i] = heap.Pop(&scratch).(*ExecutableCommand)
	}

	// Popping from scratch mutated the shared *ExecutableCommand values'
	// heapIndex fields (they're pointers, not copies); restore them to
	// match q's own, untouched element order before returning.
	for i, ec := range q {
		ec.heapIndex = i
	}

	return out
}

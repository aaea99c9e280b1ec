// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

// Listener is the scheduler's single composition interface for the "deep
// listener hierarchies and a listener that forwards to others" pattern
// (spec.md §9): one interface, default no-ops via BaseListener, composed
// explicitly with multiListener.
type Listener interface {
	InvocationInitiated(ctx *InvocationContext)
	InvocationComplete(ctx *InvocationContext, release []ReleaseEntry)
	InvocationEvent(name string, detail string)
}

// BaseListener supplies no-op implementations so callers can embed it and
// override only the callbacks they care about.
type BaseListener struct{}

func (BaseListener) InvocationInitiated(ctx *InvocationContext)                  {}
func (BaseListener) InvocationComplete(ctx *InvocationContext, r []ReleaseEntry) {}
func (BaseListener) InvocationEvent(name string, detail string)                  {}

var _ Listener = BaseListener{}

// multiListener fans a call out to every registered Listener. A panicking
// or erroring listener never aborts the worker; per spec.md §4.4 and §7,
// listener callbacks are logged and swallowed, never propagated.
type multiListener struct {
	listeners []Listener
	onPanic   func(recovered interface{})
}

func newMultiListener(onPanic func(interface{})) *multiListener {
	return &multiListener{onPanic: onPanic}
}

func (m *multiListener) add(l Listener) {
	m.listeners = append(m.listeners, l)
}

func (m *multiListener) InvocationInitiated(ctx *InvocationContext) {
	for _, l := range m.listeners {
		m.safe(func() { l.InvocationInitiated(ctx) })
	}
}

func (m *multiListener) InvocationComplete(ctx *InvocationContext, release []ReleaseEntry) {
	for _, l := range m.listeners {
		m.safe(func() { l.InvocationComplete(ctx, release) })
	}
}

func (m *multiListener) InvocationEvent(name string, detail string) {
	for _, l := range m.listeners {
		m.safe(func() { l.InvocationEvent(name, detail) })
	}
}

func (m *multiListener) safe(fn func()) {
	defer func() {
		if r := recover(); r != nil && m.onPanic != nil {
			m.onPanic(r)
		}
	}()
	fn()
}

var _ Listener = (*multiListener)(nil)

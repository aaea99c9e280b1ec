// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package monitor is a terminal dashboard that subscribes to the
// scheduler's listener feed and renders live invocation activity. It is
// an external adapter, not part of the scheduler core: removing it
// entirely would not change core semantics.
package monitor

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell"
	"github.com/pkg/errors"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/codeactual/cmdsched/internal/scheduler"

	cage_time "github.com/codeactual/cmdsched/internal/cage/time"
	tp_runes "github.com/codeactual/cmdsched/internal/third_party/stackexchange/runes"
)

// RowMaxLen is the static row count of the invocation list.
const RowMaxLen = 9

// row is one entry in the invocation list: either still running or
// completed with a release summary.
type row struct {
	CommandID    int64
	InvocationID string
	Argv         []string
	Running      bool
	StartTime    time.Time
	EndTime      time.Time
	ReleaseSumm  string
}

// listItemWidget is a single-row header+body pair, the same shape as the
// boone UI's list item widget.
type listItemWidget struct {
	Container *tview.Flex
	Header    *tview.TextView
	Body      *tview.TextView
}

func newListItemWidget() *listItemWidget {
	w := &listItemWidget{}
	w.Container = tview.NewFlex()
	w.Container.SetDirection(tview.FlexRow)
	w.Container.SetBorderPadding(1, 1, 1, 1)

	w.Header = tview.NewTextView()
	w.Header.SetWrap(true)
	w.Header.SetDynamicColors(true)

	w.Body = tview.NewTextView()
	w.Body.SetWrap(true)
	w.Body.SetDynamicColors(true)

	w.Container.AddItem(w.Header, 1, 0, false)
	w.Container.AddItem(w.Body, 0, 1, false)

	return w
}

// Dashboard implements scheduler.Listener and renders, in the terminal, the
// most recent invocations (running or done) plus the scheduler's Stats
// counters, adapted from the teacher's status-list/detail-list TUI. It does
// not show Ready/Sleeping/Executing counts.
type Dashboard struct {
	scheduler.BaseListener

	log *zap.Logger
	app *tview.Application

	listWidget *tview.Flex
	itemWidget [RowMaxLen]*listItemWidget

	events  chan func()
	exitCh  chan struct{}
	rows    []row
	statsFn func() scheduler.StatsSnapshot
}

// NewDashboard returns a Dashboard. statsFn is polled once per render tick
// to show aggregate counters alongside the per-invocation rows.
func NewDashboard(log *zap.Logger, statsFn func() scheduler.StatsSnapshot) *Dashboard {
	return &Dashboard{
		log:     log,
		events:  make(chan func(), 64),
		exitCh:  make(chan struct{}, 1),
		statsFn: statsFn,
	}
}

// ExitCh signals when the dashboard was closed via keyboard shortcut.
func (d *Dashboard) ExitCh() <-chan struct{} {
	return d.exitCh
}

// Init builds the widget tree. Must be called before Start.
func (d *Dashboard) Init() {
	d.listWidget = tview.NewFlex()
	d.listWidget.SetDirection(tview.FlexRow)
	for pos := 0; pos < RowMaxLen; pos++ {
		d.itemWidget[pos] = newListItemWidget()
		d.listWidget.AddItem(d.itemWidget[pos].Container, 0, 1, false)
	}
	d.listWidget.SetFullScreen(true)

	d.app = tview.NewApplication().SetInputCapture(d.inputCapture)
	d.app.SetRoot(d.listWidget, true)
}

// Start runs the render loop; it blocks until the dashboard exits.
func (d *Dashboard) Start() error {
	go d.maintain()

	defer d.app.Stop()

	go func() {
		d.render()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			d.render()
		}
	}()

	if err := d.app.Run(); err != nil {
		return errors.Wrap(err, "failed to run monitor dashboard")
	}
	return nil
}

func (d *Dashboard) Stop() {
	d.app.Stop()
}

// InvocationInitiated implements scheduler.Listener.
func (d *Dashboard) InvocationInitiated(ctx *scheduler.InvocationContext) {
	d.events <- func() {
		r := row{
			CommandID:    ctx.Command.Tracker.ID,
			InvocationID: ctx.InvocationID,
			Argv:         ctx.Command.Tracker.Argv,
			Running:      true,
			StartTime:    time.Now(),
		}
		d.rows = append([]row{r}, d.rows...)
		if len(d.rows) > RowMaxLen {
			d.rows = d.rows[:RowMaxLen]
		}
	}
}

// InvocationComplete implements scheduler.Listener.
func (d *Dashboard) InvocationComplete(ctx *scheduler.InvocationContext, release []scheduler.ReleaseEntry) {
	d.events <- func() {
		summ := ""
		for _, r := range release {
			summ += fmt.Sprintf(" %s=%d", r.Serial, r.State)
		}
		for i := range d.rows {
			if d.rows[i].InvocationID == ctx.InvocationID {
				d.rows[i].Running = false
				d.rows[i].EndTime = time.Now()
				d.rows[i].ReleaseSumm = summ
				break
			}
		}
	}
}

func (d *Dashboard) maintain() {
	for fn := range d.events {
		fn()
		d.render()
	}
}

func (d *Dashboard) render() {
	if d.app == nil {
		return
	}
	d.app.QueueUpdateDraw(func() {
		var stats scheduler.StatsSnapshot
		if d.statsFn != nil {
			stats = d.statsFn()
		}

		for pos := 0; pos < RowMaxLen; pos++ {
			if pos >= len(d.rows) {
				d.itemWidget[pos].Header.SetText("")
				d.itemWidget[pos].Body.SetText("")
				continue
			}

			r := d.rows[pos]
			if r.Running {
				age := cage_time.DurationShort(time.Since(r.StartTime))
				d.itemWidget[pos].Header.SetText(fmt.Sprintf(
					"[darkgray]%d) [yellow]running[white] | id=%d | %s ago",
					pos+1, r.CommandID, age,
				))
			} else {
				runLen := cage_time.DurationShort(r.EndTime.Sub(r.StartTime))
				d.itemWidget[pos].Header.SetText(fmt.Sprintf(
					"[darkgray]%d) [green]done[white] | id=%d | took %s | release:%s",
					pos+1, r.CommandID, runLen, r.ReleaseSumm,
				))
			}
			d.itemWidget[pos].Body.SetText(fmt.Sprintf("%v", r.Argv))
		}

		d.app.SetTitle(fmt.Sprintf(
			"dispatched=%d completed=%d failed=%d timed_out=%d force_stop=%d",
			stats.Dispatched, stats.Completed, stats.Failed, stats.TimedOut, stats.ForceStop,
		))
	})
}

func (d *Dashboard) inputCapture(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyCtrlC || event.Rune() == 'q' {
		d.exitCh <- struct{}{}
		return &tcell.EventKey{}
	}

	if pos, err := tp_runes.ToInt(event.Rune()); err == nil && pos > 0 && pos-1 < len(d.rows) {
		d.itemWidget[pos-1].Body.ScrollToEnd()
	}

	return event
}

var _ scheduler.Listener = (*Dashboard)(nil)

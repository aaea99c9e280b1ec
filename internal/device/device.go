// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package device stands in for the scheduler's Device Manager collaborator:
// device discovery, allocation, and health are explicitly out of scope for
// the scheduler core, so this package exists only to give the core a real,
// runnable counterpart to dependency-inject and drive end to end.
package device

import (
	"sync"

	"github.com/bmatcuk/doublestar"
	"github.com/pkg/errors"

	tp_sync "github.com/codeactual/cmdsched/internal/third_party/github.com/sync"
)

// State is one of a device's externally observed states.
type State int

const (
	Available State = iota
	Allocated
	Unavailable
	Unresponsive
)

func (s State) String() string {
	switch s {
	case Available:
		return "Available"
	case Allocated:
		return "Allocated"
	case Unavailable:
		return "Unavailable"
	case Unresponsive:
		return "Unresponsive"
	default:
		return "Unknown"
	}
}

// Descriptor is a read-only snapshot of one device as reported to the scheduler.
type Descriptor struct {
	Serial string
	State  State
	Stub   bool // a placeholder/stub device, always treated as Available on release
}

// Requirements describes what a command needs from an allocated device.
// Pattern is matched against device serials with doublestar, so a command can
// request e.g. "emulator-*" or pin an exact serial.
type Requirements struct {
	Pattern string
	IsFake  bool
}

// ReleaseState is the terminal state a worker hands back for one device at
// invocation completion.
type ReleaseState int

const (
	ReleaseAvailable ReleaseState = iota
	ReleaseUnavailable
	ReleaseUnresponsive
)

// Monitor is invoked on a foreign goroutine whenever device health changes.
// Implementations must do nothing more than signal interest back to the
// caller; they must never touch scheduler state directly (spec's
// "monitor callbacks execute on foreign threads" rule).
type Monitor func(serial string, state State)

// Manager is the collaborator contract the scheduler core consumes. It is
// intentionally narrow: allocation policy, discovery transport, and health
// probing are out of scope and live entirely inside implementations.
type Manager interface {
	Allocate(req Requirements) (*Descriptor, error)
	Free(serial string, release ReleaseState)
	ListAllDevices() []Descriptor
	AddDeviceMonitor(m Monitor)
	Terminate() error
	TerminateHard(reason string) error
	WaitForFirstDeviceAdded(timeout int) bool

	// BatteryLevel reports a device's current charge percentage. ok is
	// false if the device is unknown or its level has never been probed;
	// the scheduler's battery policy treats that as "healthy" rather than
	// forcing a stop on missing data.
	BatteryLevel(serial string) (level int, ok bool)
}

// ErrNoMatchableDevice is returned by Allocate when no device currently
// satisfies the requirements. It is not treated as an error by the
// scheduler loop -- the command simply stays in Ready.
var ErrNoMatchableDevice = errors.New("no matchable device")

// InMemory is the default Manager: an in-process device pool, useful both in
// tests and as the scheduler's default runtime backend when no external
// device-discovery transport is configured.
type InMemory struct {
	mu       sync.Mutex
	devices  map[string]*Descriptor
	battery  map[string]int // serial -> charge percent, absent until probed/set
	monitors *tp_sync.Slice // holds Monitor values; its own lock is independent of mu
	seen     bool
}

func NewInMemory() *InMemory {
	return &InMemory{
		devices:  make(map[string]*Descriptor),
		battery:  make(map[string]int),
		monitors: tp_sync.NewSlice(),
	}
}

// Add registers a device as Available. Used by callers (tests, a discovery
// adapter) to populate the pool; not part of the Manager interface because
// the scheduler never adds devices itself. The device's battery level
// starts unprobed; set it with SetBatteryLevel.
func (m *InMemory) Add(serial string, stub bool) {
	m.mu.Lock()
	m.devices[serial] = &Descriptor{Serial: serial, State: Available, Stub: stub}
	m.seen = true
	m.mu.Unlock()
	m.notify(serial, Available)
}

// SetBatteryLevel records a device's charge percentage, as a real health
// probe would after polling hardware. Used by callers (tests, a discovery
// adapter) to simulate or report battery state; not part of the Manager
// interface since the scheduler only ever reads it via BatteryLevel.
func (m *InMemory) SetBatteryLevel(serial string, pct int) {
	m.mu.Lock()
	m.battery[serial] = pct
	m.mu.Unlock()
}

func (m *InMemory) BatteryLevel(serial string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.battery[serial]
	return level, ok
}

func (m *InMemory) Allocate(req Requirements) (*Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for serial, d := range m.devices {
		if d.State != Available {
			continue
		}
		matched, err := doublestar.Match(req.Pattern, serial)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to match device pattern [%s] against [%s]", req.Pattern, serial)
		}
		if req.Pattern == "" || matched {
			d.State = Allocated
			out := *d
			return &out, nil
		}
	}

	return nil, ErrNoMatchableDevice
}

func (m *InMemory) Free(serial string, release ReleaseState) {
	m.mu.Lock()
	d, ok := m.devices[serial]
	if !ok {
		m.mu.Unlock()
		return
	}
	if d.Stub {
		d.State = Available
	} else {
		switch release {
		case ReleaseUnavailable:
			d.State = Unavailable
		case ReleaseUnresponsive:
			d.State = Unresponsive
		default:
			d.State = Available
		}
	}
	state := d.State
	m.mu.Unlock()
	m.notify(serial, state)
}

func (m *InMemory) ListAllDevices() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Descriptor, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d)
	}
	return out
}

func (m *InMemory) AddDeviceMonitor(mon Monitor) {
	m.monitors.Append(mon)
}

func (m *InMemory) notify(serial string, state State) {
	for item := range m.monitors.Iter() {
		item.Value.(Monitor)(serial, state)
	}
}

func (m *InMemory) Terminate() error {
	return nil
}

func (m *InMemory) TerminateHard(reason string) error {
	return nil
}

func (m *InMemory) WaitForFirstDeviceAdded(timeout int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen
}

var _ Manager = (*InMemory)(nil)

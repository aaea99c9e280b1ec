// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

// StopInvocation requests cancellation of every live invocation for tracker
// id (a looping command can have more than one concurrently executing
// iteration). force selects notify-stop vs. force-stop; a notify-stop only
// records the cause on each matched worker and does not end the invocation
// (see invocationWorker.stopInvocation). Returns ErrInvocationNotFound if no
// live worker matches id.
func (s *Scheduler) StopInvocation(id int64, cause string, force bool) error {
	s.mu.Lock()
	var matched []*invocationWorker
	for _, w := range s.executing {
		if w.ec.Tracker.ID == id {
			matched = append(matched, w)
		}
	}
	s.mu.Unlock()

	if len(matched) == 0 {
		return ErrInvocationNotFound
	}

	for _, w := range matched {
		w.stopInvocation(cause, force, nil)
	}
	return nil
}

// ExecCommand synchronously executes argv bypassing the queue, using
// preallocated devices if given, and returns the invocation id. This is
// the "direct execution" inbound operation from spec.md §6.
func (s *Scheduler) ExecCommand(l Listener, preallocated []string, argv []string) (invocationID string, err error) {
	cfg, cfgErr := s.factory.CreateConfig(argv)
	if cfgErr != nil {
		return "", &ConfigError{Cause: cfgErr}
	}

	s.mu.Lock()
	s.nextID++
	tracker := &CommandTracker{ID: s.nextID, Argv: append([]string{}, argv...), Attributes: cfg.Attributes()}
	s.mu.Unlock()

	ec := &ExecutableCommand{ID: s.nextExecID(), Tracker: tracker, Config: cfg, CreatedAt: s.clock.Now()}

	devices := preallocated
	if len(devices) == 0 {
		desc, allocErr := s.devices.Allocate(requirementsFor(cfg))
		if allocErr != nil {
			return "", allocErr
		}
		devices = []string{desc.Serial}
	}

	worker := newInvocationWorker(s, ec, devices)
	if l != nil {
		worker.listener = l
	}

	s.mu.Lock()
	s.executing[ec.ID] = worker
	s.mu.Unlock()

	s.Stats.Dispatched.Inc()
	worker.run()

	return worker.invCtx.InvocationID, nil
}

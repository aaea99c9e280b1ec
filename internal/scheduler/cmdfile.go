// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"bufio"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/pkg/errors"

	cage_shell "github.com/codeactual/cmdsched/internal/cage/shell"
	watcher "github.com/codeactual/cmdsched/internal/cage/os/file/watcher"
)

// cmdfileManager implements the batch-file side of the Command Registry
// (spec.md §4.1's addFile): a minimal, explicitly non-grammar line-oriented
// cmdfile parser (one argv per line, shell-quoted), plus reload-on-change
// via fsnotify and content-hash dedup so an editor's save-via-tempfile
// dance doesn't trigger a redundant remove+re-add cycle.
type cmdfileManager struct {
	scheduler *Scheduler
	watcher   watcher.Watcher

	mu        sync.Mutex
	hashes    map[string][32]byte
	extraArgs map[string][]string
}

func newCmdfileManager(s *Scheduler) *cmdfileManager {
	return &cmdfileManager{
		scheduler: s,
		watcher:   &watcher.Fsnotify{},
		hashes:    make(map[string][32]byte),
		extraArgs: make(map[string][]string),
	}
}

// AddFile parses path line-by-line into argv slices (each appended with
// extraArgs), funnels each through Add, and begins watching path for
// content changes so a reload re-adds atomically.
func (c *cmdfileManager) AddFile(path string, extraArgs []string) (ids []int64, err error) {
	content, readErr := os.ReadFile(path) // #nosec G304
	if readErr != nil {
		return nil, errors.Wrapf(readErr, "failed to read cmdfile [%s]", path)
	}

	c.mu.Lock()
	c.extraArgs[path] = append([]string{}, extraArgs...)
	c.hashes[path] = blake2b.Sum256(content)
	c.mu.Unlock()

	ids, err = c.parseAndAdd(path, content, extraArgs)
	if err != nil {
		return ids, err
	}

	c.watcher.Debounce(200 * time.Millisecond)
	if addErr := c.watcher.AddSubscriber(c); addErr != nil {
		return ids, errors.Wrap(addErr, "failed to subscribe to cmdfile watcher")
	}
	if addErr := c.watcher.AddPath(path); addErr != nil {
		return ids, errors.Wrapf(addErr, "failed to watch cmdfile [%s]", path)
	}

	return ids, nil
}

func (c *cmdfileManager) parseAndAdd(path string, content []byte, extraArgs []string) (ids []int64, err error) {
	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		stages, parseErr := cage_shell.Parse(line)
		if parseErr != nil {
			return ids, errors.Wrapf(parseErr, "failed to parse cmdfile line [%s]", line)
		}
		if len(stages) == 0 {
			continue
		}

		argv := append(append([]string{}, stages[0]...), extraArgs...)
		_, id, addErr := c.scheduler.Add(argv, path)
		if addErr != nil {
			return ids, errors.Wrapf(addErr, "failed to add command from cmdfile [%s]", path)
		}
		ids = append(ids, id)
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return ids, errors.Wrapf(scanErr, "failed to scan cmdfile [%s]", path)
	}
	return ids, nil
}

// reload re-adds every command sourced from path: removes all commands
// whose tracker.SourcePath matches, then re-parses and re-adds, per
// spec.md §4.1's "remove all commands whose sourcePath matches the file,
// then re-add" contract.
func (c *cmdfileManager) reload(path string) {
	content, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		c.scheduler.log.Warn("cmdfile reload failed to read file, ignoring", zap.String("path", path), zap.Error(err))
		return
	}

	sum := blake2b.Sum256(content)

	c.mu.Lock()
	unchanged := c.hashes[path] == sum
	c.hashes[path] = sum
	extraArgs := c.extraArgs[path]
	c.mu.Unlock()

	if unchanged {
		return
	}

	c.scheduler.Remove(func(t *CommandTracker) bool { return t.SourcePath == path })

	if _, err := c.parseAndAdd(path, content, extraArgs); err != nil {
		// A reload failure during a shutdownOnEmpty drain is logged and
		// ignored rather than aborting the drain (spec.md §9 open question,
		// resolved in SPEC_FULL.md).
		c.scheduler.log.Error("cmdfile reload failed, keeping prior commands removed", zap.String("path", path), zap.Error(err))
	}
}

// Event implements watcher.Subscriber.
func (c *cmdfileManager) Event(e watcher.Event) {
	if e.Op == watcher.Write || e.Op == watcher.Create {
		c.reload(e.Path)
	}
}

// Error implements watcher.Subscriber.
func (c *cmdfileManager) Error(err error) {
	c.scheduler.log.Error("cmdfile watcher error", zap.Error(err))
}

// AddFile is the scheduler's public entry point for batch command files.
func (s *Scheduler) AddFile(path string, extraArgs []string) ([]int64, error) {
	s.mu.Lock()
	if s.cmdfile == nil {
		s.cmdfile = newCmdfileManager(s)
	}
	cf := s.cmdfile
	s.mu.Unlock()

	return cf.AddFile(path, extraArgs)
}

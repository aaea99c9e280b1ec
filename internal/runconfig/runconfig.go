// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package runconfig stands in for the scheduler's Config Factory
// collaborator: parsing an argument vector into a structured run-config is
// explicitly out of scope for the core (it owns no argv grammar), but the
// core still needs something concrete to dependency-inject.
package runconfig

import (
	"strconv"
	"time"

	"github.com/fatih/structs"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the opaque-to-the-scheduler payload spec.md calls RunConfig.
// Its exported fields are what get flattened into an InvocationContext's
// attribute map (unless Sandboxed) via fatih/structs.
type Config struct {
	DevicePattern string

	Loop          bool
	LoopDelay     time.Duration
	MaxLoopCount  int
	Timeout       time.Duration
	ShardCount    int
	ShardIndex    int
	DryRun        bool
	Help          bool
	Sandboxed     bool
	BatteryCutoff map[string]int // device serial -> minimum charge percent

	ExperimentalFlags []string
}

// Attributes flattens the exported fields into a string map, suitable for
// copying onto an InvocationContext; BatteryCutoff and ExperimentalFlags are
// left out. Sandboxed configs return an empty map,
// matching the worker Init-phase rule "unless the config is sandboxed".
func (c *Config) Attributes() map[string]string {
	out := make(map[string]string)
	if c.Sandboxed {
		return out
	}
	for k, v := range structs.Map(c) {
		switch k {
		case "BatteryCutoff", "ExperimentalFlags":
			continue
		default:
			out[k] = toString(v)
		}
	}
	return out
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case time.Duration:
		return t.String()
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

// ErrConfig is returned when an argv cannot be parsed into a Config. The
// scheduler surfaces this to the add() caller and never enqueues the command.
var ErrConfig = errors.New("failed to parse run config")

// Factory is the collaborator contract the scheduler core consumes for
// command-registry add() calls.
type Factory interface {
	CreateConfig(argv []string) (*Config, error)
	CreateSandboxConfig(argv []string) (*Config, error)
	CreateRetryConfig(argv []string, attempt int) (*Config, error)
	CreateProxyConfig(argv []string, proxyFor string) (*Config, error)
}

// Default is a flag-based Factory: each argv is parsed with a dedicated
// pflag.FlagSet, mirroring how a real test harness would expose per-run
// knobs (loop mode, timeout, sharding, battery cutoffs) on the command line.
type Default struct{}

func NewDefault() *Default {
	return &Default{}
}

func (f *Default) CreateConfig(argv []string) (*Config, error) {
	fs := pflag.NewFlagSet("runconfig", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	cfg := &Config{BatteryCutoff: map[string]int{}}

	fs.StringVar(&cfg.DevicePattern, "device", "*", "device serial glob pattern")
	fs.BoolVar(&cfg.Loop, "loop", false, "re-enqueue after each completion")
	fs.DurationVar(&cfg.LoopDelay, "loop-delay", 0, "delay before each loop re-enqueue")
	fs.IntVar(&cfg.MaxLoopCount, "loop-max", 1, "maximum loop dispatch count")
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "invocation timeout, 0 disables")
	fs.IntVar(&cfg.ShardCount, "shard-count", 1, "total shard count")
	fs.IntVar(&cfg.ShardIndex, "shard-index", 0, "this invocation's shard index")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "validate only, no invocation")
	fs.BoolVar(&cfg.Help, "help", false, "validate only, no invocation")
	fs.StringSliceVar(&cfg.ExperimentalFlags, "experimental", nil, "experimental flag injections")
	fs.StringToIntVar(&cfg.BatteryCutoff, "battery-cutoff", map[string]int{}, "device serial=minimum charge percent pairs")

	if err := fs.Parse(argv); err != nil {
		return nil, errors.Wrapf(ErrConfig, "%s", err)
	}

	if cfg.MaxLoopCount < 1 {
		cfg.MaxLoopCount = 1
	}

	return cfg, nil
}

func (f *Default) CreateSandboxConfig(argv []string) (*Config, error) {
	cfg, err := f.CreateConfig(argv)
	if err != nil {
		return nil, err
	}
	cfg.Sandboxed = true
	return cfg, nil
}

func (f *Default) CreateRetryConfig(argv []string, attempt int) (*Config, error) {
	cfg, err := f.CreateConfig(argv)
	if err != nil {
		return nil, err
	}
	cfg.Loop = false
	return cfg, nil
}

func (f *Default) CreateProxyConfig(argv []string, proxyFor string) (*Config, error) {
	cfg, err := f.CreateConfig(argv)
	if err != nil {
		return nil, err
	}
	cfg.DevicePattern = proxyFor
	return cfg, nil
}

var _ Factory = (*Default)(nil)

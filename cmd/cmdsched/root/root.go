// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Root command cmdsched starts the scheduling loop, the admin HTTP surface,
// and (optionally) the terminal dashboard.
//
// Usage:
//
//	cmdsched --config /path/to/config
package root

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/codeactual/cmdsched/internal/admin"
	"github.com/codeactual/cmdsched/internal/device"
	"github.com/codeactual/cmdsched/internal/invocation"
	"github.com/codeactual/cmdsched/internal/monitor"
	"github.com/codeactual/cmdsched/internal/runconfig"
	"github.com/codeactual/cmdsched/internal/scheduler"

	cage_time "github.com/codeactual/cmdsched/internal/cage/time"
)

var (
	configPath  string
	adminAddr   string
	verbose     bool
	dashboard   bool
)

// fileConfig mirrors the subset of a cmdsched config file consumed at
// startup: the device inventory to seed and the commands to submit
// immediately.
type fileConfig struct {
	Devices  []deviceConfig `mapstructure:"devices"`
	Commands []commandEntry `mapstructure:"commands"`
	Cmdfiles []cmdfileEntry `mapstructure:"cmdfiles"`
}

type deviceConfig struct {
	Serial string `mapstructure:"serial"`
	Stub   bool   `mapstructure:"stub"`
}

type commandEntry struct {
	Argv       []string `mapstructure:"argv"`
	AllDevices bool     `mapstructure:"all_devices"`
}

type cmdfileEntry struct {
	Path      string   `mapstructure:"path"`
	ExtraArgs []string `mapstructure:"extra_args"`
}

func readFileConfig(path string) (*fileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file [%s]", path)
	}

	var cfg fileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config file [%s]", path)
	}
	return &cfg, nil
}

func newLogger() *zap.Logger {
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			panic(errors.Wrap(err, "failed to build development logger"))
		}
		return l
	}
	l, err := zap.NewProduction()
	if err != nil {
		panic(errors.Wrap(err, "failed to build production logger"))
	}
	return l
}

func run(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Sync() //nolint:errcheck

	devices := device.NewInMemory()
	factory := runconfig.NewDefault()
	engine := invocation.NewDefault()

	if configPath != "" {
		cfg, err := readFileConfig(configPath)
		if err != nil {
			return err
		}
		for _, d := range cfg.Devices {
			devices.Add(d.Serial, d.Stub)
		}

		sch := scheduler.New(log, cage_time.RealClock{}, scheduler.DefaultSchedulerConfig(), devices, factory, engine)
		return bootstrap(log, sch, cfg)
	}

	sch := scheduler.New(log, cage_time.RealClock{}, scheduler.DefaultSchedulerConfig(), devices, factory, engine)
	return bootstrap(log, sch, &fileConfig{})
}

func bootstrap(log *zap.Logger, sch *scheduler.Scheduler, cfg *fileConfig) error {
	var dash *monitor.Dashboard
	if dashboard {
		dash = monitor.NewDashboard(log, sch.Stats.Snapshot)
		sch.AddListener(dash)
	}

	adminSrv := admin.New(log, sch, adminAddr)

	go sch.Start()
	sch.Await()

	for _, c := range cfg.Commands {
		if c.AllDevices {
			if _, err := sch.AddForAllDevices(c.Argv, ""); err != nil {
				log.Error("failed to seed command for all devices", zap.Error(err))
			}
			continue
		}
		if _, _, err := sch.Add(c.Argv, ""); err != nil {
			log.Error("failed to seed command", zap.Error(err))
		}
	}

	for _, f := range cfg.Cmdfiles {
		if _, err := sch.AddFile(f.Path, f.ExtraArgs); err != nil {
			log.Error("failed to load cmdfile", zap.String("path", f.Path), zap.Error(err))
		}
	}

	adminDone := make(chan error, 1)
	go func() { adminDone <- adminSrv.Start() }()

	shutdown := func() {
		if dash != nil {
			dash.Stop()
		}
		sch.ShutdownHard(true)
		sch.Join(30 * time.Second)
		if err := adminSrv.Stop(5 * time.Second); err != nil {
			log.Error("admin server shutdown error", zap.Error(err))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-sigCh
		fmt.Printf("Received signal (%v).\n", s)
		shutdown()
	}()

	if dash != nil {
		dash.Init()
		go func() {
			<-dash.ExitCh()
			shutdown()
		}()
		if err := dash.Start(); err != nil {
			log.Error("dashboard exited with error", zap.Error(err))
		}
		return nil
	}

	return <-adminDone
}

// NewCommand returns a cobra command instance for the root cmdsched command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cmdsched",
		Short: "Schedule repeated command invocations across devices",
		Example: strings.Join([]string{
			"cmdsched --config /path/to/config",
			"cmdsched --config /path/to/config --dashboard",
		}, "\n"),
		RunE: run,
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "viper-readable config file")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:9090", "admin HTTP listen address")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable development logging")
	cmd.Flags().BoolVar(&dashboard, "dashboard", false, "run the terminal dashboard in the foreground")

	return cmd
}

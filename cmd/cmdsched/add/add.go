// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Sub-command add submits a command to a running cmdsched instance's admin
// HTTP surface.
//
// Usage:
//
//	cmdsched add --admin-addr 127.0.0.1:9090 -- some-test --flag value
package add

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	adminAddr  string
	allDevices bool
)

type addRequest struct {
	Argv       []string `json:"argv"`
	AllDevices bool     `json:"all_devices"`
}

func run(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("at least one argv token is required")
	}

	body, err := json.Marshal(addRequest{Argv: args, AllDevices: allDevices})
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	resp, err := http.Post(
		fmt.Sprintf("http://%s/commands", adminAddr),
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return errors.Wrap(err, "failed to reach admin surface")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("admin surface returned status %d", resp.StatusCode)
	}

	fmt.Println("command submitted")
	return nil
}

// NewCommand returns a cobra command instance for the add sub-command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Submit a command to a running cmdsched instance",
		Example: strings.Join([]string{
			"cmdsched add -- some-test --flag value",
		}, "\n"),
		RunE: run,
	}

	cmd.Flags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:9090", "admin HTTP address of the running instance")
	cmd.Flags().BoolVar(&allDevices, "all-devices", false, "submit the command for every available device")

	return cmd
}

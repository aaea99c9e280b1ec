// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"
	"os"

	"github.com/codeactual/cmdsched/cmd/cmdsched/add"
	"github.com/codeactual/cmdsched/cmd/cmdsched/root"
)

func main() {
	rootCmd := root.NewCommand()
	rootCmd.AddCommand(add.NewCommand())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

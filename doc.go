// Copyright (C) 2020 The cmdsched Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package cmdsched contains the cmd/cmdsched CLI, the scheduler core and
// its collaborator packages (internal/device, internal/runconfig,
// internal/invocation, internal/admin, internal/monitor), and the
// internal "standard library" (internal/cage/*, internal/third_party/*)
// inherited from a private monorepo.
package cmdsched

// expand godoc content for the base import path
import (
	_ "github.com/codeactual/cmdsched/cmd/cmdsched/add"
	_ "github.com/codeactual/cmdsched/cmd/cmdsched/root"
	_ "github.com/codeactual/cmdsched/internal/admin"
	_ "github.com/codeactual/cmdsched/internal/device"
	_ "github.com/codeactual/cmdsched/internal/invocation"
	_ "github.com/codeactual/cmdsched/internal/monitor"
	_ "github.com/codeactual/cmdsched/internal/runconfig"
	_ "github.com/codeactual/cmdsched/internal/scheduler"
)

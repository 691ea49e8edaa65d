// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"os"

	"github.com/owntech/twistflash/cmd/twistflash/commands"
)

var (
	version   = "development"
	buildDate = "unknown"
)

func main() {
	info := commands.Info{
		Version: version,
		Date:    buildDate,
	}
	ctx := commands.SetInfo(context.Background(), info)
	cmd := commands.TwistflashCmd(info)
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// Copyright (C) 2021 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/toitlang/uartprobe/cmd/uartprobe/commands"
)

var (
	version = "v0.1.0"
)

var buildDate = "unknown"
var buildMode = "development"

func main() {
	info := commands.Info{
		Date:    buildDate,
		Version: version,
	}
	ctx, stop := signal.NotifyContext(commands.SetInfo(context.Background(), info), os.Interrupt)
	cmd := commands.UartProbeCmd(info, buildMode == "release")
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		commands.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

// Copyright (C) 2021 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"

	"github.com/spf13/cobra"
)

type ctxKey string

const (
	ctxKeyInfo ctxKey = "info"
)

type Info struct {
	Version string `yaml:"version" json:"version"`
	Date    string `yaml:"date" json:"date"`
}

func SetInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, ctxKeyInfo, info)
}

func GetInfo(ctx context.Context) Info {
	info, _ := ctx.Value(ctxKeyInfo).(Info)
	return info
}

func UartProbeCmd(info Info, isReleaseBuild bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uartprobe <data-file> [serial-port]",
		Short: "Run a static inference on a device over UART",
		Long: "uartprobe sends the values in <data-file> to a device over a serial port and\n" +
			"runs an inference on them with the AT+RUNIMPULSESTATIC command.\n\n" +
			"The data file holds comma separated values. Files whose path contains 'image'\n" +
			"hold hexadecimal pixel values, all others decimal floats (see --format).\n" +
			"The values are sent as base64 encoded float32s, in chunks of the size the\n" +
			"device asks for. The command fails (exit status 1) if the device reports\n" +
			"TIMEOUT at any point, including while waiting for END OUTPUT after the\n" +
			"last chunk.\n\n" +
			"Without [serial-port] the configured port is used (see 'uartprobe port set').",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runTransferCmd,
	}
	addTransferFlags(cmd.Flags())

	cmd.AddCommand(
		EncodeCmd(),
		DecodeCmd(),
		MonitorCmd(),
		WatchCmd(),
		PortCmd(),
		ConfigCmd(),
		VersionCmd(info, isReleaseBuild),
	)
	return cmd
}

// Copyright (C) 2024 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/toitlang/uartprobe/cmd/uartprobe/features"
	"github.com/toitlang/uartprobe/cmd/uartprobe/report"
	"github.com/toitlang/uartprobe/cmd/uartprobe/transfer"
	"go.bug.st/serial"
)

func addTransferFlags(flags *pflag.FlagSet) {
	flags.Uint("baud", ConfiguredBaud(), "the baud rate of the serial port")
	flags.Duration("read-timeout", defaultReadTimeout, "how long a single read waits for data")
	flags.String("format", string(features.FormatAuto), "how to read the data file: auto, float or hex")
	flags.Bool("simulate-timeout", false, "slow down the transfer to provoke a device timeout")
	flags.Duration("settle", transfer.DefaultOptions().Settle, "time to let the device boot before the first command")
	flags.Duration("response-timeout", 0, "give up when the device doesn't respond within this time (0 waits forever)")
	flags.Bool("reset", false, "reset the device through DTR/RTS before starting")
	flags.BoolP("quiet", "q", false, "don't print the exchanged lines")
	flags.String("report", "", "write a run report to this file (.yaml or .json)")
}

type transferConfig struct {
	baud        uint
	readTimeout time.Duration
	format      features.Format
	reset       bool
	quiet       bool
	progress    bool
	reportPath  string
	opts        transfer.Options
}

func parseTransferFlags(flags *pflag.FlagSet) (*transferConfig, error) {
	var err error
	cfg := &transferConfig{
		opts: transfer.DefaultOptions(),
	}

	if cfg.baud, err = flags.GetUint("baud"); err != nil {
		return nil, err
	}
	if cfg.readTimeout, err = flags.GetDuration("read-timeout"); err != nil {
		return nil, err
	}
	if cfg.readTimeout <= 0 {
		return nil, fmt.Errorf("--read-timeout must be positive, got %s", cfg.readTimeout)
	}

	format, err := flags.GetString("format")
	if err != nil {
		return nil, err
	}
	if cfg.format, err = features.ParseFormat(format); err != nil {
		return nil, err
	}

	if cfg.opts.SimulateTimeout, err = flags.GetBool("simulate-timeout"); err != nil {
		return nil, err
	}
	if cfg.opts.Settle, err = flags.GetDuration("settle"); err != nil {
		return nil, err
	}
	if cfg.opts.ResponseTimeout, err = flags.GetDuration("response-timeout"); err != nil {
		return nil, err
	}
	if cfg.reset, err = flags.GetBool("reset"); err != nil {
		return nil, err
	}
	if cfg.quiet, err = flags.GetBool("quiet"); err != nil {
		return nil, err
	}
	if cfg.reportPath, err = flags.GetString("report"); err != nil {
		return nil, err
	}
	cfg.progress = cfg.quiet && isTerminal(os.Stdout)
	return cfg, nil
}

type transportOpener func(port string, cfg *transferConfig) (transfer.Transport, error)

func openSerialTransport(port string, cfg *transferConfig) (transfer.Transport, error) {
	dev, err := serialOpen(port, &serial.Mode{BaudRate: int(cfg.baud)}, cfg.readTimeout)
	if err != nil {
		return nil, err
	}
	if cfg.reset {
		dev.Reboot()
	}
	return dev, nil
}

// runTransferCmd is the root command's action: send a data file to the
// device and wait for the inference to finish.
func runTransferCmd(cmd *cobra.Command, args []string) error {
	cfg, err := parseTransferFlags(cmd.Flags())
	if err != nil {
		return err
	}

	port := ""
	if len(args) > 1 {
		port = args[1]
	}
	if port, err = CheckPort(port); err != nil {
		return err
	}

	return runTransfer(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], port, openSerialTransport)
}

func runTransfer(ctx context.Context, out io.Writer, cfg *transferConfig, dataFile string, port string, open transportOpener) error {
	vector, err := features.ReadFile(dataFile, cfg.format)
	if err != nil {
		return err
	}
	payload := features.Encode(vector)

	log := out
	if cfg.quiet {
		log = io.Discard
	}
	fmt.Fprintf(log, "Values: %d\n", len(vector))
	fmt.Fprintf(log, "Bytes: %d\n", len(vector)*features.BytesPerValue)
	fmt.Fprintf(log, "Payload: %s\n", payload)

	fmt.Fprintf(out, "Sending '%s' to '%s' ...\n", dataFile, port)
	dev, err := open(port, cfg)
	if err != nil {
		return err
	}

	run := report.New(dataFile, port)
	run.Values = len(vector)
	run.ToolVersion = GetInfo(ctx).Version

	opts := cfg.opts
	opts.Log = log
	if cfg.progress {
		update, stop := newChunkProgress()
		defer stop()
		opts.OnProgress = update
	}

	res, err := transfer.NewSession(dev, payload, len(vector), opts).Run(ctx)
	run.PayloadLength = len(payload)
	run.PaddedLength = res.PaddedLength
	run.ChunkSize = res.ChunkSize
	run.Chunks = res.Chunks()
	run.ChunksSent = res.ChunksSent
	switch {
	case err == nil:
		run.Finish(report.OutcomeCompleted, nil)
	case errors.Is(err, transfer.ErrDeviceTimeout):
		run.Finish(report.OutcomeDeviceTimeout, err)
	default:
		run.Finish(report.OutcomeFailed, err)
	}

	if cfg.reportPath != "" {
		if rerr := run.Write(cfg.reportPath); rerr != nil {
			fmt.Fprintln(out, "Failed to write report:", rerr)
		}
	}

	if err != nil {
		return err
	}
	printSuccess(out, "Inference run completed (%d chunks of %d bytes)\n", run.Chunks, run.ChunkSize)
	return nil
}

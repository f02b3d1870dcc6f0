// Copyright (C) 2024 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toitlang/uartprobe/cmd/uartprobe/features"
	"github.com/toitlang/uartprobe/cmd/uartprobe/transfer"
)

func EncodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode <data-file>",
		Short: "Print the payload that would be sent for a data file",
		Long: "Print the base64 payload that would be sent for a data file, without\n" +
			"talking to a device. With --chunk-size the payload is padded the same\n" +
			"way the device would ask for.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			f, err := features.ParseFormat(format)
			if err != nil {
				return err
			}

			chunkSize, err := cmd.Flags().GetInt("chunk-size")
			if err != nil {
				return err
			}
			if chunkSize < 0 {
				return fmt.Errorf("chunk size must not be negative")
			}

			vector, err := features.ReadFile(args[0], f)
			if err != nil {
				return err
			}

			payload := features.Encode(vector)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Format: %s\n", f.Resolve(args[0]))
			fmt.Fprintf(out, "Values: %d\n", len(vector))
			fmt.Fprintf(out, "Bytes: %d\n", len(vector)*features.BytesPerValue)
			fmt.Fprintf(out, "Command: %q\n", transfer.RunStaticCommand(len(vector)))
			if chunkSize > 0 {
				payload = transfer.PadPayload(payload, chunkSize)
				fmt.Fprintf(out, "Chunks: %d of %d bytes\n", len(payload)/chunkSize, chunkSize)
			}
			fmt.Fprintln(out, payload)
			return nil
		},
	}

	cmd.Flags().String("format", string(features.FormatAuto), "how to read the data file: auto, float or hex")
	cmd.Flags().Int("chunk-size", 0, "pad the payload to a multiple of this size")
	return cmd
}

func DecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "decode <payload>",
		Short:        "Decode a base64 payload back into its values",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			vector, err := features.Decode(args[0])
			if err != nil {
				return fmt.Errorf("failed to decode payload: %w", err)
			}

			values := make([]string, len(vector))
			for i, v := range vector {
				values[i] = strconv.FormatFloat(v, 'g', -1, 32)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(values, ","))
			return nil
		},
	}
	return cmd
}

// Copyright (C) 2021 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/toitlang/uartprobe/cmd/uartprobe/directory"
	"gopkg.in/yaml.v2"
)

func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configure uartprobe",
		Long: "Configure the defaults of the uartprobe command line tool.\n\n" +
			"The configuration is stored in ~/.config/uartprobe/config.yaml unless\n" +
			"the " + directory.UserConfigPathEnv + " environment variable points elsewhere.",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:          "show",
			Short:        "Print the stored configuration",
			Args:         cobra.NoArgs,
			SilenceUsage: true,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := directory.GetUserConfig()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "# %s\n", cfg.ConfigFileUsed())
				return yaml.NewEncoder(out).Encode(cfg.AllSettings())
			},
		},
		&cobra.Command{
			Use:          "baud <rate>",
			Short:        "Set the default baud rate",
			Args:         cobra.ExactArgs(1),
			SilenceUsage: true,
			RunE: func(_ *cobra.Command, args []string) error {
				baud, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil || baud == 0 {
					return fmt.Errorf("invalid baud rate '%s'", args[0])
				}

				cfg, err := directory.GetUserConfig()
				if err != nil {
					return err
				}
				cfg.Set(directory.BaudCfgKey, baud)
				return directory.WriteConfig(cfg)
			},
		},
	)
	return cmd
}

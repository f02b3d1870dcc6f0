// Copyright (C) 2021 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toitlang/uartprobe/cmd/uartprobe/directory"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

func PortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "List serial ports and select the default one",
	}

	listCmd := &cobra.Command{
		Use:          "list",
		Short:        "List the available serial ports",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := cmd.Flags().GetBool("all")
			if err != nil {
				return err
			}

			ports, err := enumerator.GetDetailedPortsList()
			if err != nil {
				return err
			}

			configured := ConfiguredPort()
			out := cmd.OutOrStdout()
			for _, p := range ports {
				if !all && len(filterPorts([]string{p.Name})) == 0 {
					continue
				}
				marker := " "
				if p.Name == configured {
					marker = "*"
				}
				if p.IsUSB {
					fmt.Fprintf(out, "%s %s\tUSB %s:%s %s %s\n", marker, p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
				} else {
					fmt.Fprintf(out, "%s %s\n", marker, p.Name)
				}
			}
			return nil
		},
	}
	listCmd.Flags().Bool("all", false, "if set, will show all available ports")

	setCmd := &cobra.Command{
		Use:          "set [port]",
		Short:        "Select the serial port you want to use",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := cmd.Flags().GetBool("all")
			if err != nil {
				return err
			}

			cfg, err := directory.GetUserConfig()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				cfg.Set(directory.PortCfgKey, args[0])
				return directory.WriteConfig(cfg)
			}

			_, err = GetPort(cfg, all, true)
			return err
		},
	}
	setCmd.Flags().Bool("all", false, "if set, will show all available ports")

	cmd.AddCommand(listCmd, setCmd)
	return cmd
}

func PortExists(port string) (bool, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return false, err
	}
	for _, p := range ports {
		if p == port {
			return true, nil
		}
	}
	return false, nil
}

func ConfiguredPort() string {
	cfg, err := directory.GetUserConfig()
	if err != nil {
		return ""
	}
	return cfg.GetString(directory.PortCfgKey)
}

func ConfiguredBaud() uint {
	cfg, err := directory.GetUserConfig()
	if err != nil || !cfg.IsSet(directory.BaudCfgKey) {
		return defaultBaud
	}
	return cfg.GetUint(directory.BaudCfgKey)
}

// CheckPort returns port if it exists. Otherwise the configured port is
// used, and as a last resort the user is asked to pick one.
func CheckPort(port string) (string, error) {
	if port != "" {
		exists, err := PortExists(port)
		if err != nil {
			return "", err
		}
		if exists {
			return port, nil
		}
		fmt.Printf("The port '%s' does not exist.\n", port)
	}

	cfg, err := directory.GetUserConfig()
	if err != nil {
		return "", err
	}

	if configured := cfg.GetString(directory.PortCfgKey); configured != "" {
		if exists, err := PortExists(configured); err == nil && exists {
			return configured, nil
		}
	}

	return GetPort(cfg, false, true)
}

// GetPort asks the user to pick a port, optionally storing the choice.
func GetPort(cfg *viper.Viper, all bool, store bool) (string, error) {
	port, err := pickPort(all)
	if err != nil {
		return "", err
	}
	if store {
		cfg.Set(directory.PortCfgKey, port)
		if err := directory.WriteConfig(cfg); err != nil {
			return "", err
		}
	}
	return port, nil
}

func pickPort(all bool) (string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return "", err
	}
	if !all {
		ports = filterPorts(ports)
	}
	if len(ports) == 0 {
		return "", fmt.Errorf("no serial ports detected. Is the device connected?")
	}

	prompt := promptui.Select{
		Label:     "Choose what serial port you want to use",
		Items:     ports,
		Templates: &promptui.SelectTemplates{},
	}

	i, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("you didn't select anything")
	}

	return ports[i], nil
}

func filterPorts(ports []string) []string {
	switch runtime.GOOS {
	case "darwin":
		return darwinFilterPaths(ports)
	case "linux":
		return linuxFilterPaths(ports)
	default:
		return ports
	}
}

func darwinFilterPaths(paths []string) []string {
	existing := map[string]struct{}{}
	for _, p := range paths {
		existing[p] = struct{}{}
	}
	var res []string
	for _, path := range paths {
		if strings.HasPrefix(path, "/dev/cu") && !strings.Contains(path, "Bluetooth") {
			res = append(res, path)
		} else if strings.HasPrefix(path, "/dev/tty") && !strings.Contains(path, "Bluetooth") {
			candidate := "/dev/cu" + strings.TrimPrefix(path, "/dev/tty")
			if _, exists := existing[candidate]; !exists {
				res = append(res, path)
			}
		}
	}
	return res
}

func linuxFilterPaths(paths []string) []string {
	res := []string(nil)
	for _, path := range paths {
		if strings.Contains(path, "tty") {
			if strings.Contains(path, "USB") || strings.Contains(path, "ACM") {
				res = append(res, path)
			}
		}
	}
	return res
}

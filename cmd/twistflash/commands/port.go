// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/owntech/twistflash/cmd/twistflash/directory"
	"github.com/owntech/twistflash/discovery"
)

func SetPortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "set-port",
		Short:        "Select the serial port you want to use",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := cmd.Flags().GetBool("all")
			if err != nil {
				return err
			}

			cfg, err := GetConfig()
			if err != nil {
				return err
			}

			port, err := pickPort(all)
			if err != nil {
				return err
			}

			cfg.Set("port", port)
			if err := directory.WriteConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("Default port set to '%s'\n", port)
			return nil
		},
	}

	cmd.Flags().Bool("all", false, "if set, will show all available ports")
	return cmd
}

func PortExists(port string) (bool, error) {
	ports, err := discovery.NewLocator(nil).Ports()
	if err != nil {
		return false, err
	}
	for _, p := range ports {
		if p.Name == port {
			return true, nil
		}
	}
	return false, nil
}

func ConfiguredPort() string {
	cfg, err := GetConfig()
	if err != nil {
		return ""
	}
	return cfg.GetString("port")
}

func pickPort(all bool) (string, error) {
	ports, err := discovery.NewLocator(nil).Ports()
	if err != nil {
		return "", err
	}
	if !all {
		ports = filterPorts(ports)
	}
	if len(ports) == 0 {
		return "", fmt.Errorf("no serial ports detected. Have you installed the driver for the board you have connected?")
	}

	items := make([]string, len(ports))
	for i, p := range ports {
		items[i] = portLabel(p)
	}

	prompt := promptui.Select{
		Label:     "Choose what serial port you want to use",
		Items:     items,
		Templates: &promptui.SelectTemplates{},
	}

	i, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("you didn't select anything")
	}

	return ports[i].Name, nil
}

// filterPorts hides ports that cannot belong to a board: non-USB adapters
// and USB serial ports without identification.
func filterPorts(ports []discovery.PortInfo) []discovery.PortInfo {
	var res []discovery.PortInfo
	for _, p := range ports {
		if p.HasID {
			res = append(res, p)
		}
	}
	return res
}

func portLabel(p discovery.PortInfo) string {
	if !p.HasID {
		return p.Name
	}
	if p.Description != "" {
		return fmt.Sprintf("%s (%s %s)", p.Name, p.ID, p.Description)
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.ID)
}

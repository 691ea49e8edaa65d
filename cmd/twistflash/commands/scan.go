// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/owntech/twistflash/discovery"
)

type scanEntry struct {
	Port         string `yaml:"port"`
	VID          string `yaml:"vid,omitempty"`
	PID          string `yaml:"pid,omitempty"`
	Description  string `yaml:"description,omitempty"`
	SerialNumber string `yaml:"serial-number,omitempty"`
}

func ScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "scan",
		Short:        "List the serial ports and the devices behind them",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := cmd.Flags().GetBool("all")
			if err != nil {
				return err
			}
			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return err
			}

			ports, err := discovery.NewLocator(nil).Ports()
			if err != nil {
				return err
			}
			if !all {
				ports = filterPorts(ports)
			}

			entries := make([]scanEntry, 0, len(ports))
			for _, p := range ports {
				entry := scanEntry{
					Port:         p.Name,
					Description:  p.Description,
					SerialNumber: p.SerialNumber,
				}
				if p.HasID {
					entry.VID = fmt.Sprintf("%04x", p.ID.VID)
					entry.PID = fmt.Sprintf("%04x", p.ID.PID)
				}
				entries = append(entries, entry)
			}

			switch output {
			case "yaml":
				enc := yaml.NewEncoder(os.Stdout)
				defer enc.Close()
				return enc.Encode(entries)
			case "text":
				if len(entries) == 0 {
					fmt.Println("No serial ports detected.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "PORT\tVID\tPID\tDESCRIPTION\tSERIAL")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Port, e.VID, e.PID, e.Description, e.SerialNumber)
				}
				return w.Flush()
			default:
				return fmt.Errorf("unknown output format '%s' (must be 'text' or 'yaml')", output)
			}
		},
	}

	cmd.Flags().Bool("all", false, "if set, will show non-USB and unidentified ports too")
	cmd.Flags().StringP("output", "o", "text", "output format, 'text' or 'yaml'")
	return cmd
}

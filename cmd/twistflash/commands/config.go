// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/owntech/twistflash/cmd/twistflash/directory"
)

func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configure twistflash",
		Long:  "Configure the twistflash command line tool.",
	}

	cmd.AddCommand(
		ConfigPathCmd(),
		ConfigShowCmd(),
		ConfigMcumgrCmd(),
	)
	return cmd
}

func ConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "path",
		Short:        "Print the path of the user config file",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := directory.GetUserConfigPath()
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}

func ConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "show",
		Short:        "Print the stored configuration",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := GetConfig()
			if err != nil {
				return err
			}
			settings := cfg.AllSettings()
			if len(settings) == 0 {
				fmt.Println("No configuration stored.")
				return nil
			}
			enc := yaml.NewEncoder(os.Stdout)
			defer enc.Close()
			return enc.Encode(settings)
		},
	}
}

func ConfigMcumgrCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "mcumgr <path>",
		Short:        "Set the path of the mcumgr executable",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if stat, err := os.Stat(path); err != nil || stat.IsDir() {
				return fmt.Errorf("the path '%s' did not hold an executable", path)
			}

			cfg, err := GetConfig()
			if err != nil {
				return err
			}
			cfg.Set("mcumgr-path", path)
			if err := directory.WriteConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("mcumgr path set to '%s'\n", path)
			return nil
		},
	}
}

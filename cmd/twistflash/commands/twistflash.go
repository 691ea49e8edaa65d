// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
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
	Version string `mapstructure:"version" yaml:"version" json:"version"`
	Date    string `mapstructure:"date" yaml:"date" json:"date"`
}

func SetInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, ctxKeyInfo, info)
}

func GetInfo(ctx context.Context) Info {
	return ctx.Value(ctxKeyInfo).(Info)
}

func TwistflashCmd(info Info) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "twistflash",
		Short: "Flash firmware onto OwnTech boards over serial",
		Long: "Twistflash programs OwnTech Twist and Spin power-electronics boards over their\n" +
			"USB serial connection. It finds a connected board by its USB vendor and product\n" +
			"IDs, reboots it into the MCUboot bootloader, and drives the external mcumgr\n" +
			"client to upload the firmware image and restart the board.",
	}

	cmd.AddCommand(
		FlashCmd(),
		WatchCmd(),
		ScanCmd(),
		SetPortCmd(),
		MonitorCmd(),
		ConfigCmd(),
		VersionCmd(info),
	)
	return cmd
}

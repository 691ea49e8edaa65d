// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/coreos/go-semver/semver"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/owntech/twistflash/cmd/twistflash/directory"
	"github.com/owntech/twistflash/discovery"
	"github.com/owntech/twistflash/flash"
)

func FlashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flash <firmware.bin>",
		Short: "Flash a firmware image onto a board",
		Long: "Flash a firmware image onto an OwnTech board. The board's data port is\n" +
			"rebooted into the MCUboot bootloader with a 1200 baud touch, the image is\n" +
			"uploaded with mcumgr, and the board is reset into the new firmware. Exactly\n" +
			"one attempt is made per invocation; re-flashing a partially written board is\n" +
			"left to the operator.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flashFromFlags(cmd, args[0])
		},
	}
	addFlashFlags(cmd)
	return cmd
}

func addFlashFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("port", "p", ConfiguredPort(), "serial port of the board; auto-detected when empty")
	cmd.Flags().StringP("board", "b", "twist", "board to search for when no port is given")
	cmd.Flags().String("vid", "", "USB vendor ID to search for (hex), overrides the board's")
	cmd.Flags().String("pid", "", "USB product ID to search for (hex), overrides the board's")
	cmd.Flags().String("hash", "", "expected sha256 of the firmware image; verified before flashing")
	cmd.Flags().String("slot-hash", "", "MCUboot slot hash of the image; skips the upload when the bootloader already holds it")
	cmd.Flags().Uint("baud", flash.DefaultBaud, "baud rate for the mcumgr serial connection")
	cmd.Flags().Int("mtu", flash.DefaultMTU, "MTU for the mcumgr serial connection")
	cmd.Flags().Duration("timeout", flash.DefaultTimeout, "kill mcumgr when it prints nothing for this long")
	cmd.Flags().Bool("no-touch", false, "skip the 1200 baud touch; the board is already in bootloader mode")
}

func flashFromFlags(cmd *cobra.Command, firmware string) error {
	ctx := cmd.Context()

	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	port, err := resolvePort(cmd, cfg)
	if err != nil {
		return err
	}

	hash, err := cmd.Flags().GetString("hash")
	if err != nil {
		return err
	}
	slotHash, err := cmd.Flags().GetString("slot-hash")
	if err != nil {
		return err
	}
	baud, err := cmd.Flags().GetUint("baud")
	if err != nil {
		return err
	}
	mtu, err := cmd.Flags().GetInt("mtu")
	if err != nil {
		return err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	noTouch, err := cmd.Flags().GetBool("no-touch")
	if err != nil {
		return err
	}

	mcumgrPath, err := directory.GetMcumgrPath(cfg)
	if err != nil {
		return err
	}

	tool := &flash.Mcumgr{
		Path:    mcumgrPath,
		Baud:    int(baud),
		MTU:     mtu,
		Timeout: timeout,
	}
	checkToolVersion(ctx, tool)

	var bar *pb.ProgressBar
	started := false
	if term.IsTerminal(int(os.Stdout.Fd())) {
		bar = pb.New(100)
		bar.SetMaxWidth(80)
		tool.Progress = func(percent float64, speed string) {
			if !started {
				bar.Start()
				started = true
			}
			bar.SetCurrent(int64(percent))
		}
	}

	fmt.Printf("Flashing '%s' over serial on port '%s' ...\n", firmware, port)
	res := flash.Procedure(ctx, firmware, port, &flash.Options{
		Hash:       hash,
		SlotHash:   slotHash,
		SkipReboot: noTouch,
		Tool:       tool,
	})
	if started {
		if res.OK {
			bar.SetCurrent(100)
		}
		bar.Finish()
	}

	if !res.OK {
		return fmt.Errorf("%s (status %d)", res.Message, res.Code)
	}
	fmt.Println(res.Message)
	return nil
}

// resolvePort picks the port to flash: the --port flag or the configured
// port when set, otherwise the first attached board matching the requested
// USB identifiers.
func resolvePort(cmd *cobra.Command, cfg *viper.Viper) (string, error) {
	port, err := cmd.Flags().GetString("port")
	if err != nil {
		return "", err
	}
	if port != "" {
		exists, err := PortExists(port)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", fmt.Errorf("the port '%s' was not found", port)
		}
		return port, nil
	}

	boardName, err := cmd.Flags().GetString("board")
	if err != nil {
		return "", err
	}
	board, err := FindBoard(cfg, boardName)
	if err != nil {
		return "", err
	}

	id := board.ID()
	if value, _ := cmd.Flags().GetString("vid"); value != "" {
		if id.VID, err = parseUSBIDValue(value); err != nil {
			return "", err
		}
	}
	if value, _ := cmd.Flags().GetString("pid"); value != "" {
		if id.PID, err = parseUSBIDValue(value); err != nil {
			return "", err
		}
	}

	fmt.Printf("Searching for a %s board (%s) ...\n", board.Name, id)
	port, found, err := discovery.FindDevice(id, board.Description)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("no %s board found (%s); is it connected?", board.Name, id)
	}
	fmt.Printf("Found %s board on port '%s'\n", board.Name, port)
	return port, nil
}

// Older mcumgr builds mishandle the -e flag on image upload.
var minMcumgrVersion = semver.New("0.3.0")

func checkToolVersion(ctx context.Context, tool *flash.Mcumgr) {
	raw, err := tool.Version(ctx)
	if err != nil {
		return
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return
	}
	if v.LessThan(*minMcumgrVersion) {
		fmt.Printf("Warning: mcumgr %s is older than the supported %s; consider upgrading.\n", raw, minMcumgrVersion)
	}
}

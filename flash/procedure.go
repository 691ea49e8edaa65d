// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package flash drives the external mcumgr client to program a firmware
// image onto a board's MCUboot bootloader over a serial port.
package flash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/owntech/twistflash/discovery"
)

const (
	rebootDelay   = time.Second
	rebootTimeout = 15 * time.Second
	rebootPoll    = 250 * time.Millisecond
	rebootSettle  = time.Second
)

// Options tune a single call to Procedure. The zero value flashes with the
// system port enumeration, the real 1200 baud touch and an mcumgr from
// $PATH.
type Options struct {
	// Hash is the expected sha256 of the firmware file, hex encoded. When
	// set, the file is verified before the tool is invoked.
	Hash string

	// SlotHash is the expected MCUboot slot hash of the image, hex encoded,
	// as printed by "mcumgr image list". When set and the bootloader
	// already holds an image with that hash, the upload is skipped and the
	// board just reset. This is a different digest from Hash: the slot
	// hash covers the image header and payload only, not the whole file.
	SlotHash string

	// SkipReboot flashes the given port directly, for boards that already
	// sit in bootloader mode.
	SkipReboot bool

	Tool    Tool
	Locator *discovery.Locator

	// Touch overrides the port reset used to reboot the board into its
	// bootloader.
	Touch func(port string) error

	// Progress receives upload progress when the default tool is used.
	Progress func(percent float64, speed string)
}

func (o *Options) tool() Tool {
	if o.Tool != nil {
		return o.Tool
	}
	return &Mcumgr{Progress: o.Progress}
}

func (o *Options) locator() *discovery.Locator {
	if o.Locator != nil {
		return o.Locator
	}
	return discovery.NewLocator(nil)
}

func (o *Options) touch() func(string) error {
	if o.Touch != nil {
		return o.Touch
	}
	return TouchPort
}

// Procedure flashes the firmware file onto the board attached to port and
// reports a normalized outcome. The call blocks for the duration of the
// operation and makes exactly one flash attempt: a failed attempt is
// reported as-is, never repeated, since re-flashing a partially written
// device is a caller decision. The port is exclusively owned for the
// duration of the call; killing the process mid-flash can leave the board's
// firmware in an inconsistent state.
func Procedure(ctx context.Context, firmware, port string, opts *Options) Result {
	if opts == nil {
		opts = &Options{}
	}

	stat, err := os.Stat(firmware)
	if err != nil {
		return failure(CodeFirmwareUnreadable, "firmware %s: %v", firmware, err)
	}
	if stat.IsDir() {
		return failure(CodeFirmwareUnreadable, "firmware %s is a directory", firmware)
	}
	sum, err := fileSHA256(firmware)
	if err != nil {
		return failure(CodeFirmwareUnreadable, "firmware %s: %v", firmware, err)
	}
	if opts.Hash != "" && !strings.EqualFold(opts.Hash, sum) {
		return failure(CodeHashMismatch, "hash mismatch: firmware is %s, expected %s", sum, opts.Hash)
	}

	if !opts.SkipReboot {
		bootPort, res, ok := rebootIntoBootloader(ctx, port, opts)
		if !ok {
			return res
		}
		port = bootPort
	}

	tool := opts.tool()

	if opts.SlotHash != "" {
		exit, output, err := tool.List(ctx, port)
		if err != nil {
			return toolFailure("image list", output, err)
		}
		if exit != 0 {
			return failure(CodeDeviceNotResponding, "bootloader not responding (exit %d):\n%s", exit, excerpt(output))
		}
		for _, h := range parseImageHashes(output) {
			if strings.EqualFold(h, opts.SlotHash) {
				if res, ok := resetBoard(ctx, tool, port); !ok {
					return res
				}
				return Result{Code: CodeOK, Message: "image already in flash", OK: true}
			}
		}
	}

	start := time.Now()
	exit, output, err := tool.Upload(ctx, port, firmware)
	if err != nil {
		return toolFailure("image upload", output, err)
	}
	if exit != 0 {
		return failure(classifyUpload(output), "upload failed (exit %d):\n%s", exit, excerpt(output))
	}

	if res, ok := resetBoard(ctx, tool, port); !ok {
		return res
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	return Result{
		Code:    CodeOK,
		Message: fmt.Sprintf("flashed %d bytes in %s", stat.Size(), elapsed),
		OK:      true,
	}
}

// rebootIntoBootloader touches the data port to reboot the board and waits
// for it to re-enumerate in bootloader mode. Ports without USB
// identification cannot be tracked across the reboot, so they are used as
// given.
func rebootIntoBootloader(ctx context.Context, port string, opts *Options) (string, Result, bool) {
	loc := opts.locator()

	id, ok, err := loc.PortID(port)
	if err != nil {
		return "", failure(CodeBootloaderNotFound, "identify %s: %v", port, err), false
	}
	if !ok {
		return port, Result{}, true
	}

	if err := opts.touch()(port); err != nil {
		return "", failure(CodeBootloaderNotFound, "touch %s: %v", port, err), false
	}

	// The board needs a moment to drop off the bus after the touch.
	// Polling right away would match the still-enumerated data port, which
	// carries the same identifiers as the bootloader port replacing it.
	time.Sleep(rebootDelay)

	deadline := time.Now().Add(rebootTimeout)
	for {
		bootPort, found, err := loc.FindDevice(id, "")
		if err != nil {
			return "", failure(CodeBootloaderNotFound, "wait for reboot: %v", err), false
		}
		if found {
			// Give the bootloader a moment to finish enumerating.
			time.Sleep(rebootSettle)
			return bootPort, Result{}, true
		}
		if time.Now().After(deadline) {
			return "", failure(CodeBootloaderNotFound, "board %s did not come back after reboot", id), false
		}
		select {
		case <-ctx.Done():
			return "", failure(CodeBootloaderNotFound, "wait for reboot: %v", ctx.Err()), false
		case <-time.After(rebootPoll):
		}
	}
}

func resetBoard(ctx context.Context, tool Tool, port string) (Result, bool) {
	exit, output, err := tool.Reset(ctx, port)
	if err != nil {
		return toolFailure("reset", output, err), false
	}
	if exit != 0 {
		return failure(CodeResetFailed, "reset failed (exit %d):\n%s", exit, excerpt(output)), false
	}
	return Result{}, true
}

func toolFailure(op, output string, err error) Result {
	if errors.Is(err, ErrTimeout) {
		return failure(CodeToolTimeout, "%s: %v\n%s", op, err, excerpt(output))
	}
	return failure(CodeToolUnavailable, "%s: %v", op, err)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// excerpt trims tool output for inclusion in a Result message, keeping the
// tail where mcumgr prints its error.
func excerpt(output string) string {
	output = strings.TrimSpace(output)
	const max = 500
	if len(output) > max {
		output = "..." + output[len(output)-max:]
	}
	return output
}

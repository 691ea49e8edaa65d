// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

const watchDebounce = 500 * time.Millisecond

func WatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <firmware.bin>",
		Short: "Watch a firmware image and re-flash the board whenever it changes",
		Long: "Watch a firmware image and re-flash the board whenever it changes, e.g. on\n" +
			"every rebuild. Each change triggers one fresh flash attempt; a failed attempt\n" +
			"is reported and the watch continues.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			firmware := args[0]
			if stat, err := os.Stat(firmware); err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("no such file or directory: '%s'", firmware)
				}
				return fmt.Errorf("can't stat file '%s', reason: %w", firmware, err)
			} else if stat.IsDir() {
				return fmt.Errorf("can't watch directory: '%s'", firmware)
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			// Watch the directory rather than the file: most build tools
			// replace the image with a rename, which drops a watch on the
			// file itself.
			if err := watcher.Add(filepath.Dir(firmware)); err != nil {
				return err
			}

			if err := flashFromFlags(cmd, firmware); err != nil {
				fmt.Fprintf(os.Stderr, "Flash failed: %v\n", err)
			}
			fmt.Printf("Watching '%s' for changes ...\n", firmware)

			debounce := time.NewTimer(watchDebounce)
			if !debounce.Stop() {
				<-debounce.C
			}

			ctx := cmd.Context()
			for {
				select {
				case event := <-watcher.Events:
					if filepath.Clean(event.Name) != filepath.Clean(firmware) {
						continue
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
						continue
					}
					debounce.Reset(watchDebounce)
				case <-debounce.C:
					fmt.Printf("\n'%s' changed.\n", firmware)
					if err := flashFromFlags(cmd, firmware); err != nil {
						fmt.Fprintf(os.Stderr, "Flash failed: %v\n", err)
					}
					fmt.Printf("Watching '%s' for changes ...\n", firmware)
				case err := <-watcher.Errors:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		},
	}
	addFlashFlags(cmd)
	return cmd
}

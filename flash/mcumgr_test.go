// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package flash

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMcumgrArgs(t *testing.T) {
	m := &Mcumgr{}
	require.Equal(t, []string{
		"--conntype=serial",
		"--connstring=dev=/dev/ttyACM0,baud=115200,mtu=128",
		"image", "list",
	}, m.args("/dev/ttyACM0", "image", "list"))

	m = &Mcumgr{Baud: 230400, MTU: 256}
	require.Equal(t, []string{
		"--conntype=serial",
		"--connstring=dev=COM7,baud=230400,mtu=256",
		"reset",
	}, m.args("COM7", "reset"))
}

func TestParseUploadProgress(t *testing.T) {
	pct, speed, ok := parseUploadProgress(" 54.31 KiB / 92.50 KiB [======>-------] 58.71% 9.88 KiB/s")
	require.True(t, ok)
	require.InDelta(t, 58.71, pct, 0.001)
	require.Equal(t, "9.88 KiB/s", speed)

	// mcumgr omits the speed on the first line.
	pct, speed, ok = parseUploadProgress(" 0 B / 92.50 KiB [--------------] 0.00%")
	require.True(t, ok)
	require.InDelta(t, 0.0, pct, 0.001)
	require.Empty(t, speed)

	_, _, ok = parseUploadProgress("Done")
	require.False(t, ok)
}

func TestParseImageHashes(t *testing.T) {
	output := `Images:
 image=0 slot=0
    version: 1.0.0
    bootable: true
    flags: active confirmed
    hash: 86a49d0ee532069e9b9caaeb8f7b437d25064ca872171bfef8b1cfdc69f7a771
 image=0 slot=1
    version: 1.1.0
    bootable: true
    flags:
    hash: 1b4c0ee5c22b2ab6fb558ea87c92c4c7a2cc9a2423d328ea0c1111dbb3a1ecab
Split status: N/A (0)
`
	require.Equal(t, []string{
		"86a49d0ee532069e9b9caaeb8f7b437d25064ca872171bfef8b1cfdc69f7a771",
		"1b4c0ee5c22b2ab6fb558ea87c92c4c7a2cc9a2423d328ea0c1111dbb3a1ecab",
	}, parseImageHashes(output))

	require.Empty(t, parseImageHashes("Images:\nSplit status: N/A (0)\n"))
}

func writeToolScript(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tool scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "mcumgr")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestRunProgressOverCarriageReturns(t *testing.T) {
	// mcumgr redraws its progress on one line delimited by bare \r, never
	// printing a \n until the upload is done. Each redraw must count as
	// activity for the inactivity timer and drive the progress callback.
	script := `i=0
while [ $i -le 10 ]; do
  printf ' %d.00 KiB / 10.00 KiB [=>---] %d.00%% 9.88 KiB/s\r' "$i" "$((i*10))"
  sleep 0.2
  i=$((i+1))
done
printf '\nDone\n'
`
	m := &Mcumgr{Path: writeToolScript(t, script), Timeout: time.Second}
	calls := 0
	m.Progress = func(percent float64, speed string) { calls++ }

	exit, output, err := m.run(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, exit)
	require.Contains(t, output, "Done")
	require.GreaterOrEqual(t, calls, 5)
}

func TestRunKillsSilentTool(t *testing.T) {
	m := &Mcumgr{Path: writeToolScript(t, "sleep 5\n"), Timeout: 300 * time.Millisecond}

	exit, _, err := m.run(context.Background(), nil)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, -1, exit)
}

func TestRunReportsExitStatus(t *testing.T) {
	m := &Mcumgr{Path: writeToolScript(t, "printf 'Error: NMP timeout\\n'\nexit 7\n")}

	exit, output, err := m.run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 7, exit)
	require.Contains(t, output, "NMP timeout")
}

func TestRunCleanExitNearTimeout(t *testing.T) {
	// A tool that exits zero is never reported as a timeout, even when its
	// last output lands right at the inactivity limit.
	m := &Mcumgr{Path: writeToolScript(t, "sleep 0.2\nprintf 'Done\\n'\n"), Timeout: 400 * time.Millisecond}

	exit, output, err := m.run(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, exit)
	require.Contains(t, output, "Done")
}

func TestClassifyUpload(t *testing.T) {
	require.Equal(t, CodeDeviceNotResponding, classifyUpload("Error: NMP timeout"))
	require.Equal(t, CodeDeviceNotResponding, classifyUpload("Error: no response from device"))
	require.Equal(t, CodePortBusy, classifyUpload("open /dev/ttyACM0: device or resource busy"))
	require.Equal(t, CodePortBusy, classifyUpload("open /dev/ttyACM0: permission denied"))
	require.Equal(t, CodeUploadRejected, classifyUpload("Error: image is too large"))
}

func TestExcerpt(t *testing.T) {
	require.Equal(t, "short", excerpt("short\n"))

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	trimmed := excerpt(string(long))
	require.Len(t, trimmed, 503)
	require.Equal(t, "...", trimmed[:3])
}

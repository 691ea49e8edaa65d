// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package flash

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Tool is the external SMP client driven by Procedure. Each method runs one
// out-of-process invocation and reports its exit status together with the
// captured output. A non-nil error means the invocation did not run to an
// exit status of its own: the executable could not be started, or it was
// killed after going quiet (see ErrTimeout). Callers treat that differently
// from a tool that ran and reported a device-level failure.
type Tool interface {
	Upload(ctx context.Context, port, image string) (exit int, output string, err error)
	List(ctx context.Context, port string) (exit int, output string, err error)
	Reset(ctx context.Context, port string) (exit int, output string, err error)
}

// ErrTimeout reports that the tool was killed because it produced no new
// output within the configured inactivity limit.
var ErrTimeout = errors.New("tool produced no output before the timeout")

const (
	// DefaultBaud and DefaultMTU match the serial transport settings the
	// Zephyr MCUboot serial recovery mode expects.
	DefaultBaud    = 115200
	DefaultMTU     = 128
	DefaultTimeout = 10 * time.Second
)

// Mcumgr drives the mcumgr command line client over its serial transport.
// The zero value uses "mcumgr" from $PATH with the default transport
// settings.
type Mcumgr struct {
	Path string
	Baud int
	MTU  int

	// Timeout is an inactivity limit, not a total one: the process is
	// killed when it prints nothing new for this long. mcumgr keeps
	// updating its progress line while an upload makes any headway, so
	// silence means a wedged connection rather than a slow one.
	Timeout time.Duration

	// Progress receives upload progress whenever mcumgr prints it. The
	// speed string is empty when mcumgr omits it.
	Progress func(percent float64, speed string)
}

func (m *Mcumgr) path() string {
	if m.Path != "" {
		return m.Path
	}
	return "mcumgr"
}

func (m *Mcumgr) connstring(port string) string {
	baud := m.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	mtu := m.MTU
	if mtu == 0 {
		mtu = DefaultMTU
	}
	return fmt.Sprintf("dev=%s,baud=%d,mtu=%d", port, baud, mtu)
}

func (m *Mcumgr) args(port string, op ...string) []string {
	return append([]string{"--conntype=serial", "--connstring=" + m.connstring(port)}, op...)
}

// Upload writes the image into the bootloader's secondary slot.
func (m *Mcumgr) Upload(ctx context.Context, port, image string) (int, string, error) {
	return m.run(ctx, m.args(port, "image", "upload", "-e", image))
}

// List queries the image slots the bootloader currently holds.
func (m *Mcumgr) List(ctx context.Context, port string) (int, string, error) {
	return m.run(ctx, m.args(port, "image", "list"))
}

// Reset reboots the board out of the bootloader into the new image.
func (m *Mcumgr) Reset(ctx context.Context, port string) (int, string, error) {
	return m.run(ctx, m.args(port, "reset"))
}

// Version reports the mcumgr client's own version, e.g. "0.3.0".
func (m *Mcumgr) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, m.path(), "version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s version: %w", m.path(), err)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", fmt.Errorf("%s version: empty output", m.path())
	}
	return strings.TrimPrefix(fields[len(fields)-1], "v"), nil
}

func (m *Mcumgr) run(ctx context.Context, args []string) (int, string, error) {
	cmd := exec.CommandContext(ctx, m.path(), args...)

	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, "", err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return 0, "", fmt.Errorf("start %s: %w", m.path(), err)
	}
	pw.Close()

	timeout := m.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cmd.Process.Kill()
	})

	var buf strings.Builder
	last := ""
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanToolLines)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if line != last {
			timer.Reset(timeout)
			last = line
		}
		if m.Progress != nil {
			if pct, speed, ok := parseUploadProgress(line); ok {
				m.Progress(pct, speed)
			}
		}
	}
	scanErr := scanner.Err()
	pr.Close()
	if scanErr != nil {
		// The pipe is wedged under a still-running child; give up on it.
		cmd.Process.Kill()
	}
	timer.Stop()

	err = cmd.Wait()
	output := buf.String()

	if err != nil {
		if timedOut.Load() {
			return -1, output, fmt.Errorf("%s: %w", m.path(), ErrTimeout)
		}
		if scanErr != nil {
			return -1, output, fmt.Errorf("read %s output: %w", m.path(), scanErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), output, nil
		}
		return -1, output, fmt.Errorf("run %s: %w", m.path(), err)
	}
	return 0, output, nil
}

// mcumgr redraws its upload progress on a single line delimited by bare
// carriage returns, so both \r and \n terminate a token. Splitting on \n
// alone would starve the inactivity timer for the whole upload.
func scanToolLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// mcumgr prints upload progress as
// " 54.31 KiB / 92.50 KiB [====>----] 58.71% 9.88 KiB/s".
var uploadProgressRE = regexp.MustCompile(`(\d+(?:\.\d+)?) ([KMG]?i?B) / (\d+(?:\.\d+)?) ([KMG]?i?B).*?(\d+(?:\.\d+)?)%(?: (\d+(?:\.\d+)?) ([KMG]?i?B/s))?`)

func parseUploadProgress(line string) (float64, string, bool) {
	groups := uploadProgressRE.FindStringSubmatch(line)
	if groups == nil {
		return 0, "", false
	}
	pct, err := strconv.ParseFloat(groups[5], 64)
	if err != nil {
		return 0, "", false
	}
	speed := ""
	if groups[6] != "" {
		speed = groups[6] + " " + groups[7]
	}
	return pct, speed, true
}

var imageHashRE = regexp.MustCompile(`hash:\s*([0-9a-f]{64})`)

// parseImageHashes extracts the slot hashes from "mcumgr image list"
// output.
func parseImageHashes(output string) []string {
	var hashes []string
	for _, groups := range imageHashRE.FindAllStringSubmatch(output, -1) {
		hashes = append(hashes, groups[1])
	}
	return hashes
}

// classifyUpload maps a failed upload invocation onto a status code. The
// markers come from observed mcumgr failure output; anything unrecognized
// is reported as an upload rejection with the tool output attached.
func classifyUpload(output string) int {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "nmp timeout") || strings.Contains(lower, "no response"):
		return CodeDeviceNotResponding
	case strings.Contains(lower, "resource busy") || strings.Contains(lower, "permission denied"):
		return CodePortBusy
	default:
		return CodeUploadRejected
	}
}

// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package flash

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const (
	touchBaud   = 1200
	touchSettle = 400 * time.Millisecond
)

// TouchPort opens the port at 1200 baud and drops DTR, which boards with a
// CDC ACM reset trigger interpret as "reboot into the bootloader". The
// settle delay after closing is required by SAM-BA based boards.
func TouchPort(port string) error {
	p, err := serial.Open(port, &serial.Mode{BaudRate: touchBaud})
	if err != nil {
		return fmt.Errorf("open %s: %w", port, err)
	}
	p.SetDTR(false)
	if err := p.Close(); err != nil {
		return fmt.Errorf("close %s: %w", port, err)
	}
	time.Sleep(touchSettle)
	return nil
}

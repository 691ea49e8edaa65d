// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package flash

import "fmt"

// Status codes reported in Result.Code. Codes 10 and 11 are produced before
// the external tool is ever started; 12 through 16 describe failures of the
// mcumgr invocation itself; 17 and 18 cover the reboot dance around it.
const (
	CodeOK                  = 0
	CodeFirmwareUnreadable  = 10
	CodeHashMismatch        = 11
	CodeToolUnavailable     = 12
	CodeToolTimeout         = 13
	CodeUploadRejected      = 14
	CodeDeviceNotResponding = 15
	CodePortBusy            = 16
	CodeBootloaderNotFound  = 17
	CodeResetFailed         = 18
)

// Result is the outcome of a single flash attempt. OK is true only when the
// external tool reported success and, if an expected hash was supplied, the
// firmware file matched it.
type Result struct {
	Code    int
	Message string
	OK      bool
}

func failure(code int, format string, args ...interface{}) Result {
	return Result{Code: code, Message: fmt.Sprintf(format, args...)}
}

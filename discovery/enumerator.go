// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package discovery

import (
	"strconv"

	"go.bug.st/serial/enumerator"
)

type systemEnumerator struct{}

func (systemEnumerator) ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{
			Name:         d.Name,
			Description:  d.Product,
			SerialNumber: d.SerialNumber,
			IsUSB:        d.IsUSB,
		}
		if d.IsUSB {
			if id, ok := parseUSBID(d.VID, d.PID); ok {
				info.ID = id
				info.HasID = true
			}
		}
		ports = append(ports, info)
	}
	return ports, nil
}

// parseUSBID converts the enumerator's four-digit hex strings into numeric
// identifiers. Some drivers report empty strings for ports they cannot
// identify; those ports end up without an ID.
func parseUSBID(vid, pid string) (DeviceID, bool) {
	v, err := strconv.ParseUint(vid, 16, 16)
	if err != nil {
		return DeviceID{}, false
	}
	p, err := strconv.ParseUint(pid, 16, 16)
	if err != nil {
		return DeviceID{}, false
	}
	return DeviceID{VID: uint16(v), PID: uint16(p)}, true
}

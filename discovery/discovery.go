// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package discovery locates OwnTech boards among the serial ports attached
// to the host by matching the USB vendor and product IDs their drivers
// report.
package discovery

import (
	"fmt"
	"strings"
)

// DeviceID identifies a USB device model by its vendor and product IDs.
type DeviceID struct {
	VID uint16
	PID uint16
}

func (id DeviceID) String() string {
	return fmt.Sprintf("%04x:%04x", id.VID, id.PID)
}

// PortInfo describes one serial port at the time of enumeration. Ports
// backed by non-USB adapters carry HasID == false; callers must treat the
// identifiers of such ports as unknown.
type PortInfo struct {
	Name         string
	Description  string
	SerialNumber string
	IsUSB        bool
	ID           DeviceID
	HasID        bool
}

// PortEnumerator lists the serial ports currently attached to the host.
// Each call returns a point-in-time snapshot; nothing is cached between
// calls and the order of the returned ports is OS-defined.
type PortEnumerator interface {
	ListPorts() ([]PortInfo, error)
}

// Locator answers "which port is the board on" queries against a
// PortEnumerator.
type Locator struct {
	enum PortEnumerator
}

// NewLocator returns a Locator backed by enum. Passing nil selects the
// host's serial port enumeration.
func NewLocator(enum PortEnumerator) *Locator {
	if enum == nil {
		enum = systemEnumerator{}
	}
	return &Locator{enum: enum}
}

// FindDevice returns the first attached port whose USB identifiers equal id.
// When name is non-empty the port's description must also contain it,
// compared case-insensitively. The boolean is false when no attached port
// matches; absence is a normal outcome, not an error. A non-nil error is
// returned only when listing the ports itself fails.
func (l *Locator) FindDevice(id DeviceID, name string) (string, bool, error) {
	ports, err := l.enum.ListPorts()
	if err != nil {
		return "", false, fmt.Errorf("list serial ports: %w", err)
	}
	for _, port := range ports {
		if !port.HasID || port.ID != id {
			continue
		}
		if name != "" && !containsFold(port.Description, name) {
			continue
		}
		return port.Name, true, nil
	}
	return "", false, nil
}

// PortID reports the USB identifiers of whatever is attached to portName.
// The boolean is false when the port does not exist or exposes no USB
// identification; callers must treat that as unknown rather than a failure.
func (l *Locator) PortID(portName string) (DeviceID, bool, error) {
	ports, err := l.enum.ListPorts()
	if err != nil {
		return DeviceID{}, false, fmt.Errorf("list serial ports: %w", err)
	}
	for _, port := range ports {
		if port.Name != portName {
			continue
		}
		return port.ID, port.HasID, nil
	}
	return DeviceID{}, false, nil
}

// Ports returns the current enumeration snapshot.
func (l *Locator) Ports() ([]PortInfo, error) {
	return l.enum.ListPorts()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

var defaultLocator = NewLocator(nil)

// FindDevice searches the host's serial ports with a default Locator.
func FindDevice(id DeviceID, name string) (string, bool, error) {
	return defaultLocator.FindDevice(id, name)
}

// PortID queries the host's serial ports with a default Locator.
func PortID(portName string) (DeviceID, bool, error) {
	return defaultLocator.PortID(portName)
}

// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package discovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEnumerator struct {
	ports []PortInfo
	err   error
}

func (f *fakeEnumerator) ListPorts() ([]PortInfo, error) {
	return f.ports, f.err
}

var twist = DeviceID{VID: 0x2fe3, PID: 0x0100}

func testPorts() []PortInfo {
	return []PortInfo{
		{Name: "/dev/ttyS0", IsUSB: false},
		{Name: "/dev/ttyACM0", Description: "Twist v1.4", IsUSB: true, ID: twist, HasID: true},
		{Name: "/dev/ttyACM1", Description: "PicoBoot", IsUSB: true, ID: DeviceID{VID: 0x2e8a, PID: 0x0005}, HasID: true},
		{Name: "/dev/ttyACM2", Description: "Spin", IsUSB: true, ID: twist, HasID: true},
	}
}

func TestFindDevice(t *testing.T) {
	l := NewLocator(&fakeEnumerator{ports: testPorts()})

	port, found, err := l.FindDevice(twist, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "/dev/ttyACM0", port)

	port, found, err = l.FindDevice(DeviceID{VID: 0x2e8a, PID: 0x0005}, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "/dev/ttyACM1", port)
}

func TestFindDeviceNotFound(t *testing.T) {
	l := NewLocator(&fakeEnumerator{ports: testPorts()})

	port, found, err := l.FindDevice(DeviceID{VID: 0x0483, PID: 0x374b}, "")
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, port)
}

func TestFindDeviceNameFilter(t *testing.T) {
	l := NewLocator(&fakeEnumerator{ports: testPorts()})

	// Substring match, case-insensitive.
	port, found, err := l.FindDevice(twist, "twist")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "/dev/ttyACM0", port)

	// A port with matching IDs but the wrong description must not stop the
	// search; the later match wins.
	port, found, err = l.FindDevice(twist, "Spin")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "/dev/ttyACM2", port)

	_, found, err = l.FindDevice(twist, "Other")
	require.NoError(t, err)
	require.False(t, found)
}

func TestFindDeviceFirstMatchWins(t *testing.T) {
	// Two ports carry the same IDs; the first one in enumeration order is
	// returned, and repeating the query with unchanged hardware returns the
	// same port.
	l := NewLocator(&fakeEnumerator{ports: testPorts()})

	first, found, err := l.FindDevice(twist, "")
	require.NoError(t, err)
	require.True(t, found)

	again, found, err := l.FindDevice(twist, "")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, first, again)
}

func TestFindDeviceEnumerationFailure(t *testing.T) {
	boom := errors.New("udev unavailable")
	l := NewLocator(&fakeEnumerator{err: boom})

	_, _, err := l.FindDevice(twist, "")
	require.ErrorIs(t, err, boom)
}

func TestPortID(t *testing.T) {
	l := NewLocator(&fakeEnumerator{ports: testPorts()})

	id, ok, err := l.PortID("/dev/ttyACM0")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, twist, id)

	// Attached but without USB identification.
	_, ok, err = l.PortID("/dev/ttyS0")
	require.NoError(t, err)
	require.False(t, ok)

	// Not attached at all.
	_, ok, err = l.PortID("/dev/ttyACM9")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseUSBID(t *testing.T) {
	id, ok := parseUSBID("2FE3", "0100")
	require.True(t, ok)
	require.Equal(t, twist, id)

	_, ok = parseUSBID("", "")
	require.False(t, ok)

	_, ok = parseUSBID("xyz", "0100")
	require.False(t, ok)
}

func TestDeviceIDString(t *testing.T) {
	require.Equal(t, "2fe3:0100", twist.String())
}

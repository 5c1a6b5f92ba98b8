// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package udev discovers DRM devices and reports them being hot-plugged
package udev

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	ErrNoGPU        = errors.New("no GPU found")
	ErrNoRenderNode = errors.New("device has no render node")
	ErrNotCharDev   = errors.New("not a character device")
)

// DeviceID identifies a device node by its major and minor number.
// Stable for the lifetime of the device and not reused while it exists.
type DeviceID uint64

func NewDeviceID(major, minor uint32) DeviceID {
	return DeviceID(unix.Mkdev(major, minor))
}

func (d DeviceID) Major() uint32 { return unix.Major(uint64(d)) }
func (d DeviceID) Minor() uint32 { return unix.Minor(uint64(d)) }

func (d DeviceID) String() string {
	return fmt.Sprintf("%d:%d", d.Major(), d.Minor())
}

// ParseDeviceID parses the "major:minor" format used by sysfs dev files
func ParseDeviceID(s string) (DeviceID, error) {
	maj, min, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("malformed device number %q", s)
	}
	major, err := strconv.ParseUint(maj, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed major in %q: %w", s, err)
	}
	minor, err := strconv.ParseUint(min, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed minor in %q: %w", s, err)
	}
	return NewDeviceID(uint32(major), uint32(minor)), nil
}

// FromPath stats a device node and returns its id
func FromPath(path string) (DeviceID, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return 0, fmt.Errorf("%s: %w", path, ErrNotCharDev)
	}
	return DeviceID(st.Rdev), nil
}

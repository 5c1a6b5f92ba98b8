// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package udev

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

// A kernel uevent as received over netlink
type Uevent struct {
	Action    string
	DevPath   string
	Subsystem string
	DevName   string
	Env       map[string]string
}

var errNotUevent = errors.New("not a kernel uevent")

// ParseUevent decodes "action@devpath\0KEY=value\0..."
func ParseUevent(msg []byte) (Uevent, error) {
	fields := bytes.Split(msg, []byte{0})
	if len(fields) == 0 || !bytes.Contains(fields[0], []byte("@")) {
		return Uevent{}, errNotUevent
	}
	ev := Uevent{Env: make(map[string]string)}
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(string(f), "=")
		if !ok {
			continue
		}
		ev.Env[k] = v
	}
	ev.Action = ev.Env["ACTION"]
	ev.DevPath = ev.Env["DEVPATH"]
	ev.Subsystem = ev.Env["SUBSYSTEM"]
	ev.DevName = ev.Env["DEVNAME"]
	if ev.Action == "" {
		head, _, _ := strings.Cut(string(fields[0]), "@")
		ev.Action = head
	}
	return ev, nil
}

// DeviceID of the node the event is about, if it has one
func (ev Uevent) DeviceID() (DeviceID, bool) {
	major, err := strconv.ParseUint(ev.Env["MAJOR"], 10, 32)
	if err != nil {
		return 0, false
	}
	minor, err := strconv.ParseUint(ev.Env["MINOR"], 10, 32)
	if err != nil {
		return 0, false
	}
	return NewDeviceID(uint32(major), uint32(minor)), true
}

// IsCardChange tells whether this is a change on a primary DRM node, which is how
// the kernel reports connector hot-plug.
func (ev Uevent) IsCardChange() bool {
	return ev.Action == "change" &&
		ev.Subsystem == "drm" &&
		cardName.MatchString(strings.TrimPrefix(ev.DevName, "dri/"))
}

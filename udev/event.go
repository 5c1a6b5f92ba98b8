// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package udev

// Event is one of Added, Changed or Removed
type Event interface {
	Device() DeviceID
	event()
}

// A new device node appeared
type Added struct {
	ID   DeviceID
	Path string
}

// Something about the device changed, usually a connector got (un)plugged
type Changed struct {
	ID DeviceID
}

// The device is gone. Its node can not be used anymore
type Removed struct {
	ID DeviceID
}

func (e Added) Device() DeviceID   { return e.ID }
func (e Changed) Device() DeviceID { return e.ID }
func (e Removed) Device() DeviceID { return e.ID }

func (Added) event()   {}
func (Changed) event() {}
func (Removed) event() {}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package session gives access to seat devices and tells when the session
// loses or regains them, e.g. on a VT switch.
package session

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var log = logrus.WithField("component", "session")

var (
	ErrUnavailable = errors.New("no session available")
	ErrUnknownFD   = errors.New("descriptor was not opened through the session")
)

type Event int

const (
	// The session lost access to its devices
	Pause Event = iota
	// Devices are usable again
	Activate
)

func (e Event) String() string {
	switch e {
	case Pause:
		return "pause"
	case Activate:
		return "activate"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Session opens privileged devices on a seat
type Session interface {
	Open(path string, flags int) (int, error)
	Close(fd int) error
	Seat() string
	Active() bool
	Events() <-chan Event
}

// PauseAcker is implemented by sessions that hold a pause back until the
// devices are no longer used. AckPause is called once they are.
type PauseAcker interface {
	AckPause()
}

// Flags device nodes are opened with
const OpenFlags = unix.O_RDWR | unix.O_CLOEXEC | unix.O_NOCTTY | unix.O_NONBLOCK

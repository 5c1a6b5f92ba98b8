// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package kms

import (
	"image"
	"sync/atomic"

	"github.com/mstarongithub/scanout/gpu"
)

// Serials are unique for the process so that they also tell surfaces of a
// reopened device apart.
var surfaceSerial atomic.Uint32

// Surface is one CRTC scanning out buffers to its connectors
type Surface struct {
	dev          *Device
	crtc         CRTC
	serial       uint32
	mode         Mode
	connectors   []ConnectorID
	needsModeset bool
}

func (s *Surface) CRTC() CRTC { return s.crtc }
func (s *Surface) Mode() Mode { return s.mode }

// Serial is carried by every Event completing a frame of s
func (s *Surface) Serial() uint32 { return s.serial }

// Present puts buf on screen and reports completion through the device's
// event channel. The first frame and the first one after Activate are mode
// sets, everything else is a page flip.
func (s *Surface) Present(buf gpu.Buffer, _ []image.Rectangle) error {
	d := s.dev
	if d.closed {
		return ErrClosed
	}
	if d.paused {
		return ErrPaused
	}
	db, ok := buf.(*DumbBuffer)
	if !ok || db.dev != d {
		return ErrForeignBuffer
	}
	if !s.needsModeset {
		return pageFlip(d.fd, uint32(s.crtc), db.fb, flipUserData(s.crtc, s.serial))
	}
	conns := make([]uint32, len(s.connectors))
	for i, c := range s.connectors {
		conns[i] = uint32(c)
	}
	mode := sysMode(s.mode)
	if err := setCRTC(d.fd, uint32(s.crtc), db.fb, conns, &mode); err != nil {
		return err
	}
	s.needsModeset = false
	d.emit(Event{CRTC: s.crtc, Serial: s.serial})
	return nil
}

// Close turns the CRTC off when the device is still usable
func (s *Surface) Close() error {
	d := s.dev
	if d.surfaces[s.crtc] == s {
		delete(d.surfaces, s.crtc)
	}
	if d.closed || d.paused {
		return nil
	}
	return setCRTC(d.fd, uint32(s.crtc), 0, nil, nil)
}

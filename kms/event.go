// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"encoding/binary"
	"time"
)

const (
	drmEventVBlank       = 0x01
	drmEventFlipComplete = 0x02
	drmEventHeaderLen    = 8
	drmEventVBlankLen    = 32
)

// flipUserData packs what a completion needs to find its surface again
func flipUserData(crtc CRTC, serial uint32) uint64 {
	return uint64(serial)<<32 | uint64(crtc)
}

// parseEvents decodes the drm_event records read from a card's descriptor.
// Only vblank and flip completions are returned, other records are skipped.
// The CRTC and surface serial are taken from the user data set on the page
// flip, which is valid on kernels that do not fill in crtc_id.
func parseEvents(buf []byte) []Event {
	var events []Event
	for len(buf) >= drmEventHeaderLen {
		typ := binary.NativeEndian.Uint32(buf[0:4])
		length := int(binary.NativeEndian.Uint32(buf[4:8]))
		if length < drmEventHeaderLen || length > len(buf) {
			break
		}
		rec := buf[:length]
		buf = buf[length:]
		if (typ != drmEventVBlank && typ != drmEventFlipComplete) || len(rec) < drmEventVBlankLen {
			continue
		}
		userData := binary.NativeEndian.Uint64(rec[8:16])
		sec := binary.NativeEndian.Uint32(rec[16:20])
		usec := binary.NativeEndian.Uint32(rec[20:24])
		seq := binary.NativeEndian.Uint32(rec[24:28])
		crtc := binary.NativeEndian.Uint32(rec[28:32])
		var serial uint32
		if userData != 0 {
			crtc = uint32(userData)
			serial = uint32(userData >> 32)
		}
		events = append(events, Event{
			CRTC:     CRTC(crtc),
			Serial:   serial,
			Sequence: seq,
			Time:     time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond,
		})
	}
	return events
}

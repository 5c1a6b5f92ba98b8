// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package kms

import (
	"fmt"
	"image"
)

const (
	ModeTypePreferred = 1 << 3
	ModeTypeDriver    = 1 << 6

	modeFlagInterlace = 1 << 4
	modeFlagDblScan   = 1 << 5
)

// Mode is a display timing as reported by the driver
type Mode struct {
	Clock      uint32
	HDisplay   uint16
	HSyncStart uint16
	HSyncEnd   uint16
	HTotal     uint16
	HSkew      uint16
	VDisplay   uint16
	VSyncStart uint16
	VSyncEnd   uint16
	VTotal     uint16
	VScan      uint16
	VRefresh   uint32
	Flags      uint32
	Type       uint32
	Name       string
}

func (m Mode) Preferred() bool { return m.Type&ModeTypePreferred != 0 }

func (m Mode) Size() image.Point {
	return image.Pt(int(m.HDisplay), int(m.VDisplay))
}

// Refresh rate in millihertz, computed from the timings
func (m Mode) Refresh() int {
	if m.HTotal == 0 || m.VTotal == 0 {
		return int(m.VRefresh) * 1000
	}
	refresh := (int64(m.Clock)*1_000_000/int64(m.HTotal) + int64(m.VTotal)/2) / int64(m.VTotal)
	if m.Flags&modeFlagInterlace != 0 {
		refresh *= 2
	}
	if m.Flags&modeFlagDblScan != 0 {
		refresh /= 2
	}
	if m.VScan > 1 {
		refresh /= int64(m.VScan)
	}
	return int(refresh)
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%.3f", m.HDisplay, m.VDisplay, float64(m.Refresh())/1000)
}

// SelectMode returns the mode the driver flags as preferred, or the first one.
// Driver order decides otherwise.
func SelectMode(modes []Mode) (Mode, error) {
	if len(modes) == 0 {
		return Mode{}, ErrNoModes
	}
	for _, m := range modes {
		if m.Preferred() {
			return m, nil
		}
	}
	return modes[0], nil
}

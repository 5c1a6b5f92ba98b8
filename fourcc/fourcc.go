// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package fourcc holds the DRM pixel format codes the display pipeline deals with
package fourcc

import "fmt"

// A DRM fourcc pixel format code, as found in drm_fourcc.h
type Format uint32

func code(a, b, c, d byte) Format {
	return Format(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	ABGR2101010 = code('A', 'B', '3', '0')
	ARGB2101010 = code('A', 'R', '3', '0')
	ABGR8888    = code('A', 'B', '2', '4')
	ARGB8888    = code('A', 'R', '2', '4')
	XBGR8888    = code('X', 'B', '2', '4')
	XRGB8888    = code('X', 'R', '2', '4')
)

// Scanout formats in order of preference.
// Higher bit depth first, then the 32 bit formats every driver can do.
var Preferred = []Format{
	ABGR2101010,
	ARGB2101010,
	ABGR8888,
	ARGB8888,
}

func (f Format) String() string {
	return fmt.Sprintf("%c%c%c%c", byte(f), byte(f>>8), byte(f>>16), byte(f>>24))
}

// Depth and bits per pixel as the legacy ADDFB interface wants them
func (f Format) DepthBpp() (depth, bpp uint32) {
	switch f {
	case ABGR2101010, ARGB2101010:
		return 30, 32
	case XBGR8888, XRGB8888:
		return 24, 32
	default:
		return 32, 32
	}
}

// Intersect returns every format of preference that is also in supported.
// Order of preference is kept, so the first entry is the best usable format.
func Intersect(preference []Format, supported []Format) []Format {
	set := make(map[Format]struct{}, len(supported))
	for _, f := range supported {
		set[f] = struct{}{}
	}
	out := make([]Format, 0, len(preference))
	for _, f := range preference {
		if _, ok := set[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

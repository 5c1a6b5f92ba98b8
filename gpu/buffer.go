// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package gpu tracks render capable GPU nodes and hands out renderers bound to them.
package gpu

import (
	"errors"
	"image"

	"github.com/mstarongithub/scanout/fourcc"
	"golang.org/x/image/draw"
)

var (
	ErrUnknownNode = errors.New("render node is not registered")
	ErrNoFormat    = errors.New("no supported pixel format")
)

// What a buffer is going to be used for
type Usage uint32

const (
	UsageRendering Usage = 1 << iota
	UsageScanout
)

// Buffer is a GPU buffer that is also mapped for CPU access
type Buffer interface {
	Size() image.Point
	Format() fourcc.Format
	Image() draw.Image
	Destroy() error
}

// Allocator creates buffers on one device
type Allocator interface {
	Allocate(width, height int, format fourcc.Format, usage Usage) (Buffer, error)
}

// AllocateFirst tries the formats in order and returns the first buffer that could be created
func AllocateFirst(a Allocator, width, height int, formats []fourcc.Format, usage Usage) (Buffer, error) {
	if len(formats) == 0 {
		return nil, ErrNoFormat
	}
	var errs []error
	for _, f := range formats {
		buf, err := a.Allocate(width, height, f, usage)
		if err == nil {
			return buf, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

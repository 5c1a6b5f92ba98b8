// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gpu

import (
	"fmt"
	"image"
	"image/color"

	"github.com/mstarongithub/scanout/fourcc"
	"golang.org/x/image/draw"
)

// NewImage wraps raw pixel memory of the given format as a drawable image.
// Only the 8 bit per channel formats can be drawn into by the CPU.
func NewImage(format fourcc.Format, size image.Point, pix []byte, stride int) (draw.Image, error) {
	rect := image.Rectangle{Max: size}
	switch format {
	case fourcc.ABGR8888, fourcc.XBGR8888:
		// little endian ABGR is R, G, B, A in memory which is exactly image.RGBA
		return &image.RGBA{Pix: pix, Stride: stride, Rect: rect}, nil
	case fourcc.ARGB8888, fourcc.XRGB8888:
		return &BGRA{Pix: pix, Stride: stride, Rect: rect}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoFormat, format)
}

// BGRA is an in-memory image with B, G, R, A byte order (DRM ARGB8888)
type BGRA struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

func (p *BGRA) ColorModel() color.Model { return color.RGBAModel }
func (p *BGRA) Bounds() image.Rectangle { return p.Rect }

func (p *BGRA) offset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

func (p *BGRA) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.offset(x, y)
	s := p.Pix[i : i+4 : i+4]
	return color.RGBA{R: s[2], G: s[1], B: s[0], A: s[3]}
}

func (p *BGRA) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	i := p.offset(x, y)
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	s := p.Pix[i : i+4 : i+4]
	s[0], s[1], s[2], s[3] = rgba.B, rgba.G, rgba.R, rgba.A
}

// Formats the software renderer can draw into
var SoftwareFormats = []fourcc.Format{
	fourcc.ABGR8888,
	fourcc.ARGB8888,
	fourcc.XBGR8888,
	fourcc.XRGB8888,
}

// MemoryAllocator hands out plain system memory buffers.
// Used for offscreen copies and wherever no device memory is needed.
type MemoryAllocator struct{}

func (MemoryAllocator) Allocate(width, height int, format fourcc.Format, _ Usage) (Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", width, height)
	}
	size := image.Pt(width, height)
	pix := make([]byte, width*height*4)
	img, err := NewImage(format, size, pix, width*4)
	if err != nil {
		return nil, err
	}
	return &memoryBuffer{size: size, format: format, img: img}, nil
}

type memoryBuffer struct {
	size   image.Point
	format fourcc.Format
	img    draw.Image
}

func (b *memoryBuffer) Size() image.Point     { return b.size }
func (b *memoryBuffer) Format() fourcc.Format { return b.format }
func (b *memoryBuffer) Image() draw.Image     { return b.img }
func (b *memoryBuffer) Destroy() error        { return nil }

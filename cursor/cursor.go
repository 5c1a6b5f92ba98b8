// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package cursor draws the pointer in software
package cursor

import (
	"image"
	"image/color"

	"github.com/mstarongithub/scanout/output"
	"github.com/mstarongithub/scanout/render"
)

const DefaultSize = 24

// Pointer is the global pointer location, only touched on the display loop
type Pointer struct {
	location image.Point
}

func (p *Pointer) Location() image.Point { return p.location }

// Warp moves the pointer, clamped into bounds when they are not empty
func (p *Pointer) Warp(to image.Point, bounds image.Rectangle) {
	if !bounds.Empty() {
		to.X = min(max(to.X, bounds.Min.X), bounds.Max.X-1)
		to.Y = min(max(to.Y, bounds.Min.Y), bounds.Max.Y-1)
	}
	p.location = to
}

// Cursor is a generated arrow sprite with its hotspot at the tip
type Cursor struct {
	sprite *image.RGBA
	serial uint64
}

func New(size int) *Cursor {
	if size <= 0 {
		size = DefaultSize
	}
	return &Cursor{sprite: arrow(size)}
}

func (c *Cursor) Size() int { return c.sprite.Rect.Dx() }

// ElementsFor returns the cursor element for o when pointer lies inside it
func (c *Cursor) ElementsFor(o *output.Output, pointer image.Point) []render.Element {
	geo := o.Geometry()
	if !pointer.In(geo) {
		return nil
	}
	return []render.Element{&render.Memory{
		Name:     "cursor",
		Position: pointer.Sub(geo.Min),
		Image:    c.sprite,
		Serial:   c.serial,
	}}
}

func arrow(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	head := size * 3 / 4
	inside := func(x, y int) bool {
		if x < 0 || y < 0 || y >= size {
			return false
		}
		if y < head {
			return x <= y*2/3
		}
		// stem below the head
		return x >= size/6 && x <= size/3
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if !inside(x, y) {
				continue
			}
			edge := !inside(x-1, y) || !inside(x+1, y) || !inside(x, y-1) || !inside(x, y+1)
			if edge {
				img.SetRGBA(x, y, color.RGBA{A: 0xff})
			} else {
				img.SetRGBA(x, y, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
			}
		}
	}
	return img
}

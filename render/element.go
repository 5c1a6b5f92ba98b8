// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package render

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Element is something that can be drawn into an output.
// Geometry is in the physical coordinate space of the output being rendered.
// Commit has to change whenever the content changes without the geometry changing.
type Element interface {
	ID() string
	Geometry() image.Rectangle
	Commit() uint64
	Draw(dst draw.Image, clip image.Rectangle)
}

// A single colored rectangle
type Solid struct {
	Name   string
	Rect   image.Rectangle
	Color  color.Color
	Serial uint64
}

func (s *Solid) ID() string                { return s.Name }
func (s *Solid) Geometry() image.Rectangle { return s.Rect }
func (s *Solid) Commit() uint64            { return s.Serial }

func (s *Solid) Draw(dst draw.Image, clip image.Rectangle) {
	draw.Draw(dst, clip.Intersect(s.Rect), image.NewUniform(s.Color), image.Point{}, draw.Over)
}

// An image placed at a position
type Memory struct {
	Name     string
	Position image.Point
	Image    image.Image
	Serial   uint64
}

func (m *Memory) ID() string { return m.Name }

func (m *Memory) Geometry() image.Rectangle {
	b := m.Image.Bounds()
	return image.Rectangle{Min: m.Position, Max: m.Position.Add(b.Size())}
}

func (m *Memory) Commit() uint64 { return m.Serial }

func (m *Memory) Draw(dst draw.Image, clip image.Rectangle) {
	r := clip.Intersect(m.Geometry())
	if r.Empty() {
		return
	}
	src := r.Min.Sub(m.Position).Add(m.Image.Bounds().Min)
	draw.Draw(dst, r, m.Image, src, draw.Over)
}

// Translate returns an element that draws e shifted by offset
func Translate(e Element, offset image.Point) Element {
	if offset == (image.Point{}) {
		return e
	}
	return &translated{inner: e, offset: offset}
}

type translated struct {
	inner  Element
	offset image.Point
}

func (t *translated) ID() string                { return t.inner.ID() }
func (t *translated) Geometry() image.Rectangle { return t.inner.Geometry().Add(t.offset) }
func (t *translated) Commit() uint64            { return t.inner.Commit() }

// Unwrap gives access to the element that was translated
func (t *translated) Unwrap() Element { return t.inner }

func (t *translated) Draw(dst draw.Image, clip image.Rectangle) {
	t.inner.Draw(&shifted{Image: dst, offset: t.offset}, clip.Sub(t.offset))
}

// shifted maps the coordinates of an inner element onto the real target
type shifted struct {
	draw.Image
	offset image.Point
}

func (s *shifted) Bounds() image.Rectangle { return s.Image.Bounds().Sub(s.offset) }

func (s *shifted) At(x, y int) color.Color {
	return s.Image.At(x+s.offset.X, y+s.offset.Y)
}

func (s *shifted) Set(x, y int, c color.Color) {
	s.Image.Set(x+s.offset.X, y+s.offset.Y, c)
}

// Unwrap returns the element below any Translate wrappers
func Unwrap(e Element) Element {
	for {
		t, ok := e.(interface{ Unwrap() Element })
		if !ok {
			return e
		}
		e = t.Unwrap()
	}
}

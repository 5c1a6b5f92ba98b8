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

// How many frames of damage are remembered.
// Buffers older than that get fully repainted.
const historyLen = 4

// More rectangles than this are collapsed into their bounding box
const maxRects = 16

type elementState struct {
	geometry image.Rectangle
	commit   uint64
	index    int
}

// DamageTracker remembers what was rendered into an output the previous frames
// and works out which parts of a buffer of a given age need repainting.
type DamageTracker struct {
	bounds  image.Rectangle
	last    map[string]elementState
	history [][]image.Rectangle
	primed  bool
}

func NewDamageTracker(size image.Point) *DamageTracker {
	return &DamageTracker{
		bounds: image.Rectangle{Max: size},
		last:   make(map[string]elementState),
	}
}

// Result of a damage tracked render
type Result struct {
	// Regions that were repainted, in output coordinates. Empty if nothing changed
	Damage []image.Rectangle
}

// Reset forgets all state, the next frame is fully damaged
func (d *DamageTracker) Reset() {
	d.last = make(map[string]elementState)
	d.history = nil
	d.primed = false
}

// Resize changes the output size. Forces a full repaint
func (d *DamageTracker) Resize(size image.Point) {
	d.bounds = image.Rectangle{Max: size}
	d.Reset()
}

// Damage computes the damage for a buffer that was last rendered age frames ago.
// An age of 0 means the buffer content is unknown.
func (d *DamageTracker) Damage(age int, elements []Element) []image.Rectangle {
	current := d.diff(elements)

	// The history before this frame is what a buffer of that age is missing
	var damage []image.Rectangle
	switch {
	case !d.primed, age <= 0, age-1 > len(d.history):
		damage = []image.Rectangle{d.bounds}
	default:
		damage = append(damage, current...)
		for _, rects := range d.history[:age-1] {
			damage = append(damage, rects...)
		}
		damage = simplify(damage, d.bounds)
	}

	d.history = append([][]image.Rectangle{current}, d.history...)
	if len(d.history) > historyLen {
		d.history = d.history[:historyLen]
	}
	d.primed = true
	return damage
}

func (d *DamageTracker) diff(elements []Element) []image.Rectangle {
	var rects []image.Rectangle
	next := make(map[string]elementState, len(elements))
	for i, e := range elements {
		state := elementState{geometry: e.Geometry(), commit: e.Commit(), index: i}
		next[e.ID()] = state
		prev, ok := d.last[e.ID()]
		switch {
		case !ok:
			rects = append(rects, state.geometry)
		case prev.geometry != state.geometry:
			rects = append(rects, prev.geometry, state.geometry)
		case prev.commit != state.commit, prev.index != state.index:
			rects = append(rects, state.geometry)
		}
	}
	for id, prev := range d.last {
		if _, ok := next[id]; !ok {
			rects = append(rects, prev.geometry)
		}
	}
	d.last = next
	return simplify(rects, d.bounds)
}

// RenderOutput repaints the damaged parts of dst.
// Elements are ordered bottom to top.
func (d *DamageTracker) RenderOutput(dst draw.Image, age int, elements []Element, clear color.Color) Result {
	damage := d.Damage(age, elements)
	fill := image.NewUniform(clear)
	for _, r := range damage {
		draw.Draw(dst, r, fill, image.Point{}, draw.Src)
		for _, e := range elements {
			clip := r.Intersect(e.Geometry())
			if clip.Empty() {
				continue
			}
			e.Draw(dst, clip)
		}
	}
	return Result{Damage: damage}
}

func simplify(rects []image.Rectangle, bounds image.Rectangle) []image.Rectangle {
	out := make([]image.Rectangle, 0, len(rects))
outer:
	for _, r := range rects {
		r = r.Intersect(bounds)
		if r.Empty() {
			continue
		}
		for i, o := range out {
			if r.In(o) {
				continue outer
			}
			if o.In(r) {
				out[i] = r
				continue outer
			}
		}
		out = append(out, r)
	}
	if len(out) > maxRects {
		union := image.Rectangle{}
		for _, r := range out {
			union = union.Union(r)
		}
		return []image.Rectangle{union}
	}
	return out
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package render

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var full = image.Rect(0, 0, 100, 50)

func solid(name string, r image.Rectangle) *Solid {
	return &Solid{Name: name, Rect: r, Color: color.RGBA{R: 255, A: 255}}
}

func TestFirstFrameIsFullyDamaged(t *testing.T) {
	d := NewDamageTracker(image.Pt(100, 50))
	dmg := d.Damage(1, []Element{solid("a", image.Rect(0, 0, 10, 10))})
	assert.Equal(t, []image.Rectangle{full}, dmg)
}

func TestUnchangedFrameHasNoDamage(t *testing.T) {
	d := NewDamageTracker(image.Pt(100, 50))
	elems := []Element{solid("a", image.Rect(0, 0, 10, 10))}
	d.Damage(0, elems)
	assert.Empty(t, d.Damage(1, elems))
}

func TestMovedElementDamagesOldAndNew(t *testing.T) {
	d := NewDamageTracker(image.Pt(100, 50))
	a := solid("a", image.Rect(0, 0, 10, 10))
	d.Damage(0, []Element{a})
	a.Rect = image.Rect(20, 20, 30, 30)
	dmg := d.Damage(1, []Element{a})
	assert.ElementsMatch(t, []image.Rectangle{image.Rect(0, 0, 10, 10), image.Rect(20, 20, 30, 30)}, dmg)
}

func TestOlderBufferAccumulatesDamage(t *testing.T) {
	d := NewDamageTracker(image.Pt(100, 50))
	a := solid("a", image.Rect(0, 0, 10, 10))
	b := solid("b", image.Rect(50, 0, 60, 10))
	d.Damage(0, []Element{a, b})
	a.Serial++
	d.Damage(1, []Element{a, b})
	b.Serial++
	// A double buffered surface hands out buffers of age 2
	dmg := d.Damage(2, []Element{a, b})
	assert.ElementsMatch(t, []image.Rectangle{a.Rect, b.Rect}, dmg)
}

func TestRemovedElementAndUnknownAge(t *testing.T) {
	d := NewDamageTracker(image.Pt(100, 50))
	a := solid("a", image.Rect(0, 0, 10, 10))
	d.Damage(0, []Element{a})
	assert.Equal(t, []image.Rectangle{a.Rect}, d.Damage(1, nil))
	assert.Equal(t, []image.Rectangle{full}, d.Damage(0, nil))
	assert.Equal(t, []image.Rectangle{full}, d.Damage(historyLen+2, nil))
}

func TestRenderOutputPaints(t *testing.T) {
	d := NewDamageTracker(image.Pt(100, 50))
	dst := image.NewRGBA(full)
	res := d.RenderOutput(dst, 0, []Element{solid("a", image.Rect(0, 0, 10, 10))}, color.RGBA{B: 255, A: 255})
	require.Len(t, res.Damage, 1)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, dst.RGBAAt(5, 5))
	assert.Equal(t, color.RGBA{B: 255, A: 255}, dst.RGBAAt(50, 25))
}

func TestTranslatedElementDraws(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	m := &Memory{Name: "cursor", Position: image.Pt(10, 10), Image: img}
	e := Translate(m, image.Pt(-5, -5))
	assert.Equal(t, image.Rect(5, 5, 9, 9), e.Geometry())
	assert.Same(t, m, Unwrap(e))

	dst := image.NewRGBA(full)
	e.Draw(dst, full)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, dst.RGBAAt(6, 6))
	assert.Equal(t, color.RGBA{}, dst.RGBAAt(10, 10))
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package output

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeCurrentState(t *testing.T) {
	o := New("DP-1", PhysicalProperties{Make: "VSC", Model: "VA2478-H-2"})
	_, ok := o.CurrentMode()
	assert.False(t, ok)

	mode := Mode{Size: image.Pt(1920, 1080), Refresh: 60000}
	o.SetPreferred(mode)
	tr := Normal
	loc := image.Pt(1280, 0)
	o.ChangeCurrentState(&mode, &tr, nil, &loc)

	cur, ok := o.CurrentMode()
	assert.True(t, ok)
	assert.Equal(t, mode, cur)
	assert.Len(t, o.Modes(), 1)
	assert.Equal(t, 1.0, o.Scale())
	assert.Equal(t, image.Rect(1280, 0, 3200, 1080), o.Geometry())
}

func TestGeometryRespectsTransformAndScale(t *testing.T) {
	o := New("eDP-1", PhysicalProperties{})
	mode := Mode{Size: image.Pt(2560, 1600), Refresh: 60000}
	tr := Rotated90
	scale := 2.0
	o.ChangeCurrentState(&mode, &tr, &scale, nil)
	assert.Equal(t, image.Rect(0, 0, 800, 1280), o.Geometry())

	tr = Flipped180
	o.ChangeCurrentState(nil, &tr, nil, nil)
	assert.Equal(t, image.Pt(1280, 800), o.LogicalSize())
	assert.Equal(t, "flipped-180", o.Transform().String())
}

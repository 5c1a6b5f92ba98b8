// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package layout

import (
	"image"
	"testing"

	"github.com/mstarongithub/scanout/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOutput(name string, w, h int) *output.Output {
	o := output.New(name, output.PhysicalProperties{})
	mode := output.Mode{Size: image.Pt(w, h), Refresh: 60000}
	o.ChangeCurrentState(&mode, nil, nil, nil)
	return o
}

func TestMapRightAppends(t *testing.T) {
	l := New()
	a := newOutput("HDMI-A-1", 1920, 1080)
	b := newOutput("DP-1", 1280, 1024)

	assert.Equal(t, image.Pt(0, 0), l.MapRight(a))
	assert.Equal(t, image.Pt(1920, 0), l.MapRight(b))
	assert.Equal(t, image.Rect(0, 0, 3200, 1080), l.Bounds())

	assert.Same(t, b, l.OutputAt(image.Pt(2000, 10)))
	assert.Nil(t, l.OutputAt(image.Pt(2000, 1050)))

	geo, ok := l.Geometry(b)
	require.True(t, ok)
	assert.Equal(t, image.Rect(1920, 0, 3200, 1024), geo)
}

func TestUnmap(t *testing.T) {
	l := New()
	a := newOutput("HDMI-A-1", 1920, 1080)
	b := newOutput("DP-1", 1280, 1024)
	l.MapRight(a)
	l.MapRight(b)

	l.Unmap(a)
	assert.Equal(t, []*output.Output{b}, l.Outputs())
	_, ok := l.Geometry(a)
	assert.False(t, ok)

	// remapping b ignores its own old position
	assert.Equal(t, image.Pt(0, 0), l.MapRight(b))
	assert.Len(t, l.Outputs(), 1)
}

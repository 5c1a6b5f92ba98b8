// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package space

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/mstarongithub/scanout/layout"
	"github.com/mstarongithub/scanout/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoOutputs() (*layout.Layout, *output.Output, *output.Output) {
	l := layout.New()
	mode := output.Mode{Size: image.Pt(100, 100), Refresh: 60000}
	a := output.New("A", output.PhysicalProperties{})
	b := output.New("B", output.PhysicalProperties{})
	a.ChangeCurrentState(&mode, nil, nil, nil)
	b.ChangeCurrentState(&mode, nil, nil, nil)
	l.MapRight(a)
	l.MapRight(b)
	return l, a, b
}

func window(name string, w, h int) *Window {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	return &Window{Name: name, Content: img}
}

func TestElementsAreOutputLocal(t *testing.T) {
	l, a, b := twoOutputs()
	s := New(l)
	w := window("term", 40, 40)
	s.MapWindow(w, image.Pt(80, 10))

	ea := s.ElementsFor(a)
	require.Len(t, ea, 1)
	assert.Equal(t, image.Rect(80, 10, 120, 50), ea[0].Geometry())

	eb := s.ElementsFor(b)
	require.Len(t, eb, 1)
	assert.Equal(t, image.Rect(-20, 10, 20, 50), eb[0].Geometry())

	before := ea[0].Commit()
	w.Damage()
	assert.NotEqual(t, before, s.ElementsFor(a)[0].Commit())
}

func TestFramesGoToPrimaryOutput(t *testing.T) {
	l, a, b := twoOutputs()
	s := New(l)
	var got []time.Duration
	w := window("term", 40, 40)
	w.OnFrame = func(ts time.Duration) { got = append(got, ts) }
	// 30 columns on b, 10 on a
	s.MapWindow(w, image.Pt(90, 0))
	assert.Same(t, b, s.PrimaryOutput(w))

	s.SendFrames(a, time.Second)
	assert.Empty(t, got)
	s.SendFrames(b, 2*time.Second)
	assert.Equal(t, []time.Duration{2 * time.Second}, got)

	s.UnmapWindow(w)
	assert.Empty(t, s.Windows())
	assert.Nil(t, s.PrimaryOutput(w))
}

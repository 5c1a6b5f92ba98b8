// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package layout places outputs in one shared global coordinate space
package layout

import (
	"image"
	"slices"

	"github.com/mstarongithub/scanout/output"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
)

// Layout holds outputs by identity, in the order they were mapped.
// It is only touched from the display loop.
type Layout struct {
	outputs []*output.Output
}

func New() *Layout {
	return &Layout{}
}

// MapRight places o to the right of everything that is mapped, top aligned
func (l *Layout) MapRight(o *output.Output) image.Point {
	x := 0
	for _, other := range l.outputs {
		if other == o {
			continue
		}
		x = max(x, other.Geometry().Max.X)
	}
	loc := image.Pt(x, 0)
	l.Map(o, loc)
	return loc
}

// Map places o at loc, remapping it if it was mapped before
func (l *Layout) Map(o *output.Output, loc image.Point) {
	o.ChangeCurrentState(nil, nil, nil, &loc)
	if !slices.Contains(l.outputs, o) {
		l.outputs = append(l.outputs, o)
	}
}

func (l *Layout) Unmap(o *output.Output) {
	l.outputs = sliceutils.Filter(l.outputs, func(other *output.Output) bool {
		return other != o
	})
}

func (l *Layout) Outputs() []*output.Output {
	return slices.Clone(l.outputs)
}

func (l *Layout) Geometry(o *output.Output) (image.Rectangle, bool) {
	if !slices.Contains(l.outputs, o) {
		return image.Rectangle{}, false
	}
	return o.Geometry(), true
}

// OutputAt returns the first mapped output containing p
func (l *Layout) OutputAt(p image.Point) *output.Output {
	for _, o := range l.outputs {
		if p.In(o.Geometry()) {
			return o
		}
	}
	return nil
}

// Bounds is the union of all mapped outputs
func (l *Layout) Bounds() image.Rectangle {
	var r image.Rectangle
	for _, o := range l.outputs {
		r = r.Union(o.Geometry())
	}
	return r
}

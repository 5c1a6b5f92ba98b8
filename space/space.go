// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package space keeps the client content that gets composited onto outputs
package space

import (
	"image"
	"time"

	"github.com/mstarongithub/scanout/layout"
	"github.com/mstarongithub/scanout/output"
	"github.com/mstarongithub/scanout/render"
)

// Window is a piece of client content placed in the global space
type Window struct {
	Name    string
	Content image.Image
	// called with the presentation time of a frame showing the window
	OnFrame func(time.Duration)

	serial uint64
}

// Damage marks the window content as changed
func (w *Window) Damage() { w.serial++ }

type placed struct {
	window   *Window
	location image.Point
}

// Space stacks windows bottom to top over a layout.
// It is only used from the display loop.
type Space struct {
	layout  *layout.Layout
	windows []placed
}

func New(l *layout.Layout) *Space {
	return &Space{layout: l}
}

func (s *Space) Layout() *layout.Layout { return s.layout }

// MapWindow places w at loc, raising it to the top
func (s *Space) MapWindow(w *Window, loc image.Point) {
	s.UnmapWindow(w)
	s.windows = append(s.windows, placed{window: w, location: loc})
}

func (s *Space) UnmapWindow(w *Window) {
	for i, p := range s.windows {
		if p.window == w {
			s.windows = append(s.windows[:i], s.windows[i+1:]...)
			return
		}
	}
}

func (s *Space) Windows() []*Window {
	out := make([]*Window, len(s.windows))
	for i, p := range s.windows {
		out[i] = p.window
	}
	return out
}

func (p placed) geometry() image.Rectangle {
	return p.window.Content.Bounds().Sub(p.window.Content.Bounds().Min).Add(p.location)
}

// ElementsFor returns the windows overlapping o in output local coordinates,
// bottom to top.
func (s *Space) ElementsFor(o *output.Output) []render.Element {
	geo, ok := s.layout.Geometry(o)
	if !ok {
		return nil
	}
	var elements []render.Element
	for _, p := range s.windows {
		if !p.geometry().Overlaps(geo) {
			continue
		}
		elements = append(elements, &render.Memory{
			Name:     p.window.Name,
			Position: p.location.Sub(geo.Min),
			Image:    p.window.Content,
			Serial:   p.window.serial,
		})
	}
	return elements
}

// PrimaryOutput is the mapped output showing the biggest part of w
func (s *Space) PrimaryOutput(w *Window) *output.Output {
	var (
		best *output.Output
		area int
	)
	for _, p := range s.windows {
		if p.window != w {
			continue
		}
		for _, o := range s.layout.Outputs() {
			r := p.geometry().Intersect(o.Geometry())
			if a := r.Dx() * r.Dy(); a > area {
				best, area = o, a
			}
		}
	}
	return best
}

// SendFrames tells every window whose primary output is o that a frame was presented
func (s *Space) SendFrames(o *output.Output, t time.Duration) {
	for _, p := range s.windows {
		if p.window.OnFrame == nil || s.PrimaryOutput(p.window) != o {
			continue
		}
		p.window.OnFrame(t)
	}
}

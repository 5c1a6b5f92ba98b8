// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package output models a display output as announced to clients:
// identification, supported modes and the current state.
package output

import (
	"fmt"
	"image"
	"slices"
	"sync"
)

// Mode is a resolution with a refresh rate in millihertz
type Mode struct {
	Size    image.Point
	Refresh int
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%.3f", m.Size.X, m.Size.Y, float64(m.Refresh)/1000)
}

type Transform int

const (
	Normal Transform = iota
	Rotated90
	Rotated180
	Rotated270
	Flipped
	Flipped90
	Flipped180
	Flipped270
)

var transformNames = [...]string{
	"normal", "90", "180", "270", "flipped", "flipped-90", "flipped-180", "flipped-270",
}

func (t Transform) String() string {
	if t >= 0 && int(t) < len(transformNames) {
		return transformNames[t]
	}
	return fmt.Sprintf("Transform(%d)", int(t))
}

// Swaps width and height for the quarter turns
func (t Transform) Apply(size image.Point) image.Point {
	switch t {
	case Rotated90, Rotated270, Flipped90, Flipped270:
		return image.Pt(size.Y, size.X)
	}
	return size
}

type Subpixel int

const (
	SubpixelUnknown Subpixel = iota
	SubpixelNone
	SubpixelHorizontalRGB
	SubpixelHorizontalBGR
	SubpixelVerticalRGB
	SubpixelVerticalBGR
)

type PhysicalProperties struct {
	// in millimeters
	Size     image.Point
	Subpixel Subpixel
	Make     string
	Model    string
}

// Output is safe for concurrent use. It is mutated by the display loop and
// read by protocol and debug code.
type Output struct {
	name     string
	physical PhysicalProperties

	mu        sync.RWMutex
	modes     []Mode
	preferred *Mode
	current   *Mode
	transform Transform
	scale     float64
	location  *image.Point
}

func New(name string, physical PhysicalProperties) *Output {
	return &Output{
		name:     name,
		physical: physical,
		scale:    1,
	}
}

func (o *Output) Name() string                 { return o.name }
func (o *Output) Physical() PhysicalProperties { return o.physical }

func (o *Output) addModeLocked(m Mode) {
	if !slices.Contains(o.modes, m) {
		o.modes = append(o.modes, m)
	}
}

// AddMode announces an additional supported mode
func (o *Output) AddMode(m Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.addModeLocked(m)
}

func (o *Output) SetPreferred(m Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.addModeLocked(m)
	o.preferred = &m
}

// ChangeCurrentState updates the parts of the state that are not nil
func (o *Output) ChangeCurrentState(mode *Mode, transform *Transform, scale *float64, location *image.Point) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if mode != nil {
		m := *mode
		o.addModeLocked(m)
		o.current = &m
	}
	if transform != nil {
		o.transform = *transform
	}
	if scale != nil && *scale > 0 {
		o.scale = *scale
	}
	if location != nil {
		l := *location
		o.location = &l
	}
}

func (o *Output) Modes() []Mode {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.modes)
}

func (o *Output) PreferredMode() (Mode, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.preferred == nil {
		return Mode{}, false
	}
	return *o.preferred, true
}

func (o *Output) CurrentMode() (Mode, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil {
		return Mode{}, false
	}
	return *o.current, true
}

func (o *Output) Transform() Transform {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.transform
}

func (o *Output) Scale() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.scale
}

// Location in the global space, false while the output is not mapped
func (o *Output) Location() (image.Point, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.location == nil {
		return image.Point{}, false
	}
	return *o.location, true
}

// Size in logical coordinates, after transform and scale
func (o *Output) LogicalSize() image.Point {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil {
		return image.Point{}
	}
	size := o.transform.Apply(o.current.Size)
	return image.Pt(int(float64(size.X)/o.scale), int(float64(size.Y)/o.scale))
}

// Geometry is the output's rectangle in the global space
func (o *Output) Geometry() image.Rectangle {
	size := o.LogicalSize()
	loc, _ := o.Location()
	return image.Rectangle{Min: loc, Max: loc.Add(size)}
}

func (o *Output) String() string { return o.name }

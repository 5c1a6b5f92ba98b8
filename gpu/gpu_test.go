// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gpu

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/mstarongithub/scanout/fourcc"
	"github.com/mstarongithub/scanout/udev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	primary   = udev.NewDeviceID(226, 128)
	secondary = udev.NewDeviceID(226, 129)
)

// counts allocations and can refuse formats
type countingAllocator struct {
	MemoryAllocator
	allocated int
	refuse    map[fourcc.Format]bool
}

func (c *countingAllocator) Allocate(w, h int, f fourcc.Format, u Usage) (Buffer, error) {
	if c.refuse[f] {
		return nil, errors.New("format refused")
	}
	c.allocated++
	return c.MemoryAllocator.Allocate(w, h, f, u)
}

func TestSelectDirectOnPrimary(t *testing.T) {
	m := NewManager(primary)
	assert.Equal(t, Selection{Kind: Direct, Render: primary, Target: primary}, m.Select(primary))
	assert.Equal(t, Selection{Kind: Bridged, Render: primary, Target: secondary}, m.Select(secondary))
}

func TestRendererNeedsRegisteredNodes(t *testing.T) {
	m := NewManager(primary)
	_, err := m.SingleRenderer(secondary)
	assert.ErrorIs(t, err, ErrUnknownNode)

	require.NoError(t, m.AddNode(secondary, MemoryAllocator{}))
	r, err := m.SingleRenderer(secondary)
	require.NoError(t, err)
	assert.Equal(t, Direct, r.Selection().Kind)

	// primary is still missing
	_, err = m.RendererFor(secondary)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestBridgedRendererCopiesDamage(t *testing.T) {
	m := NewManager(primary)
	primaryAlloc := &countingAllocator{}
	require.NoError(t, m.AddNode(primary, primaryAlloc))
	require.NoError(t, m.AddNode(secondary, MemoryAllocator{}))

	target, err := MemoryAllocator{}.Allocate(8, 8, fourcc.ARGB8888, UsageScanout)
	require.NoError(t, err)

	r, err := m.RendererFor(secondary)
	require.NoError(t, err)
	assert.Equal(t, Bridged, r.Selection().Kind)

	img, age, err := r.Bind(target, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, age, "fresh offscreen copy has no history")
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	img.Set(6, 6, color.RGBA{G: 200, A: 255})
	require.NoError(t, r.Finish([]image.Rectangle{image.Rect(0, 0, 4, 4)}))

	assert.Equal(t, color.RGBA{R: 200, A: 255}, target.Image().At(1, 1))
	assert.Equal(t, color.RGBA{}, target.Image().At(6, 6), "outside damage is not copied")

	r, err = m.RendererFor(secondary)
	require.NoError(t, err)
	_, age, err = r.Bind(target, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, age)
	assert.Equal(t, 1, primaryAlloc.allocated)

	m.RemoveNode(secondary)
	assert.Empty(t, m.scratch)
	assert.Equal(t, []udev.DeviceID{primary}, m.Nodes())
}

func TestAllocateFirstFallsBack(t *testing.T) {
	a := &countingAllocator{refuse: map[fourcc.Format]bool{fourcc.ABGR2101010: true, fourcc.ARGB2101010: true}}
	buf, err := AllocateFirst(a, 4, 4, fourcc.Preferred, UsageScanout)
	require.NoError(t, err)
	assert.Equal(t, fourcc.ABGR8888, buf.Format())

	_, err = AllocateFirst(a, 4, 4, nil, UsageScanout)
	assert.ErrorIs(t, err, ErrNoFormat)
}

func TestBGRAByteOrder(t *testing.T) {
	img, err := NewImage(fourcc.ARGB8888, image.Pt(2, 1), make([]byte, 8), 8)
	require.NoError(t, err)
	img.Set(1, 0, color.RGBA{R: 1, G: 2, B: 3, A: 4})
	assert.Equal(t, []byte{0, 0, 0, 0, 3, 2, 1, 4}, img.(*BGRA).Pix)
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 4}, img.At(1, 0))

	_, err = NewImage(fourcc.ABGR2101010, image.Pt(1, 1), make([]byte, 4), 4)
	assert.ErrorIs(t, err, ErrNoFormat)
}

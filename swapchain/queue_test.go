// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swapchain

import (
	"errors"
	"image"
	"testing"

	"github.com/mstarongithub/scanout/fourcc"
	"github.com/mstarongithub/scanout/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresenter struct {
	presented []gpu.Buffer
	fail      error
}

func (p *fakePresenter) Present(buf gpu.Buffer, _ []image.Rectangle) error {
	if p.fail != nil {
		return p.fail
	}
	p.presented = append(p.presented, buf)
	return nil
}

func newQueue(t *testing.T, count int) (*Queue, *fakePresenter) {
	t.Helper()
	p := &fakePresenter{}
	q, err := New(p, gpu.MemoryAllocator{}, image.Pt(16, 8), fourcc.Preferred, count)
	require.NoError(t, err)
	return q, p
}

func TestNewPicksFirstUsableFormat(t *testing.T) {
	q, _ := newQueue(t, 2)
	assert.Equal(t, fourcc.ABGR8888, q.Format())

	_, err := New(&fakePresenter{}, gpu.MemoryAllocator{}, image.Pt(16, 8), []fourcc.Format{fourcc.ABGR2101010}, 2)
	assert.Error(t, err)
	_, err = New(&fakePresenter{}, gpu.MemoryAllocator{}, image.Pt(16, 8), fourcc.Preferred, 5)
	assert.Error(t, err)
}

func TestDoubleBufferedCycle(t *testing.T) {
	q, p := newQueue(t, 2)

	a, age, err := q.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, age)
	require.NoError(t, q.Queue(a, nil))
	assert.Equal(t, 1, q.InFlight())

	// no second submission before the first completes
	b, _, err := q.Next()
	require.NoError(t, err)
	assert.ErrorIs(t, q.Queue(b, nil), ErrInFlight)
	assert.Equal(t, 1, q.InFlight())

	require.NoError(t, q.FrameSubmitted())
	assert.Equal(t, 0, q.InFlight())

	// b is still acquired and is handed out again
	again, age, err := q.Next()
	require.NoError(t, err)
	assert.Same(t, b, again)
	assert.Equal(t, 0, age)
	require.NoError(t, q.Queue(b, nil))
	require.NoError(t, q.FrameSubmitted())

	// a went from scanout back to free and holds the frame before last
	c, age, err := q.Next()
	require.NoError(t, err)
	assert.Same(t, a, c)
	assert.Equal(t, 2, age)
	assert.Equal(t, []gpu.Buffer{a, b}, p.presented)
}

func TestExhaustedWhileInFlight(t *testing.T) {
	q, _ := newQueue(t, 2)
	a, _, _ := q.Next()
	require.NoError(t, q.Queue(a, nil))
	require.NoError(t, q.FrameSubmitted())
	b, _, _ := q.Next()
	require.NoError(t, q.Queue(b, nil))
	// a is on screen and b waits for scanout
	_, _, err := q.Next()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestFailedPresentKeepsBufferAcquired(t *testing.T) {
	q, p := newQueue(t, 2)
	p.fail = errors.New("device busy")
	a, _, _ := q.Next()
	assert.Error(t, q.Queue(a, nil))
	assert.Equal(t, 0, q.InFlight())

	p.fail = nil
	again, _, err := q.Next()
	require.NoError(t, err)
	assert.Same(t, a, again)
	require.NoError(t, q.Queue(a, nil))
}

func TestFrameSubmittedWithoutQueuedBuffer(t *testing.T) {
	q, _ := newQueue(t, 2)
	assert.ErrorIs(t, q.FrameSubmitted(), ErrNotQueued)
}

func TestResetDropsBuffers(t *testing.T) {
	q, _ := newQueue(t, 3)
	var destroyed []gpu.Buffer
	q.OnDestroy(func(b gpu.Buffer) { destroyed = append(destroyed, b) })

	a, _, _ := q.Next()
	require.NoError(t, q.Queue(a, nil))
	q.Reset()
	assert.Equal(t, 0, q.InFlight())
	assert.Contains(t, destroyed, a)

	b, age, err := q.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, age)
	assert.NotSame(t, a, b)
	require.NoError(t, q.Queue(b, nil))
}

func TestReleaseForgetsContent(t *testing.T) {
	q, _ := newQueue(t, 2)
	a, _, _ := q.Next()
	require.NoError(t, q.Queue(a, nil))
	require.NoError(t, q.FrameSubmitted())
	b, _, _ := q.Next()
	require.NoError(t, q.Queue(b, nil))
	require.NoError(t, q.FrameSubmitted())

	c, age, _ := q.Next()
	assert.Equal(t, 2, age)
	q.Release(c)
	_, age, _ = q.Next()
	assert.Equal(t, 0, age)
	assert.ErrorIs(t, q.Queue(&struct{ gpu.Buffer }{}, nil), ErrNotAcquired)
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package swapchain implements the presentation queue of an output:
// a small fixed set of buffers cycling between rendering, waiting for scanout and being scanned out.
package swapchain

import (
	"errors"
	"fmt"
	"image"

	"github.com/mstarongithub/scanout/fourcc"
	"github.com/mstarongithub/scanout/gpu"
)

var (
	ErrExhausted   = errors.New("all buffers are in use")
	ErrInFlight    = errors.New("a buffer is already waiting for scanout")
	ErrNotAcquired = errors.New("buffer was not acquired from this queue")
	ErrNotQueued   = errors.New("no buffer is waiting for scanout")
)

// Presenter puts a buffer on screen. Presenting is asynchronous, completion is
// reported separately as a vblank event.
type Presenter interface {
	Present(buf gpu.Buffer, damage []image.Rectangle) error
}

type state int

const (
	stateFree state = iota
	stateRendering
	stateQueued
	stateScanout
)

type slot struct {
	buf   gpu.Buffer
	state state
	// frame number this buffer was last queued with, 0 if its content is unknown
	frame uint64
}

// Queue is not safe for concurrent use, it belongs to the event loop.
type Queue struct {
	presenter Presenter
	alloc     gpu.Allocator
	size      image.Point
	format    fourcc.Format
	slots     []*slot
	frame     uint64
	onDestroy func(gpu.Buffer)
}

// New creates a queue of count buffers of the given size.
// The first format in formats that the allocator accepts is used for all buffers.
func New(p Presenter, alloc gpu.Allocator, size image.Point, formats []fourcc.Format, count int) (*Queue, error) {
	if count < 2 || count > 3 {
		return nil, fmt.Errorf("buffer count %d, need 2 or 3", count)
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid surface size %v", size)
	}
	first, err := gpu.AllocateFirst(alloc, size.X, size.Y, formats, gpu.UsageRendering|gpu.UsageScanout)
	if err != nil {
		return nil, err
	}
	q := &Queue{
		presenter: p,
		alloc:     alloc,
		size:      size,
		format:    first.Format(),
		slots:     make([]*slot, count),
	}
	for i := range q.slots {
		q.slots[i] = &slot{}
	}
	q.slots[0].buf = first
	return q, nil
}

// OnDestroy registers a hook that sees every buffer before it is destroyed
func (q *Queue) OnDestroy(fn func(gpu.Buffer)) {
	q.onDestroy = fn
}

func (q *Queue) Format() fourcc.Format { return q.format }
func (q *Queue) Size() image.Point     { return q.size }

// Next hands out a buffer to render into, along with the age of its content.
// A buffer that was acquired but never queued is handed out again.
func (q *Queue) Next() (gpu.Buffer, int, error) {
	var pick *slot
	for _, s := range q.slots {
		if s.state == stateRendering {
			pick = s
			break
		}
		if s.state == stateFree && (pick == nil || (pick.buf == nil && s.buf != nil)) {
			pick = s
		}
	}
	if pick == nil {
		return nil, 0, ErrExhausted
	}
	if pick.buf == nil {
		buf, err := q.alloc.Allocate(q.size.X, q.size.Y, q.format, gpu.UsageRendering|gpu.UsageScanout)
		if err != nil {
			return nil, 0, fmt.Errorf("allocating buffer: %w", err)
		}
		pick.buf = buf
		pick.frame = 0
	}
	pick.state = stateRendering
	return pick.buf, q.age(pick), nil
}

func (q *Queue) age(s *slot) int {
	if s.frame == 0 {
		return 0
	}
	return int(q.frame-s.frame) + 1
}

// Queue presents a rendered buffer. At most one buffer can wait for scanout.
func (q *Queue) Queue(buf gpu.Buffer, damage []image.Rectangle) error {
	s := q.find(buf)
	if s == nil || s.state != stateRendering {
		return ErrNotAcquired
	}
	if q.InFlight() > 0 {
		return ErrInFlight
	}
	if err := q.presenter.Present(buf, damage); err != nil {
		return err
	}
	q.frame++
	s.frame = q.frame
	s.state = stateQueued
	return nil
}

// Release gives back a buffer that was acquired but will not be queued.
// Its content is considered unknown afterwards.
func (q *Queue) Release(buf gpu.Buffer) {
	if s := q.find(buf); s != nil && s.state == stateRendering {
		s.state = stateFree
		s.frame = 0
	}
}

// FrameSubmitted marks the queued buffer as being scanned out and frees the one it replaced
func (q *Queue) FrameSubmitted() error {
	var queued *slot
	for _, s := range q.slots {
		if s.state == stateQueued {
			queued = s
		}
	}
	if queued == nil {
		return ErrNotQueued
	}
	for _, s := range q.slots {
		if s.state == stateScanout {
			s.state = stateFree
		}
	}
	queued.state = stateScanout
	return nil
}

// InFlight counts buffers waiting for scanout, either 0 or 1
func (q *Queue) InFlight() int {
	n := 0
	for _, s := range q.slots {
		if s.state == stateQueued {
			n++
		}
	}
	return n
}

// Reset throws away all buffers, their state can not be trusted anymore.
// New buffers are allocated as they are needed.
func (q *Queue) Reset() {
	q.destroyBuffers()
	q.frame = 0
}

// Destroy releases all buffers
func (q *Queue) Destroy() {
	q.destroyBuffers()
}

func (q *Queue) destroyBuffers() {
	for _, s := range q.slots {
		if s.buf != nil {
			if q.onDestroy != nil {
				q.onDestroy(s.buf)
			}
			s.buf.Destroy()
		}
		*s = slot{}
	}
}

func (q *Queue) find(buf gpu.Buffer) *slot {
	for _, s := range q.slots {
		if s.buf != nil && s.buf == buf {
			return s
		}
	}
	return nil
}

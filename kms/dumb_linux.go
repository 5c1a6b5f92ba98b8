// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package kms

import (
	"fmt"
	"image"
	"slices"

	"github.com/mstarongithub/scanout/fourcc"
	"github.com/mstarongithub/scanout/gpu"
	"golang.org/x/image/draw"
	"golang.org/x/sys/unix"
)

// DumbAllocator creates CPU mapped scanout buffers on a card
type DumbAllocator struct {
	dev *Device
}

func NewDumbAllocator(d *Device) (*DumbAllocator, error) {
	if d.closed {
		return nil, ErrClosed
	}
	return &DumbAllocator{dev: d}, nil
}

func (a *DumbAllocator) Allocate(width, height int, format fourcc.Format, _ gpu.Usage) (gpu.Buffer, error) {
	d := a.dev
	if d.closed {
		return nil, ErrClosed
	}
	if !slices.Contains(gpu.SoftwareFormats, format) {
		return nil, fmt.Errorf("%w: %s", gpu.ErrNoFormat, format)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", width, height)
	}
	_, bpp := format.DepthBpp()
	dumb, err := createDumb(d.fd, uint32(width), uint32(height), bpp)
	if err != nil {
		return nil, fmt.Errorf("create dumb buffer: %w", err)
	}
	b := &DumbBuffer{
		dev:    d,
		handle: dumb.Handle,
		size:   image.Pt(width, height),
		format: format,
	}
	b.fb, err = addFB2(d.fd, uint32(width), uint32(height), uint32(format), dumb.Handle, dumb.Pitch)
	if err != nil {
		destroyDumb(d.fd, dumb.Handle)
		return nil, fmt.Errorf("add framebuffer: %w", err)
	}
	offset, err := mapDumb(d.fd, dumb.Handle)
	if err != nil {
		b.Destroy()
		return nil, fmt.Errorf("map dumb buffer: %w", err)
	}
	b.mem, err = unix.Mmap(d.fd, int64(offset), int(dumb.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		b.Destroy()
		return nil, fmt.Errorf("mmap dumb buffer: %w", err)
	}
	b.img, err = gpu.NewImage(format, b.size, b.mem, int(dumb.Pitch))
	if err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

// DumbBuffer is a dumb buffer with a framebuffer attached
type DumbBuffer struct {
	dev    *Device
	handle uint32
	fb     uint32
	size   image.Point
	format fourcc.Format
	mem    []byte
	img    draw.Image
}

func (b *DumbBuffer) Size() image.Point     { return b.size }
func (b *DumbBuffer) Format() fourcc.Format { return b.format }
func (b *DumbBuffer) Image() draw.Image     { return b.img }

// Destroy unmaps the buffer. Kernel objects are only released while the
// device is open, closing the card frees them anyway.
func (b *DumbBuffer) Destroy() error {
	var err error
	if b.mem != nil {
		err = unix.Munmap(b.mem)
		b.mem = nil
	}
	b.img = nil
	if b.dev.closed {
		return err
	}
	if b.fb != 0 {
		rmFB(b.dev.fd, b.fb)
		b.fb = 0
	}
	if b.handle != 0 {
		destroyDumb(b.dev.fd, b.handle)
		b.handle = 0
	}
	return err
}

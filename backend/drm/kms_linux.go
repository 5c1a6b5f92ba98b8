// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package drm

import (
	"errors"

	"github.com/mstarongithub/scanout/gpu"
	"github.com/mstarongithub/scanout/kms"
	"github.com/mstarongithub/scanout/udev"
)

// KMSDriver opens cards through the kernel mode setting ioctls and allocates
// dumb buffers on them.
type KMSDriver struct {
	Sysfs udev.Sysfs
}

type kmsModeset struct {
	*kms.Device
}

func (m kmsModeset) CreateSurface(crtc kms.CRTC, mode kms.Mode, connectors []kms.ConnectorID) (Surface, error) {
	s, err := m.Device.CreateSurface(crtc, mode, connectors)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (KMSDriver) Modeset(fd int) (Modeset, error) {
	d, err := kms.Open(fd)
	if err != nil {
		return nil, err
	}
	return kmsModeset{d}, nil
}

func (KMSDriver) Allocator(m Modeset) (gpu.Allocator, error) {
	km, ok := m.(kmsModeset)
	if !ok {
		return nil, errors.New("not a kms device")
	}
	a, err := kms.NewDumbAllocator(km.Device)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (d KMSDriver) RenderNode(id udev.DeviceID) (udev.DeviceID, error) {
	return d.Sysfs.RenderNode(id)
}

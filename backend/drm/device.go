// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package drm

import (
	"fmt"
	"maps"
	"slices"

	"github.com/mstarongithub/scanout/eventloop"
	"github.com/mstarongithub/scanout/gpu"
	"github.com/mstarongithub/scanout/kms"
	"github.com/mstarongithub/scanout/metrics"
	"github.com/mstarongithub/scanout/session"
	"github.com/mstarongithub/scanout/udev"
	"github.com/sirupsen/logrus"
)

// Device is an open DRM card and the outputs it drives
type Device struct {
	id         udev.DeviceID
	path       string
	fd         int
	renderNode udev.DeviceID

	modeset  Modeset
	alloc    gpu.Allocator
	scanner  *kms.Scanner
	surfaces map[kms.CRTC]*OutputSurface
	token    eventloop.Token
	log      *logrus.Entry
}

func (d *Device) ID() udev.DeviceID { return d.id }

func (d *Device) sortedSurfaces() []*OutputSurface {
	out := make([]*OutputSurface, 0, len(d.surfaces))
	for _, crtc := range slices.Sorted(maps.Keys(d.surfaces)) {
		out = append(out, d.surfaces[crtc])
	}
	return out
}

func (b *Backend) sortedDevices() []*Device {
	out := make([]*Device, 0, len(b.devices))
	for _, id := range slices.Sorted(maps.Keys(b.devices)) {
		out = append(out, b.devices[id])
	}
	return out
}

// OnDeviceAdded opens a card, registers its render node and sets up an output
// for every connected connector. A card that is already open is rescanned.
func (b *Backend) OnDeviceAdded(id udev.DeviceID, path string) error {
	if d, ok := b.devices[id]; ok {
		b.scan(d)
		return nil
	}
	logger := b.log.WithFields(logrus.Fields{"device": path, "id": id})

	fd, err := b.opts.Session.Open(path, session.OpenFlags)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeviceOpen, path, err)
	}
	ms, err := b.opts.Driver.Modeset(fd)
	if err != nil {
		b.closeFD(fd)
		return fmt.Errorf("%w: %s: %w", ErrModesetInit, path, err)
	}
	alloc, err := b.opts.Driver.Allocator(ms)
	if err != nil {
		ms.Close()
		b.closeFD(fd)
		return fmt.Errorf("%w: %s: %w", ErrAllocatorInit, path, err)
	}
	node, err := b.opts.Driver.RenderNode(id)
	if err != nil {
		logger.WithError(err).Debugln("No render node, rendering on the card")
		node = id
	}
	if err := b.gpus.AddNode(node, alloc); err != nil {
		ms.Close()
		b.closeFD(fd)
		return fmt.Errorf("%w: %s: %w", ErrAllocatorInit, path, err)
	}
	tok, err := eventloop.Insert(b.opts.Loop, "drm "+path, ms.Events(), func(ev kms.Event) {
		b.OnVBlank(id, ev)
	})
	if err != nil {
		b.gpus.RemoveNode(node)
		ms.Close()
		b.closeFD(fd)
		return fmt.Errorf("%w: %s: %w", ErrSourceInsert, path, err)
	}

	d := &Device{
		id:         id,
		path:       path,
		fd:         fd,
		renderNode: node,
		modeset:    ms,
		alloc:      alloc,
		scanner:    kms.NewScanner(),
		surfaces:   map[kms.CRTC]*OutputSurface{},
		token:      tok,
		log:        logger,
	}
	b.devices[id] = d
	metrics.Devices.Inc()
	logger.WithField("render_node", node).Infoln("Added device")

	b.scan(d)
	return nil
}

// OnDeviceChanged rescans the connectors of a known card
func (b *Backend) OnDeviceChanged(id udev.DeviceID) {
	d, ok := b.devices[id]
	if !ok {
		return
	}
	b.scan(d)
}

// OnDeviceRemoved forgets a card. The device node may already be gone, so
// nothing is sent to the hardware anymore.
func (b *Backend) OnDeviceRemoved(id udev.DeviceID) {
	d, ok := b.devices[id]
	if !ok {
		return
	}
	b.opts.Loop.Remove(d.token)
	if err := d.modeset.Close(); err != nil {
		d.log.WithError(err).Debugln("Closing mode setting handle")
	}
	for _, s := range d.sortedSurfaces() {
		b.dropSurface(d, s, false)
	}
	b.gpus.RemoveNode(d.renderNode)
	b.closeFD(d.fd)
	delete(b.devices, id)
	metrics.Devices.Dec()
	d.log.Infoln("Removed device")
}

func (b *Backend) closeFD(fd int) {
	if err := b.opts.Session.Close(fd); err != nil {
		b.log.WithError(err).WithField("fd", fd).Debugln("Closing device descriptor")
	}
}

// scan applies connector changes, disconnects before connects
func (b *Backend) scan(d *Device) {
	events, err := d.scanner.Scan(d.modeset)
	if err != nil {
		d.log.WithError(err).Warnln("Scanning connectors")
		return
	}
	for _, ev := range events {
		switch ev.Kind {
		case kms.ScanDisconnected:
			if s, ok := d.surfaces[ev.CRTC]; ok && ev.HasCRTC {
				d.log.WithField("output", s.output.Name()).Infoln("Connector disconnected")
				b.dropSurface(d, s, !b.paused)
			}
		case kms.ScanConnected:
			if !ev.HasCRTC {
				continue
			}
			b.connectorConnected(d, ev.Connector, ev.CRTC)
		}
	}
}

func (b *Backend) connectorConnected(d *Device, conn kms.Connector, crtc kms.CRTC) {
	logger := d.log.WithFields(logrus.Fields{"connector": conn.Name(), "crtc": crtc})
	r, err := b.gpus.SingleRenderer(d.renderNode)
	if err != nil {
		logger.WithError(err).Warnln("No renderer for connector")
		return
	}
	s, err := b.newOutputSurface(d, conn, crtc, r.Formats())
	if err != nil {
		logger.WithError(err).Warnln("Skipping connector")
		return
	}
	d.surfaces[crtc] = s
	loc := b.opts.Layout.MapRight(s.output)
	b.opts.Globals.Publish(s.output)
	metrics.Outputs.Inc()
	logger.WithFields(logrus.Fields{
		"mode":     s.mode.String(),
		"location": loc,
	}).Infoln("Output added")

	b.render(d, s)
}

// dropSurface tears an output down. hw is false when the CRTC must not be touched.
func (b *Backend) dropSurface(d *Device, s *OutputSurface, hw bool) {
	s.stopRetry()
	b.opts.Layout.Unmap(s.output)
	b.opts.Globals.Withdraw(s.output)
	s.queue.Destroy()
	if hw {
		if err := s.surface.Close(); err != nil {
			d.log.WithError(err).WithField("crtc", s.crtc).Debugln("Disabling CRTC")
		}
	}
	delete(d.surfaces, s.crtc)
	metrics.Outputs.Dec()
}

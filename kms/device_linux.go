// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package kms

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	ErrNoDumbBuffers = errors.New("device does not support dumb buffers")
	ErrNoEDID        = errors.New("connector has no EDID")
	ErrClosed        = errors.New("device is closed")
)

var log = logrus.WithField("component", "kms")

// Device is an open card node used for mode setting.
// All methods except Events must be called from one goroutine.
type Device struct {
	fd     int
	file   *os.File
	paused bool
	closed bool

	surfaces map[CRTC]*Surface

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Open takes a card descriptor opened by the session. The descriptor is
// duplicated, the caller keeps ownership of fd.
func Open(fd int) (*Device, error) {
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("duplicate descriptor: %w", err)
	}
	if v, err := getCap(dup, capDumbBuffer); err != nil || v == 0 {
		unix.Close(dup)
		if err == nil {
			err = ErrNoDumbBuffers
		}
		return nil, fmt.Errorf("query dumb buffer capability: %w", err)
	}
	if _, _, _, err := getResources(dup); err != nil {
		unix.Close(dup)
		return nil, fmt.Errorf("not a mode-setting device: %w", err)
	}
	d := &Device{
		fd:       dup,
		file:     os.NewFile(uintptr(dup), "drm"),
		surfaces: map[CRTC]*Surface{},
		events:   make(chan Event, 16),
		done:     make(chan struct{}),
	}
	go d.readEvents()
	return d, nil
}

// Events delivers page flip completions in kernel order.
// The channel is never closed, stop reading once Close was called.
func (d *Device) Events() <-chan Event {
	return d.events
}

func (d *Device) readEvents() {
	buf := make([]byte, 4096)
	for {
		n, err := d.file.Read(buf)
		if err != nil {
			select {
			case <-d.done:
			default:
				if !errors.Is(err, os.ErrClosed) {
					log.WithError(err).Warnln("Reading DRM events failed")
				}
			}
			return
		}
		for _, ev := range parseEvents(buf[:n]) {
			select {
			case d.events <- ev:
			case <-d.done:
				return
			}
		}
	}
}

// emit delivers an event that the kernel will not send, like the
// completion of a blocking mode set.
func (d *Device) emit(ev Event) {
	go func() {
		select {
		case d.events <- ev:
		case <-d.done:
		}
	}()
}

func (d *Device) Resources() (Resources, error) {
	if d.closed {
		return Resources{}, ErrClosed
	}
	crtcs, conns, encs, err := getResources(d.fd)
	if err != nil {
		return Resources{}, err
	}
	var res Resources
	for _, c := range crtcs {
		res.CRTCs = append(res.CRTCs, CRTC(c))
	}
	for _, id := range encs {
		e, err := getEncoder(d.fd, id)
		if err != nil {
			log.WithError(err).WithField("encoder", id).Debugln("Skipping encoder")
			continue
		}
		res.Encoders = append(res.Encoders, Encoder{
			ID:            EncoderID(e.EncoderID),
			CRTC:          CRTC(e.CRTCID),
			PossibleCRTCs: e.PossibleCRTCs,
		})
	}
	for _, id := range conns {
		raw, err := getConnector(d.fd, id)
		if err != nil {
			log.WithError(err).WithField("connector", id).Debugln("Skipping connector")
			continue
		}
		c := Connector{
			ID:          ConnectorID(raw.info.ConnectorID),
			Interface:   Interface(raw.info.ConnectorType),
			InterfaceID: raw.info.ConnectorTID,
			Connection:  Connection(raw.info.Connection),
			Encoder:     EncoderID(raw.info.EncoderID),
			Subpixel:    Subpixel(raw.info.Subpixel),
		}
		c.SizeMM.X, c.SizeMM.Y = int(raw.info.MMWidth), int(raw.info.MMHeight)
		for _, e := range raw.encoders {
			c.Encoders = append(c.Encoders, EncoderID(e))
		}
		for _, m := range raw.modes {
			c.Modes = append(c.Modes, m.mode())
		}
		res.Connectors = append(res.Connectors, c)
	}
	return res, nil
}

// EDID returns the raw EDID blob of a connector
func (d *Device) EDID(id ConnectorID) ([]byte, error) {
	if d.closed {
		return nil, ErrClosed
	}
	raw, err := getConnector(d.fd, uint32(id))
	if err != nil {
		return nil, err
	}
	for i, prop := range raw.props {
		name, flags, err := getPropertyName(d.fd, prop)
		if err != nil || name != "EDID" || flags&propBlob == 0 {
			continue
		}
		if raw.propValues[i] == 0 {
			return nil, ErrNoEDID
		}
		return getBlob(d.fd, uint32(raw.propValues[i]))
	}
	return nil, ErrNoEDID
}

// Pause stops all presentation. The session may already have revoked
// master, failing to drop it is not an error.
func (d *Device) Pause() error {
	d.paused = true
	if d.closed {
		return nil
	}
	if err := dropMaster(d.fd); err != nil {
		log.WithError(err).Debugln("Dropping DRM master")
	}
	return nil
}

// Activate resumes presentation. Every surface does a full mode set on
// its next frame since another client may have changed the CRTCs.
func (d *Device) Activate() error {
	if d.closed {
		return ErrClosed
	}
	if err := setMaster(d.fd); err != nil {
		log.WithError(err).Debugln("Acquiring DRM master")
	}
	d.paused = false
	for _, s := range d.surfaces {
		s.needsModeset = true
	}
	return nil
}

func (d *Device) Paused() bool { return d.paused }

// CreateSurface prepares crtc to drive connectors with mode.
// Nothing is committed until the first Present.
func (d *Device) CreateSurface(crtc CRTC, mode Mode, connectors []ConnectorID) (*Surface, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if mode.HDisplay == 0 || mode.VDisplay == 0 {
		return nil, ErrNoModes
	}
	if len(connectors) == 0 {
		return nil, errors.New("surface needs at least one connector")
	}
	if _, ok := d.surfaces[crtc]; ok {
		return nil, fmt.Errorf("CRTC %d already has a surface", crtc)
	}
	crtcs, conns, _, err := getResources(d.fd)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(crtcs, uint32(crtc)) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCRTC, crtc)
	}
	for _, c := range connectors {
		if !slices.Contains(conns, uint32(c)) {
			return nil, fmt.Errorf("unknown connector %d", c)
		}
	}
	s := &Surface{
		dev:          d,
		crtc:         crtc,
		serial:       surfaceSerial.Add(1),
		mode:         mode,
		connectors:   slices.Clone(connectors),
		needsModeset: true,
	}
	d.surfaces[crtc] = s
	return s, nil
}

// Close stops event delivery and releases the duplicated descriptor.
// No ioctl is issued, the device may already be gone.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.closed = true
		close(d.done)
		clear(d.surfaces)
		err = d.file.Close()
	})
	return err
}

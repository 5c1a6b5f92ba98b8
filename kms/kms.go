// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package kms talks to the kernel mode-setting interface of a DRM device:
// connectors, CRTCs and modes, scanout buffers and page flips.
package kms

import (
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	ErrPaused        = errors.New("device is paused")
	ErrNoModes       = errors.New("connector has no modes")
	ErrUnknownCRTC   = errors.New("unknown CRTC")
	ErrForeignBuffer = errors.New("buffer was not allocated on this device")
)

type (
	ConnectorID uint32
	EncoderID   uint32
	CRTC        uint32
)

type Connection uint32

const (
	Connected         Connection = 1
	Disconnected      Connection = 2
	UnknownConnection Connection = 3
)

// Connector type as reported by the kernel, used for output names
type Interface uint32

var interfaceNames = []string{
	"Unknown", "VGA", "DVI-I", "DVI-D", "DVI-A", "Composite", "SVIDEO", "LVDS",
	"Component", "DIN", "DP", "HDMI-A", "HDMI-B", "TV", "eDP", "Virtual",
	"DSI", "DPI", "Writeback", "SPI", "USB",
}

func (i Interface) String() string {
	if int(i) < len(interfaceNames) {
		return interfaceNames[i]
	}
	return "Unknown"
}

// Subpixel layout as reported by the kernel
type Subpixel uint32

const (
	SubpixelUnknown Subpixel = iota + 1
	SubpixelHorizontalRGB
	SubpixelHorizontalBGR
	SubpixelVerticalRGB
	SubpixelVerticalBGR
	SubpixelNone
)

type Connector struct {
	ID          ConnectorID
	Interface   Interface
	InterfaceID uint32
	Connection  Connection
	Modes       []Mode
	// physical size in millimeters, zero if unknown
	SizeMM   image.Point
	Subpixel Subpixel
	Encoders []EncoderID
	// encoder currently driving the connector, 0 if none
	Encoder EncoderID
}

// Name is the conventional "<interface>-<interface id>" connector name, e.g. "HDMI-A-1"
func (c Connector) Name() string {
	return fmt.Sprintf("%s-%d", c.Interface, c.InterfaceID)
}

type Encoder struct {
	ID   EncoderID
	CRTC CRTC
	// bit n set means Resources.CRTCs[n] can be driven by this encoder
	PossibleCRTCs uint32
}

// Resources is a snapshot of a device's mode-setting objects
type Resources struct {
	CRTCs      []CRTC
	Connectors []Connector
	Encoders   []Encoder
}

func (r Resources) encoder(id EncoderID) (Encoder, bool) {
	for _, e := range r.Encoders {
		if e.ID == id {
			return e, true
		}
	}
	return Encoder{}, false
}

// Event tells that a frame queued on CRTC is now being scanned out.
// Serial names the surface that queued it, a CRTC can be reused by a new
// surface before the completions of the old one are delivered.
type Event struct {
	CRTC     CRTC
	Serial   uint32
	Sequence uint32
	Time     time.Duration
}

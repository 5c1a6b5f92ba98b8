// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package drm drives displays through kernel mode setting. It discovers GPUs,
// turns connected connectors into outputs and keeps one frame in flight per
// output, rendered on the primary GPU and copied over where needed.
package drm

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/mstarongithub/scanout/eventloop"
	"github.com/mstarongithub/scanout/gpu"
	"github.com/mstarongithub/scanout/kms"
	"github.com/mstarongithub/scanout/metrics"
	"github.com/mstarongithub/scanout/output"
	"github.com/mstarongithub/scanout/render"
	"github.com/mstarongithub/scanout/session"
	"github.com/mstarongithub/scanout/swapchain"
	"github.com/mstarongithub/scanout/udev"
	"github.com/sirupsen/logrus"
)

var (
	ErrDeviceOpen         = errors.New("failed to open device")
	ErrModesetInit        = errors.New("failed to initialize mode setting")
	ErrAllocatorInit      = errors.New("failed to initialize buffer allocator")
	ErrModesetSurface     = errors.New("failed to create mode setting surface")
	ErrBufferQueueInit    = errors.New("failed to create buffer queue")
	ErrBufferAcquire      = errors.New("failed to acquire buffer")
	ErrSessionUnavailable = errors.New("session unavailable")
	ErrNoGPU              = errors.New("no GPU found")
	ErrPrimaryGPU         = errors.New("failed to resolve primary GPU")
	ErrGPUManager         = errors.New("failed to create GPU manager")
	ErrSourceInsert       = errors.New("failed to register event source")
)

// Modeset is the mode-setting handle of one display device
type Modeset interface {
	kms.ConnectorSource
	EDID(id kms.ConnectorID) ([]byte, error)
	CreateSurface(crtc kms.CRTC, mode kms.Mode, connectors []kms.ConnectorID) (Surface, error)
	// Pause stops all presentation until Activate
	Pause() error
	Activate() error
	// Events delivers page flip completions
	Events() <-chan kms.Event
	// Close releases the handle without touching the hardware
	Close() error
}

// Surface is one CRTC driving a connector
type Surface interface {
	swapchain.Presenter
	// Serial is carried by the completion events of this surface's frames
	Serial() uint32
	// Close turns the CRTC off
	Close() error
}

// Driver builds the handles of a device from its descriptor
type Driver interface {
	Modeset(fd int) (Modeset, error)
	Allocator(m Modeset) (gpu.Allocator, error)
	RenderNode(id udev.DeviceID) (udev.DeviceID, error)
}

// Space provides what gets composited onto an output
type Space interface {
	ElementsFor(o *output.Output) []render.Element
	// SendFrames tells clients shown on o that a frame was presented at t
	SendFrames(o *output.Output, t time.Duration)
}

type Cursor interface {
	ElementsFor(o *output.Output, pointer image.Point) []render.Element
}

type Pointer interface {
	Location() image.Point
}

type Layout interface {
	MapRight(o *output.Output) image.Point
	Unmap(o *output.Output)
}

// Publisher announces outputs to clients
type Publisher interface {
	Publish(o *output.Output)
	Withdraw(o *output.Output)
}

type Options struct {
	Session session.Session
	Loop    *eventloop.Loop
	Driver  Driver
	// Device hotplug events, may be nil
	Events <-chan udev.Event

	Sysfs  udev.Sysfs
	DevDir string
	// Card node overriding boot_vga detection
	PrimaryGPU string

	Space   Space
	Layout  Layout
	Globals Publisher
	Cursor  Cursor
	Pointer Pointer

	ClearColor  color.Color
	BufferCount int
	// Delay before a failed frame is tried again, 0 disables retries
	FrameRetry time.Duration
}

// Backend owns all display devices. Every method has to be called on the loop.
type Backend struct {
	opts    Options
	gpus    *gpu.Manager
	devices map[udev.DeviceID]*Device

	paused   bool
	deferred []udev.Event
	tokens   []eventloop.Token

	log *logrus.Entry
}

// New checks the collaborators and resolves the primary GPU
func New(opts Options) (*Backend, error) {
	if opts.Session == nil {
		return nil, ErrSessionUnavailable
	}
	if opts.Loop == nil || opts.Driver == nil || opts.Space == nil || opts.Layout == nil || opts.Globals == nil {
		return nil, errors.New("drm backend needs a loop, driver, space, layout and globals")
	}
	if opts.ClearColor == nil {
		opts.ClearColor = color.RGBA{R: 0x1a, G: 0x1a, B: 0x1a, A: 0xff}
	}
	if opts.BufferCount == 0 {
		opts.BufferCount = 2
	}
	if opts.DevDir == "" {
		opts.DevDir = "/dev/dri"
	}

	b := &Backend{
		opts:    opts,
		devices: map[udev.DeviceID]*Device{},
		log:     logrus.WithFields(logrus.Fields{"component": "drm", "seat": opts.Session.Seat()}),
	}
	primary, err := b.primaryGPU()
	if err != nil {
		return nil, err
	}
	if primary == 0 {
		return nil, fmt.Errorf("%w: invalid primary node", ErrGPUManager)
	}
	b.gpus = gpu.NewManager(primary)
	b.log.WithField("primary", primary).Infoln("Using primary GPU")
	return b, nil
}

func (b *Backend) primaryGPU() (udev.DeviceID, error) {
	var card udev.DeviceID
	if b.opts.PrimaryGPU != "" {
		id, err := udev.FromPath(b.opts.PrimaryGPU)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrPrimaryGPU, b.opts.PrimaryGPU, err)
		}
		card = id
	} else {
		c, err := b.opts.Sysfs.PrimaryGPU(b.opts.DevDir)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrNoGPU, err)
		}
		card = c.ID
	}
	node, err := b.opts.Driver.RenderNode(card)
	if err != nil {
		b.log.WithError(err).WithField("card", card).Debugln("No render node, using the card itself")
		return card, nil
	}
	return node, nil
}

// GPUs exposes the render node registry
func (b *Backend) GPUs() *gpu.Manager { return b.gpus }

func (b *Backend) Paused() bool { return b.paused }

// Start registers the session and hotplug sources and adds the devices
// present at startup.
func (b *Backend) Start(devices []udev.Added) error {
	tok, err := eventloop.Insert(b.opts.Loop, "session", b.opts.Session.Events(), b.OnSessionEvent)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceInsert, err)
	}
	b.tokens = append(b.tokens, tok)
	if b.opts.Events != nil {
		tok, err = eventloop.Insert(b.opts.Loop, "udev", b.opts.Events, b.OnUdevEvent)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSourceInsert, err)
		}
		b.tokens = append(b.tokens, tok)
	}

	b.paused = !b.opts.Session.Active()
	metrics.SetSessionActive(!b.paused)

	for _, d := range devices {
		if err := b.OnDeviceAdded(d.ID, d.Path); err != nil {
			b.log.WithError(err).WithField("device", d.Path).Errorln("Skipping device")
		}
	}
	if !b.gpus.Has(b.gpus.Primary()) {
		b.log.WithField("primary", b.gpus.Primary()).Warnln("Primary GPU was not among the opened devices")
	}
	return nil
}

// Shutdown drops every device and source
func (b *Backend) Shutdown() {
	for _, tok := range b.tokens {
		b.opts.Loop.Remove(tok)
	}
	b.tokens = nil
	for id := range b.devices {
		b.OnDeviceRemoved(id)
	}
}

// OnUdevEvent dispatches a hotplug event. While paused events are kept and
// replayed on resume.
func (b *Backend) OnUdevEvent(ev udev.Event) {
	if b.paused {
		b.deferred = append(b.deferred, ev)
		return
	}
	switch ev := ev.(type) {
	case udev.Added:
		if err := b.OnDeviceAdded(ev.ID, ev.Path); err != nil {
			b.log.WithError(err).WithField("device", ev.Path).Errorln("Skipping device")
		}
	case udev.Changed:
		b.OnDeviceChanged(ev.ID)
	case udev.Removed:
		b.OnDeviceRemoved(ev.ID)
	}
}

// DeviceInfo describes an open device
type DeviceInfo struct {
	ID         udev.DeviceID
	Path       string
	RenderNode udev.DeviceID
	Renderer   gpu.Kind
	Outputs    []string
}

// Devices snapshots the open devices, ordered by id
func (b *Backend) Devices() []DeviceInfo {
	var out []DeviceInfo
	for _, d := range b.sortedDevices() {
		info := DeviceInfo{
			ID:         d.id,
			Path:       d.path,
			RenderNode: d.renderNode,
			Renderer:   b.gpus.Select(d.renderNode).Kind,
		}
		for _, s := range d.sortedSurfaces() {
			info.Outputs = append(info.Outputs, s.output.Name())
		}
		out = append(out, info)
	}
	return out
}

// Rescan looks for connector changes on every device
func (b *Backend) Rescan() {
	for _, d := range b.sortedDevices() {
		b.scan(d)
	}
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package drm

import (
	"errors"
	"fmt"
	"time"

	"github.com/mstarongithub/scanout/edid"
	"github.com/mstarongithub/scanout/eventloop"
	"github.com/mstarongithub/scanout/fourcc"
	"github.com/mstarongithub/scanout/gpu"
	"github.com/mstarongithub/scanout/kms"
	"github.com/mstarongithub/scanout/metrics"
	"github.com/mstarongithub/scanout/output"
	"github.com/mstarongithub/scanout/render"
	"github.com/mstarongithub/scanout/swapchain"
	"github.com/mstarongithub/scanout/udev"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// OutputSurface is the per-CRTC state: the mode-setting surface, its buffer
// queue and the output announced to clients.
type OutputSurface struct {
	crtc      kms.CRTC
	connector kms.ConnectorID
	mode      kms.Mode

	surface Surface
	queue   *swapchain.Queue
	damage  *render.DamageTracker
	output  *output.Output
	retry   *eventloop.Timer
}

func (s *OutputSurface) Output() *output.Output { return s.output }
func (s *OutputSurface) CRTC() kms.CRTC         { return s.crtc }

func (s *OutputSurface) stopRetry() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

var subpixels = map[kms.Subpixel]output.Subpixel{
	kms.SubpixelHorizontalRGB: output.SubpixelHorizontalRGB,
	kms.SubpixelHorizontalBGR: output.SubpixelHorizontalBGR,
	kms.SubpixelVerticalRGB:   output.SubpixelVerticalRGB,
	kms.SubpixelVerticalBGR:   output.SubpixelVerticalBGR,
	kms.SubpixelNone:          output.SubpixelNone,
}

func (b *Backend) newOutputSurface(d *Device, conn kms.Connector, crtc kms.CRTC, rendererFormats []fourcc.Format) (*OutputSurface, error) {
	mode, err := kms.SelectMode(conn.Modes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModesetSurface, err)
	}
	surface, err := d.modeset.CreateSurface(crtc, mode, []kms.ConnectorID{conn.ID})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModesetSurface, err)
	}
	formats := fourcc.Intersect(fourcc.Preferred, rendererFormats)
	queue, err := swapchain.New(surface, d.alloc, mode.Size(), formats, b.opts.BufferCount)
	if err != nil {
		surface.Close()
		return nil, fmt.Errorf("%w: %w", ErrBufferQueueInit, err)
	}
	node := d.renderNode
	queue.OnDestroy(func(buf gpu.Buffer) { b.gpus.Forget(node, buf) })

	mfr, model := edid.Unknown, edid.Unknown
	if data, err := d.modeset.EDID(conn.ID); err == nil {
		mfr, model = edid.MakeModel(data)
	} else {
		d.log.WithError(err).WithField("connector", conn.Name()).Debugln("No EDID")
	}
	o := output.New(conn.Name(), output.PhysicalProperties{
		Size:     conn.SizeMM,
		Subpixel: subpixels[conn.Subpixel],
		Make:     mfr,
		Model:    model,
	})
	for _, m := range conn.Modes {
		o.AddMode(output.Mode{Size: m.Size(), Refresh: m.Refresh()})
	}
	current := output.Mode{Size: mode.Size(), Refresh: mode.Refresh()}
	transform := output.Normal
	scale := 1.0
	o.SetPreferred(current)
	o.ChangeCurrentState(&current, &transform, &scale, nil)

	return &OutputSurface{
		crtc:      crtc,
		connector: conn.ID,
		mode:      mode,
		surface:   surface,
		queue:     queue,
		damage:    render.NewDamageTracker(mode.Size()),
		output:    o,
	}, nil
}

// now is the monotonic clock used for frame callbacks
var now = func() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}

// render produces and queues one frame for s. Failures leave the surface
// waiting for the next trigger, the retry timer being one of them.
func (b *Backend) render(d *Device, s *OutputSurface) {
	if b.paused || s.queue.InFlight() > 0 {
		return
	}
	name := s.output.Name()
	logger := d.log.WithField("output", name)

	r, err := b.gpus.RendererFor(d.renderNode)
	if err != nil {
		logger.WithError(err).Debugln("No renderer for frame")
		metrics.FrameFailures.WithLabelValues(name, metrics.StageRender).Inc()
		b.scheduleRetry(d, s)
		return
	}
	buf, age, err := s.queue.Next()
	if err != nil {
		logger.WithError(fmt.Errorf("%w: %w", ErrBufferAcquire, err)).Debugln("Skipping frame")
		metrics.FrameFailures.WithLabelValues(name, metrics.StageAcquire).Inc()
		b.scheduleRetry(d, s)
		return
	}
	img, age, err := r.Bind(buf, age)
	if err != nil {
		logger.WithError(err).Debugln("Binding render target")
		metrics.FrameFailures.WithLabelValues(name, metrics.StageRender).Inc()
		b.scheduleRetry(d, s)
		return
	}

	elements := b.opts.Space.ElementsFor(s.output)
	if b.opts.Cursor != nil && b.opts.Pointer != nil {
		elements = append(elements, b.opts.Cursor.ElementsFor(s.output, b.opts.Pointer.Location())...)
	}
	res := s.damage.RenderOutput(img, age, elements, b.opts.ClearColor)
	if err := r.Finish(res.Damage); err != nil {
		s.queue.Release(buf)
		s.damage.Reset()
		logger.WithError(err).Debugln("Finishing frame")
		metrics.FrameFailures.WithLabelValues(name, metrics.StageRender).Inc()
		b.scheduleRetry(d, s)
		return
	}

	if err := s.queue.Queue(buf, res.Damage); err != nil {
		s.queue.Release(buf)
		s.damage.Reset()
		metrics.FrameFailures.WithLabelValues(name, metrics.StageSubmit).Inc()
		if errors.Is(err, kms.ErrPaused) {
			logger.Debugln("Device paused, frame dropped")
			return
		}
		logger.WithError(err).Warnln("Submitting frame")
		b.scheduleRetry(d, s)
		return
	}
	metrics.FramesSubmitted.WithLabelValues(name).Inc()
	b.opts.Space.SendFrames(s.output, now())
}

func (b *Backend) scheduleRetry(d *Device, s *OutputSurface) {
	if b.opts.FrameRetry <= 0 || s.retry != nil {
		return
	}
	id, crtc := d.id, s.crtc
	s.retry = b.opts.Loop.AfterFunc(b.opts.FrameRetry, func() {
		s.retry = nil
		b.retryFrame(id, crtc)
	})
}

func (b *Backend) retryFrame(id udev.DeviceID, crtc kms.CRTC) {
	d, ok := b.devices[id]
	if !ok {
		return
	}
	s, ok := d.surfaces[crtc]
	if !ok {
		return
	}
	metrics.FrameRetries.Inc()
	b.render(d, s)
}

// OnVBlank handles a page flip completion: the queued buffer is now on screen
// and the next frame is produced. Events for unknown devices or CRTCs are
// dropped, as are those queued by an earlier surface on the same CRTC.
func (b *Backend) OnVBlank(id udev.DeviceID, ev kms.Event) {
	crtc := ev.CRTC
	d, ok := b.devices[id]
	if !ok {
		metrics.StaleVBlanks.Inc()
		b.log.WithField("id", id).Traceln("Vblank for unknown device")
		return
	}
	s, ok := d.surfaces[crtc]
	if !ok {
		metrics.StaleVBlanks.Inc()
		d.log.WithField("crtc", crtc).Traceln("Vblank for unknown CRTC")
		return
	}
	if ev.Serial != s.surface.Serial() {
		metrics.StaleVBlanks.Inc()
		d.log.WithFields(logrus.Fields{"crtc": crtc, "serial": ev.Serial}).Traceln("Vblank for replaced surface")
		return
	}
	if err := s.queue.FrameSubmitted(); err != nil {
		metrics.StaleVBlanks.Inc()
		d.log.WithError(err).WithField("crtc", crtc).Debugln("Vblank without queued frame")
		return
	}
	b.render(d, s)
}

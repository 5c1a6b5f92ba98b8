// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package drm

import (
	"slices"

	"github.com/mstarongithub/scanout/metrics"
	"github.com/mstarongithub/scanout/session"
	"github.com/mstarongithub/scanout/udev"
)

// OnSessionEvent pauses or resumes every device
func (b *Backend) OnSessionEvent(ev session.Event) {
	switch ev {
	case session.Pause:
		b.pause()
		// Also when already paused, the session may be waiting again
		if a, ok := b.opts.Session.(session.PauseAcker); ok {
			a.AckPause()
		}
	case session.Activate:
		b.resume()
	}
}

func (b *Backend) pause() {
	if b.paused {
		return
	}
	b.paused = true
	metrics.SetSessionActive(false)
	for _, d := range b.sortedDevices() {
		if err := d.modeset.Pause(); err != nil {
			d.log.WithError(err).Debugln("Pausing device")
		}
		for _, s := range d.surfaces {
			s.stopRetry()
		}
	}
	b.log.Infoln("Session paused")
}

// resume reactivates the devices. Buffer contents are not trusted after a
// VT switch, so every queue starts over before rendering again.
func (b *Backend) resume() {
	if !b.paused {
		return
	}
	b.paused = false
	metrics.SetSessionActive(true)
	b.log.Infoln("Session resumed")

	// Devices that went away while paused are dropped before anything
	// touches their descriptors again
	rest := b.replayRemovals()

	for _, d := range b.sortedDevices() {
		if err := d.modeset.Activate(); err != nil {
			d.log.WithError(err).Warnln("Activating device")
		}
		for _, s := range d.surfaces {
			s.queue.Reset()
			s.damage.Reset()
		}
	}

	for _, ev := range rest {
		b.OnUdevEvent(ev)
	}
	b.Rescan()

	for _, d := range b.sortedDevices() {
		for _, s := range d.sortedSurfaces() {
			b.render(d, s)
		}
	}
}

// replayRemovals applies the deferred removals and returns the other events
// in order. Additions of devices removed again later are dropped.
func (b *Backend) replayRemovals() []udev.Event {
	deferred := b.deferred
	b.deferred = nil
	var rest []udev.Event
	for i, ev := range deferred {
		switch ev := ev.(type) {
		case udev.Removed:
			b.OnDeviceRemoved(ev.ID)
			continue
		case udev.Added:
			if removedLater(deferred[i+1:], ev.ID) {
				continue
			}
		}
		rest = append(rest, ev)
	}
	return rest
}

func removedLater(events []udev.Event, id udev.DeviceID) bool {
	return slices.ContainsFunc(events, func(ev udev.Event) bool {
		r, ok := ev.(udev.Removed)
		return ok && r.ID == id
	})
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package udev

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Monitor reports DRM card nodes being added, changed and removed.
//
// Nodes appearing and disappearing are picked up by watching the device directory,
// which only happens once udev has created the node with the right permissions.
// Connector changes only show up as kernel uevents, those are read from netlink.
type Monitor struct {
	devDir  string
	sysfs   Sysfs
	stat    func(string) (DeviceID, error)
	mu      sync.Mutex
	known   map[string]DeviceID
	events  chan Event
	watcher *fsnotify.Watcher
	uevents *os.File
	log     *logrus.Entry
}

func NewMonitor(devDir string, sysfs Sysfs) (*Monitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err = watcher.Add(devDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", devDir, err)
	}
	m := &Monitor{
		devDir:  devDir,
		sysfs:   sysfs,
		stat:    FromPath,
		known:   make(map[string]DeviceID),
		events:  make(chan Event, 16),
		watcher: watcher,
		log:     logrus.WithField("component", "udev"),
	}
	m.uevents, err = openUevents()
	if err != nil {
		// Without netlink we still see devices come and go, just not connector changes
		m.log.WithError(err).Warnln("No kernel uevents, connector hot-plug will not be noticed")
	}
	return m, nil
}

// Devices returns the card nodes that exist right now as Added events
func (m *Monitor) Devices() []Added {
	cards, err := m.sysfs.Cards(m.devDir)
	if err != nil {
		m.log.WithError(err).Warnln("Listing DRM cards failed")
		return nil
	}
	added := make([]Added, 0, len(cards))
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cards {
		m.known[c.Path] = c.ID
		added = append(added, Added{ID: c.ID, Path: c.Path})
	}
	return added
}

func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Run forwards events until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	if m.uevents != nil {
		go m.readUevents(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleFsEvent(ctx, ev)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.WithError(err).Warnln("Device directory watch error")
		}
	}
}

func (m *Monitor) handleFsEvent(ctx context.Context, ev fsnotify.Event) {
	if !cardName.MatchString(filepath.Base(ev.Name)) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create):
		id, err := m.stat(ev.Name)
		if err != nil {
			m.log.WithError(err).WithField("path", ev.Name).Warnln("New DRM node can't be identified")
			return
		}
		m.mu.Lock()
		m.known[ev.Name] = id
		m.mu.Unlock()
		m.emit(ctx, Added{ID: id, Path: ev.Name})
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		m.mu.Lock()
		id, ok := m.known[ev.Name]
		delete(m.known, ev.Name)
		m.mu.Unlock()
		if !ok {
			return
		}
		m.emit(ctx, Removed{ID: id})
	}
}

func (m *Monitor) readUevents(ctx context.Context) {
	buf := make([]byte, 8192)
	for {
		n, err := m.uevents.Read(buf)
		if err != nil {
			if !errors.Is(err, os.ErrClosed) {
				m.log.WithError(err).Warnln("Reading kernel uevents failed")
			}
			return
		}
		ev, err := ParseUevent(buf[:n])
		if err != nil || !ev.IsCardChange() {
			continue
		}
		if id, ok := ev.DeviceID(); ok {
			m.emit(ctx, Changed{ID: id})
		}
	}
}

func (m *Monitor) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

func (m *Monitor) Close() error {
	err := m.watcher.Close()
	if m.uevents != nil {
		err = errors.Join(err, m.uevents.Close())
	}
	return err
}

func openUevents() (*os.File, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("netlink socket: %w", err)
	}
	// Group 1 carries the raw kernel events
	if err = unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink bind: %w", err)
	}
	return os.NewFile(uintptr(fd), "uevent"), nil
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package udev

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceIDRoundTrip(t *testing.T) {
	id := NewDeviceID(226, 128)
	assert.Equal(t, uint32(226), id.Major())
	assert.Equal(t, uint32(128), id.Minor())
	assert.Equal(t, "226:128", id.String())

	parsed, err := ParseDeviceID("226:128\n")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseDeviceID("226")
	assert.Error(t, err)
}

func TestFromPathRejectsRegularFiles(t *testing.T) {
	p := filepath.Join(t.TempDir(), "card0")
	require.NoError(t, os.WriteFile(p, nil, 0o600))
	_, err := FromPath(p)
	assert.ErrorIs(t, err, ErrNotCharDev)
}

// writes a fake sysfs tree: class/drm/<name>/dev and the dev/char link target
func fakeCard(t *testing.T, root, name, dev string, bootVGA bool, render string) {
	t.Helper()
	cardDir := filepath.Join(root, "class", "drm", name)
	require.NoError(t, os.MkdirAll(filepath.Join(cardDir, "device"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cardDir, "dev"), []byte(dev+"\n"), 0o644))
	if bootVGA {
		require.NoError(t, os.WriteFile(filepath.Join(cardDir, "device", "boot_vga"), []byte("1\n"), 0o644))
	}
	charDir := filepath.Join(root, "dev", "char", dev, "device", "drm")
	require.NoError(t, os.MkdirAll(charDir, 0o755))
	if render != "" {
		renderDir := filepath.Join(charDir, "renderD128")
		require.NoError(t, os.MkdirAll(renderDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(renderDir, "dev"), []byte(render+"\n"), 0o644))
	}
}

func TestSysfsCardsAndPrimary(t *testing.T) {
	root := t.TempDir()
	fakeCard(t, root, "card1", "226:1", true, "226:129")
	fakeCard(t, root, "card0", "226:0", false, "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class", "drm", "card0-HDMI-A-1"), 0o755))

	s := Sysfs{Root: root}
	cards, err := s.Cards("/dev/dri")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "card0", cards[0].Name)
	assert.Equal(t, "/dev/dri/card1", cards[1].Path)

	primary, err := s.PrimaryGPU("/dev/dri")
	require.NoError(t, err)
	assert.Equal(t, NewDeviceID(226, 1), primary.ID)

	render, err := s.RenderNode(NewDeviceID(226, 1))
	require.NoError(t, err)
	assert.Equal(t, NewDeviceID(226, 129), render)

	_, err = s.RenderNode(NewDeviceID(226, 0))
	assert.ErrorIs(t, err, ErrNoRenderNode)
}

func TestPrimaryGPUWithoutCards(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "class", "drm"), 0o755))
	_, err := Sysfs{Root: root}.PrimaryGPU("/dev/dri")
	assert.ErrorIs(t, err, ErrNoGPU)
}

func TestParseUevent(t *testing.T) {
	msg := []byte("change@/devices/pci0000:00/0000:00:02.0/drm/card0\x00ACTION=change\x00" +
		"DEVPATH=/devices/pci0000:00/0000:00:02.0/drm/card0\x00SUBSYSTEM=drm\x00HOTPLUG=1\x00" +
		"DEVNAME=dri/card0\x00DEVTYPE=drm_minor\x00MAJOR=226\x00MINOR=0\x00SEQNUM=4242\x00")
	ev, err := ParseUevent(msg)
	require.NoError(t, err)
	assert.True(t, ev.IsCardChange())
	id, ok := ev.DeviceID()
	require.True(t, ok)
	assert.Equal(t, NewDeviceID(226, 0), id)

	render := []byte("change@/x\x00ACTION=change\x00SUBSYSTEM=drm\x00DEVNAME=dri/renderD128\x00")
	ev, err = ParseUevent(render)
	require.NoError(t, err)
	assert.False(t, ev.IsCardChange())

	_, err = ParseUevent([]byte("libudev\x00garbage"))
	assert.Error(t, err)
}

func TestMonitorReportsNodesComingAndGoing(t *testing.T) {
	dir := t.TempDir()
	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	require.NoError(t, watcher.Add(dir))
	m := &Monitor{
		devDir:  dir,
		stat:    func(string) (DeviceID, error) { return NewDeviceID(226, 3), nil },
		known:   make(map[string]DeviceID),
		events:  make(chan Event, 4),
		watcher: watcher,
		log:     logrus.WithField("component", "udev"),
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	card := filepath.Join(dir, "card3")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "renderD130"), nil, 0o600))
	require.NoError(t, os.WriteFile(card, nil, 0o600))
	assert.Equal(t, Added{ID: NewDeviceID(226, 3), Path: card}, next(t, m))

	require.NoError(t, os.Remove(card))
	assert.Equal(t, Removed{ID: NewDeviceID(226, 3)}, next(t, m))
}

func TestMonitorDevicesWhileRunning(t *testing.T) {
	dir := t.TempDir()
	root := t.TempDir()
	fakeCard(t, root, "card0", "226:0", true, "")
	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	require.NoError(t, watcher.Add(dir))
	m := &Monitor{
		devDir:  dir,
		sysfs:   Sysfs{Root: root},
		stat:    func(string) (DeviceID, error) { return NewDeviceID(226, 3), nil },
		known:   make(map[string]DeviceID),
		events:  make(chan Event, 256),
		watcher: watcher,
		log:     logrus.WithField("component", "udev"),
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			assert.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("card%d", i+1)), nil, 0o600))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			assert.Len(t, m.Devices(), 1)
		}
	}()
	wg.Wait()
}

func next(t *testing.T, m *Monitor) Event {
	t.Helper()
	select {
	case ev := <-m.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

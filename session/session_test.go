// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no session event")
	}
	return 0
}

func TestDirectOpenClose(t *testing.T) {
	d, err := NewDirect("seat0", 0)
	require.NoError(t, err)
	defer d.Shutdown()

	path := filepath.Join(t.TempDir(), "card0")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	fd, err := d.Open(path, unix.O_RDWR|unix.O_CLOEXEC)
	require.NoError(t, err)
	require.NoError(t, d.Close(fd))
	assert.ErrorIs(t, d.Close(fd), ErrUnknownFD)
	assert.Equal(t, "seat0", d.Seat())
}

func TestDirectSignalsPauseAndActivate(t *testing.T) {
	d, err := NewDirect("seat0", 0)
	require.NoError(t, err)
	defer d.Shutdown()

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGUSR1))
	assert.Equal(t, Pause, nextEvent(t, d.Events()))
	assert.False(t, d.Active())

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGUSR2))
	assert.Equal(t, Activate, nextEvent(t, d.Events()))
	assert.True(t, d.Active())
}

type fakeObject struct {
	dbus.BusObject
	calls []string
}

func (f *fakeObject) Call(method string, _ dbus.Flags, _ ...any) *dbus.Call {
	f.calls = append(f.calls, method)
	return &dbus.Call{}
}

func TestLogindHandlesSignals(t *testing.T) {
	obj := &fakeObject{}
	l := &Logind{session: obj, active: true, devices: map[int]uint64{}, events: make(chan Event, 4)}
	changed := func(active bool) *dbus.Signal {
		return &dbus.Signal{
			Name: propertiesIFC + ".PropertiesChanged",
			Body: []any{login1SessionIFC, map[string]dbus.Variant{"Active": dbus.MakeVariant(active)}, []string{}},
		}
	}

	l.handleSignal(&dbus.Signal{
		Name: login1SessionIFC + ".PauseDevice",
		Body: []any{uint32(226), uint32(0), "pause"},
	})
	// nothing is acknowledged before the devices are idle
	assert.Empty(t, obj.calls)
	assert.Equal(t, Pause, nextEvent(t, l.Events()))
	assert.False(t, l.Active())

	l.AckPause()
	assert.Equal(t, []string{login1SessionIFC + ".PauseDeviceComplete"}, obj.calls)
	l.AckPause()
	assert.Len(t, obj.calls, 1)

	l.handleSignal(&dbus.Signal{
		Name: login1SessionIFC + ".PauseDevice",
		Body: []any{uint32(226), uint32(0), "force"},
	})
	l.AckPause()
	assert.Len(t, obj.calls, 1)
	l.handleSignal(changed(true))
	assert.Equal(t, Activate, nextEvent(t, l.Events()))

	l.handleSignal(changed(false))
	assert.Equal(t, Pause, nextEvent(t, l.Events()))
	// no event without a change
	l.handleSignal(changed(false))
	l.handleSignal(changed(true))
	assert.Equal(t, Activate, nextEvent(t, l.Events()))
	assert.True(t, l.Active())
}

func TestLogindCloseUnknown(t *testing.T) {
	l := &Logind{session: &fakeObject{}, devices: map[int]uint64{}}
	assert.ErrorIs(t, l.Close(42), ErrUnknownFD)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "pause", Pause.String())
	assert.Equal(t, "activate", Activate.String())
}

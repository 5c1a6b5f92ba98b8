// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package session

import (
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	login1Dest       = "org.freedesktop.login1"
	login1Path       = "/org/freedesktop/login1"
	login1Manager    = login1Dest + ".Manager"
	login1SessionIFC = login1Dest + ".Session"
	propertiesIFC    = "org.freedesktop.DBus.Properties"
)

// Logind manages devices through systemd-logind's session API
type Logind struct {
	conn    *dbus.Conn
	session dbus.BusObject
	seat    string

	mu      sync.Mutex
	active  bool
	devices map[int]uint64
	// paused devices waiting for PauseDeviceComplete
	pending [][2]uint32

	signals chan *dbus.Signal
	events  chan Event
}

// NewLogind takes control of the session the process runs in
func NewLogind() (*Logind, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: system bus: %w", ErrUnavailable, err)
	}
	l, err := newLogind(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

func newLogind(conn *dbus.Conn) (*Logind, error) {
	var path dbus.ObjectPath
	manager := conn.Object(login1Dest, login1Path)
	err := manager.Call(login1Manager+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path)
	if err != nil {
		id := os.Getenv("XDG_SESSION_ID")
		if id == "" {
			return nil, fmt.Errorf("%w: find session: %w", ErrUnavailable, err)
		}
		if err = manager.Call(login1Manager+".GetSession", 0, id).Store(&path); err != nil {
			return nil, fmt.Errorf("%w: get session %s: %w", ErrUnavailable, id, err)
		}
	}

	l := &Logind{
		conn:    conn,
		session: conn.Object(login1Dest, path),
		devices: map[int]uint64{},
		signals: make(chan *dbus.Signal, 16),
		events:  make(chan Event, 8),
	}
	if err = l.session.Call(login1SessionIFC+".TakeControl", 0, false).Err; err != nil {
		return nil, fmt.Errorf("%w: take control: %w", ErrUnavailable, err)
	}

	var seat struct {
		Name string
		Path dbus.ObjectPath
	}
	if v, err := l.session.GetProperty(login1SessionIFC + ".Seat"); err == nil {
		if err = dbus.Store([]any{v.Value()}, &seat); err != nil {
			log.WithError(err).Debugln("Decoding seat property")
		}
	}
	l.seat = seat.Name
	if l.seat == "" {
		l.seat = "seat0"
	}
	l.active = l.queryActive()

	for _, member := range []string{"PauseDevice", "ResumeDevice"} {
		err = conn.AddMatchSignal(
			dbus.WithMatchObjectPath(path),
			dbus.WithMatchInterface(login1SessionIFC),
			dbus.WithMatchMember(member),
		)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", member, err)
		}
	}
	err = conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(propertiesIFC),
		dbus.WithMatchMember("PropertiesChanged"),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe PropertiesChanged: %w", err)
	}
	conn.Signal(l.signals)
	go l.dispatch()

	log.WithFields(logrus.Fields{"session": path, "seat": l.seat}).Infoln("Took control of logind session")
	return l, nil
}

func (l *Logind) queryActive() bool {
	v, err := l.session.GetProperty(login1SessionIFC + ".Active")
	if err != nil {
		log.WithError(err).Debugln("Reading Active property")
		return true
	}
	active, ok := v.Value().(bool)
	return !ok || active
}

func (l *Logind) dispatch() {
	for sig := range l.signals {
		l.handleSignal(sig)
	}
}

func (l *Logind) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case login1SessionIFC + ".PauseDevice":
		var (
			major, minor uint32
			kind         string
		)
		if err := dbus.Store(sig.Body, &major, &minor, &kind); err != nil {
			log.WithError(err).Warnln("Malformed PauseDevice signal")
			return
		}
		log.WithFields(logrus.Fields{"major": major, "minor": minor, "type": kind}).Debugln("Device paused")
		switch kind {
		case "pause":
			// Acknowledged by AckPause once the devices are idle
			l.mu.Lock()
			l.pending = append(l.pending, [2]uint32{major, minor})
			l.mu.Unlock()
			l.setActive(false)
		case "force":
			l.setActive(false)
		}
	case login1SessionIFC + ".ResumeDevice":
		var (
			major, minor uint32
			fd           dbus.UnixFD
		)
		if err := dbus.Store(sig.Body, &major, &minor, &fd); err != nil {
			log.WithError(err).Warnln("Malformed ResumeDevice signal")
			return
		}
		// DRM descriptors stay valid across a pause, the new one is not needed
		if fd >= 0 {
			unix.Close(int(fd))
		}
	case propertiesIFC + ".PropertiesChanged":
		var (
			iface       string
			changed     map[string]dbus.Variant
			invalidated []string
		)
		if err := dbus.Store(sig.Body, &iface, &changed, &invalidated); err != nil || iface != login1SessionIFC {
			return
		}
		var active bool
		if v, ok := changed["Active"]; ok {
			active, _ = v.Value().(bool)
		} else if containsString(invalidated, "Active") {
			active = l.queryActive()
		} else {
			return
		}
		l.setActive(active)
	}
}

func (l *Logind) setActive(active bool) {
	l.mu.Lock()
	if l.active == active {
		l.mu.Unlock()
		return
	}
	l.active = active
	l.mu.Unlock()
	if active {
		l.events <- Activate
	} else {
		l.events <- Pause
	}
}

// AckPause completes the device pauses logind is waiting for
func (l *Logind) AckPause() {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, dev := range pending {
		if err := l.session.Call(login1SessionIFC+".PauseDeviceComplete", 0, dev[0], dev[1]).Err; err != nil {
			log.WithError(err).WithFields(logrus.Fields{"major": dev[0], "minor": dev[1]}).Warnln("Acknowledging device pause")
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (l *Logind) Open(path string, _ int) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return -1, err
	}
	major, minor := unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev))
	var (
		fd       dbus.UnixFD
		inactive bool
	)
	if err := l.session.Call(login1SessionIFC+".TakeDevice", 0, major, minor).Store(&fd, &inactive); err != nil {
		return -1, fmt.Errorf("take device %s: %w", path, err)
	}
	l.mu.Lock()
	l.devices[int(fd)] = uint64(st.Rdev)
	l.mu.Unlock()
	log.WithFields(logrus.Fields{"path": path, "inactive": inactive}).Debugln("Took device")
	return int(fd), nil
}

func (l *Logind) Close(fd int) error {
	l.mu.Lock()
	rdev, ok := l.devices[fd]
	delete(l.devices, fd)
	l.mu.Unlock()
	if !ok {
		return ErrUnknownFD
	}
	err := l.session.Call(login1SessionIFC+".ReleaseDevice", 0, unix.Major(rdev), unix.Minor(rdev)).Err
	if cerr := unix.Close(fd); err == nil {
		err = cerr
	}
	return err
}

func (l *Logind) Seat() string { return l.seat }

func (l *Logind) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Logind) Events() <-chan Event { return l.events }

// Shutdown releases control of the session and disconnects from the bus
func (l *Logind) Shutdown() error {
	if err := l.session.Call(login1SessionIFC+".ReleaseControl", 0).Err; err != nil {
		log.WithError(err).Warnln("Releasing session control")
	}
	l.conn.RemoveSignal(l.signals)
	return l.conn.Close()
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package session

import (
	"os"
	"os/signal"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

// VT ioctls from linux/vt.h
const (
	vtSetMode    = 0x5602
	vtRelDisp    = 0x5605
	vtActivate   = 0x5606
	vtWaitActive = 0x5607

	vtAuto    = 0
	vtProcess = 1
	vtAckAcq  = 2
)

type vtMode struct {
	Mode   int8
	Waitv  int8
	Relsig int16
	Acqsig int16
	Frsig  int16
}

// Direct opens devices itself and needs the privileges for that.
// With a VT it takes part in VT switching through SIGUSR1 and SIGUSR2,
// without one the signals can be sent by hand.
type Direct struct {
	seat string
	tty  *os.File

	mu        sync.Mutex
	active    bool
	releasing bool
	fds       map[int]struct{}

	sigs   chan os.Signal
	events chan Event
	done   chan struct{}
}

// NewDirect sets up a direct session. A tty number above zero switches to
// that VT and takes over its switching.
func NewDirect(seat string, tty int) (*Direct, error) {
	d := &Direct{
		seat:   seat,
		active: true,
		fds:    map[int]struct{}{},
		sigs:   make(chan os.Signal, 4),
		events: make(chan Event, 8),
		done:   make(chan struct{}),
	}
	if tty > 0 {
		if err := d.takeVT(tty); err != nil {
			return nil, err
		}
	}
	signal.Notify(d.sigs, unix.SIGUSR1, unix.SIGUSR2)
	go d.handleSignals()
	return d, nil
}

func (d *Direct) takeVT(n int) error {
	f, err := os.OpenFile("/dev/tty"+strconv.Itoa(n), os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return err
	}
	fd := int(f.Fd())
	if err = unix.IoctlSetInt(fd, vtActivate, n); err != nil {
		f.Close()
		return err
	}
	if err = unix.IoctlSetInt(fd, vtWaitActive, n); err != nil {
		f.Close()
		return err
	}
	mode := vtMode{Mode: vtProcess, Relsig: int16(unix.SIGUSR1), Acqsig: int16(unix.SIGUSR2)}
	if err = setVTMode(fd, &mode); err != nil {
		f.Close()
		return err
	}
	d.tty = f
	log.WithField("vt", n).Infoln("Took over VT")
	return nil
}

func (d *Direct) handleSignals() {
	for {
		select {
		case <-d.done:
			return
		case sig := <-d.sigs:
			switch sig {
			case unix.SIGUSR1:
				// The VT is released by AckPause
				d.mu.Lock()
				d.releasing = true
				d.mu.Unlock()
				d.setActive(false)
			case unix.SIGUSR2:
				d.ackVT(vtAckAcq)
				d.setActive(true)
			}
		}
	}
}

// AckPause lets a pending VT switch away go ahead
func (d *Direct) AckPause() {
	d.mu.Lock()
	releasing := d.releasing
	d.releasing = false
	d.mu.Unlock()
	if releasing {
		d.ackVT(1)
	}
}

func (d *Direct) ackVT(v int) {
	if d.tty == nil {
		return
	}
	if err := unix.IoctlSetInt(int(d.tty.Fd()), vtRelDisp, v); err != nil {
		log.WithError(err).Warnln("Acknowledging VT switch")
	}
}

func (d *Direct) setActive(active bool) {
	d.mu.Lock()
	if d.active == active {
		d.mu.Unlock()
		return
	}
	d.active = active
	d.mu.Unlock()
	if active {
		d.events <- Activate
	} else {
		d.events <- Pause
	}
}

func (d *Direct) Open(path string, flags int) (int, error) {
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return -1, err
	}
	d.mu.Lock()
	d.fds[fd] = struct{}{}
	d.mu.Unlock()
	return fd, nil
}

func (d *Direct) Close(fd int) error {
	d.mu.Lock()
	_, ok := d.fds[fd]
	delete(d.fds, fd)
	d.mu.Unlock()
	if !ok {
		return ErrUnknownFD
	}
	return unix.Close(fd)
}

func (d *Direct) Seat() string { return d.seat }

func (d *Direct) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Direct) Events() <-chan Event { return d.events }

// Shutdown gives VT switching back to the kernel
func (d *Direct) Shutdown() error {
	signal.Stop(d.sigs)
	close(d.done)
	if d.tty == nil {
		return nil
	}
	mode := vtMode{Mode: vtAuto}
	if err := setVTMode(int(d.tty.Fd()), &mode); err != nil {
		log.WithError(err).Warnln("Restoring VT mode")
	}
	return d.tty.Close()
}

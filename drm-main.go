// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mstarongithub/scanout/backend/drm"
	"github.com/mstarongithub/scanout/config"
	"github.com/mstarongithub/scanout/cursor"
	"github.com/mstarongithub/scanout/debugapi"
	"github.com/mstarongithub/scanout/eventloop"
	"github.com/mstarongithub/scanout/globals"
	"github.com/mstarongithub/scanout/layout"
	"github.com/mstarongithub/scanout/session"
	"github.com/mstarongithub/scanout/space"
	"github.com/mstarongithub/scanout/udev"
	"github.com/mstarongithub/scanout/util/multiplexer"
	"github.com/sirupsen/logrus"
)

// fannedSession hands out one receiver of the session's events so the events
// can reach more than the backend
type fannedSession struct {
	session.Session
	events <-chan session.Event
}

func (s fannedSession) Events() <-chan session.Event { return s.events }

func (s fannedSession) AckPause() {
	if a, ok := s.Session.(session.PauseAcker); ok {
		a.AckPause()
	}
}

type shutdowner interface {
	Shutdown() error
}

func openSession(conf *config.Config) (session.Session, error) {
	switch conf.Session {
	case config.SessionDirect:
		d, err := session.NewDirect(conf.Seat, conf.TTY)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		l, err := session.NewLogind()
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// fanOut forwards every session event to the returned session and a logger
func fanOut(sess session.Session) (session.Session, *multiplexer.OneToMany[session.Event], error) {
	plexer := multiplexer.NewOneToMany[session.Event]()
	backendEvents, err := plexer.MakeReceiver("drm", 8)
	if err != nil {
		return nil, nil, err
	}
	logEvents, err := plexer.MakeReceiver("log", 8)
	if err != nil {
		return nil, nil, err
	}
	go plexer.StartPlexer()
	go func() {
		for ev := range sess.Events() {
			if plexer.Send(ev) != nil {
				return
			}
		}
	}()
	go func() {
		for ev := range logEvents {
			logrus.WithFields(logrus.Fields{"event": ev, "seat": sess.Seat()}).Infoln("Session event")
		}
	}()
	return fannedSession{Session: sess, events: backendEvents}, plexer, nil
}

func drmMain(ctx context.Context, conf *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	raw, err := openSession(conf)
	if err != nil {
		return fmt.Errorf("%w: %w", drm.ErrSessionUnavailable, err)
	}
	if s, ok := raw.(shutdowner); ok {
		defer func() {
			if err := s.Shutdown(); err != nil {
				logrus.WithError(err).Warnln("Shutting down session")
			}
		}()
	}
	sess, plexer, err := fanOut(raw)
	if err != nil {
		return err
	}
	defer plexer.CloseSender()

	sysfs := udev.Sysfs{Root: conf.SysfsRoot}
	monitor, err := udev.NewMonitor(conf.DevDir, sysfs)
	if err != nil {
		return err
	}
	defer monitor.Close()
	devices := monitor.Devices()
	go monitor.Run(ctx)

	loop := eventloop.New()
	l := layout.New()
	registry := globals.NewRegistry()
	backend, err := drm.New(drm.Options{
		Session:     sess,
		Loop:        loop,
		Driver:      drm.KMSDriver{Sysfs: sysfs},
		Events:      monitor.Events(),
		Sysfs:       sysfs,
		DevDir:      conf.DevDir,
		PrimaryGPU:  conf.PrimaryGPU,
		Space:       space.New(l),
		Layout:      l,
		Globals:     registry,
		Cursor:      cursor.New(conf.CursorSize),
		Pointer:     &cursor.Pointer{},
		ClearColor:  conf.Clear(),
		BufferCount: conf.BufferCount,
		FrameRetry:  conf.FrameRetry(),
	})
	if err != nil {
		return err
	}

	loop.Watchdog(conf.Watchdog(), func(stalled time.Duration) {
		logrus.WithField("stalled", stalled).Fatalln("Display loop stopped responding")
	})

	if conf.DebugAddr != "" {
		go func() {
			err := debugapi.Serve(ctx, conf.DebugAddr, debugapi.NewRouter(registry, loop, conf.Watchdog()))
			if err != nil {
				logrus.WithError(err).Errorln("Debug api failed")
			}
		}()
	}

	c := &console{loop: loop, backend: backend, globals: registry, stop: cancel}
	startTargets(conf, c)

	err = loop.RunAfter(ctx, func() error {
		if err := backend.Start(devices); err != nil {
			return fmt.Errorf("starting drm backend: %w", err)
		}
		return nil
	})
	// The loop is gone, nothing else touches the backend anymore
	backend.Shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startTargets starts whatever the config asks to run next to the display
func startTargets(conf *config.Config, c *console) {
	switch conf.StartType {
	case config.START_REPL:
		go replRunner(c)
	case config.START_SINGLE_COMMAND:
		if conf.StartCommand == nil || *conf.StartCommand == "" {
			logrus.Warnln("start_type asks for a command but start_command is empty")
			return
		}
		runCommand(*conf.StartCommand, os.Stdout)
	case config.START_NONE:
	}
}

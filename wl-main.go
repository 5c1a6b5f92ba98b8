// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mstarongithub/scanout/config"
	"github.com/mstarongithub/scanout/debugapi"
	"github.com/mstarongithub/scanout/globals"
	"github.com/mstarongithub/scanout/layout"
	"github.com/sirupsen/logrus"
	"github.com/swaywm/go-wlroots/wlroots"
)

// nestedBeat reports the nested server as always alive, wlroots owns its loop
type nestedBeat struct{}

func (nestedBeat) LastDispatch() time.Time { return time.Now() }

func wlMain(ctx context.Context, conf *config.Config) error {
	wlroots.OnLog(wlroots.LogImportanceError, func(importance wlroots.LogImportance, msg string) {
		switch importance {
		case wlroots.LogImportanceDebug:
			logrus.Debugln(msg)
		case wlroots.LogImportanceInfo:
			logrus.Infoln(msg)
		case wlroots.LogImportanceError:
			logrus.Errorln(msg)
		case wlroots.LogImportanceSilent:
			return
		}
	})

	registry := globals.NewRegistry()
	server, err := NewNestedServer(layout.New(), registry)
	if err != nil {
		return fmt.Errorf("initializing nested server: %w", err)
	}
	if err = server.Start(); err != nil {
		return fmt.Errorf("starting nested server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		server.Stop()
	}()
	if conf.DebugAddr != "" {
		go func() {
			if err := debugapi.Serve(ctx, conf.DebugAddr, debugapi.NewRouter(registry, nestedBeat{}, 0)); err != nil {
				logrus.WithError(err).Errorln("Debug api failed")
			}
		}()
	}

	startTargets(conf, &console{globals: registry, stop: cancel})

	// wlroots runs its own event loop until Stop
	return server.Run()
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/mstarongithub/scanout/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var (
	configPath string
	logLevel   string
	conf       *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Errorln("scanout failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scanout",
		Short:         "Display pipeline driving monitors through kernel mode setting",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if conf.Backend == config.BackendNested {
				return wlMain(cmd.Context(), conf)
			}
			return drmMain(cmd.Context(), conf)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file, .toml or .yaml")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Overrides log_level from the config")

	root.AddCommand(&cobra.Command{
		Use:   "drm",
		Short: "Drive the displays directly, from a VT",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return drmMain(cmd.Context(), conf)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "nested",
		Short: "Run as a window inside another Wayland or X11 session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return wlMain(cmd.Context(), conf)
		},
	})
	root.AddCommand(newOutputsCmd())
	root.AddCommand(newModesCmd())
	return root
}

func setup() error {
	var err error
	conf, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		conf.LogLevel = logLevel
	}
	level, err := logrus.ParseLevel(conf.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

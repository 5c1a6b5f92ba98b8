// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package metrics holds the prometheus collectors of the display pipeline
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FramesSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scanout",
			Subsystem: "frame",
			Name:      "submitted_total",
			Help:      "Frames queued for scanout",
		},
		[]string{"output"},
	)

	FrameFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scanout",
			Subsystem: "frame",
			Name:      "failures_total",
			Help:      "Frames that could not be produced, by stage",
		},
		[]string{"output", "stage"},
	)

	FrameRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scanout",
			Subsystem: "frame",
			Name:      "retries_total",
			Help:      "Frame productions scheduled by the retry timer",
		},
	)

	StaleVBlanks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scanout",
			Subsystem: "vblank",
			Name:      "stale_total",
			Help:      "Vblank events for devices or CRTCs that are gone",
		},
	)

	Devices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scanout",
			Name:      "devices",
			Help:      "Open display devices",
		},
	)

	Outputs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scanout",
			Name:      "outputs",
			Help:      "Outputs with a surface",
		},
	)

	SessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scanout",
			Subsystem: "session",
			Name:      "active",
			Help:      "1 while the session owns its devices",
		},
	)
)

// Stages for FrameFailures
const (
	StageAcquire = "acquire"
	StageRender  = "render"
	StageSubmit  = "submit"
)

func init() {
	prometheus.MustRegister(
		FramesSubmitted,
		FrameFailures,
		FrameRetries,
		StaleVBlanks,
		Devices,
		Outputs,
		SessionActive,
	)
}

func SetSessionActive(active bool) {
	if active {
		SessionActive.Set(1)
	} else {
		SessionActive.Set(0)
	}
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package debugapi serves read-only state of a running instance over http
package debugapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mstarongithub/scanout/common/ipc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "debug")

var requestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scanout",
		Subsystem: "debug",
		Name:      "requests_total",
		Help:      "Requests served by the debug api",
	},
	[]string{"path", "status"},
)

func init() {
	prometheus.MustRegister(requestsTotal)
}

// OutputSource answers output queries, usually a globals.Registry
type OutputSource interface {
	Snapshot(req ipc.OutputRequest) ipc.OutputResponse
}

// Heartbeat reports when the display loop last made progress
type Heartbeat interface {
	LastDispatch() time.Time
}

type Health struct {
	Status       string    `json:"status"`
	LastDispatch time.Time `json:"last_dispatch"`
}

// NewRouter builds the debug routes. With a zero stallAfter the loop is
// never reported as unhealthy.
func NewRouter(outputs OutputSource, beat Heartbeat, stallAfter time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(countRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := Health{Status: "ok", LastDispatch: beat.LastDispatch()}
		status := http.StatusOK
		if stallAfter > 0 && time.Since(h.LastDispatch) > stallAfter {
			h.Status = "stalled"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/outputs", func(w http.ResponseWriter, r *http.Request) {
		req, err := parseOutputRequest(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, outputs.Snapshot(req))
	})
	return r
}

// parseOutputRequest reads ?modes=<bool>&output=<name>
func parseOutputRequest(r *http.Request) (ipc.OutputRequest, error) {
	var req ipc.OutputRequest
	q := r.URL.Query()
	if v := q.Get("modes"); v != "" {
		modes, err := strconv.ParseBool(v)
		if err != nil {
			return req, errors.New("modes must be a boolean")
		}
		req.IncludeModes = modes
	}
	if name := q.Get("output"); name != "" {
		req.SpecifiesOutput = true
		req.TargetOutput = name
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debugln("Writing response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		requestsTotal.WithLabelValues(path, strconv.Itoa(sr.status)).Inc()
	})
}

// Serve runs the api on addr until ctx is done
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Infoln("Debug api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package globals is the protocol side registry of outputs announced to clients
package globals

import (
	"slices"
	"sync"

	"github.com/mstarongithub/scanout/common/ipc"
	"github.com/mstarongithub/scanout/output"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "globals")

// Registry is safe for concurrent use
type Registry struct {
	mu      sync.RWMutex
	outputs []*output.Output
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Publish announces o, publishing twice is a no-op
func (r *Registry) Publish(o *output.Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.outputs, o) {
		return
	}
	r.outputs = append(r.outputs, o)
	log.WithField("output", o.Name()).Debugln("Published output global")
}

func (r *Registry) Withdraw(o *output.Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.outputs, o)
	if i < 0 {
		return
	}
	r.outputs = slices.Delete(r.outputs, i, i+1)
	log.WithField("output", o.Name()).Debugln("Withdrew output global")
}

func (r *Registry) Outputs() []*output.Output {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.outputs)
}

// Snapshot answers an output request from the published outputs
func (r *Registry) Snapshot(req ipc.OutputRequest) ipc.OutputResponse {
	resp := ipc.OutputResponse{
		Outputs: []string{},
		Details: []ipc.OutputInfo{},
	}
	if req.IncludeModes {
		resp.OutputModes = map[string][]ipc.OutputMode{}
	}
	for _, o := range r.Outputs() {
		if req.SpecifiesOutput && o.Name() != req.TargetOutput {
			continue
		}
		resp.Outputs = append(resp.Outputs, o.Name())
		resp.Details = append(resp.Details, info(o))
		if req.IncludeModes {
			resp.OutputModes[o.Name()] = modes(o)
		}
	}
	resp.OutputsFound = len(resp.Outputs)
	return resp
}

func info(o *output.Output) ipc.OutputInfo {
	phys := o.Physical()
	loc, mapped := o.Location()
	size := o.LogicalSize()
	return ipc.OutputInfo{
		Name:      o.Name(),
		Make:      phys.Make,
		Model:     phys.Model,
		X:         loc.X,
		Y:         loc.Y,
		Mapped:    mapped,
		Width:     size.X,
		Height:    size.Y,
		Transform: o.Transform().String(),
		Scale:     o.Scale(),
	}
}

func modes(o *output.Output) []ipc.OutputMode {
	preferred, hasPreferred := o.PreferredMode()
	current, hasCurrent := o.CurrentMode()
	var out []ipc.OutputMode
	for _, m := range o.Modes() {
		out = append(out, ipc.OutputMode{
			Width:       m.Size.X,
			Height:      m.Size.Y,
			RefreshRate: m.Refresh,
			Preferred:   hasPreferred && m == preferred,
			Current:     hasCurrent && m == current,
		})
	}
	return out
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package gpu

import (
	"fmt"
	"image"
	"sort"

	"github.com/mstarongithub/scanout/fourcc"
	"github.com/mstarongithub/scanout/udev"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

// How a frame for a device gets rendered
type Kind int

const (
	// Rendered on the device's own render node, straight into its buffer
	Direct Kind = iota
	// Rendered on another node and copied into the device's buffer
	Bridged
)

func (k Kind) String() string {
	if k == Bridged {
		return "bridged"
	}
	return "direct"
}

// Selection is the renderer choice for one frame.
// For Direct, Render and Target are the same node.
type Selection struct {
	Kind   Kind
	Render udev.DeviceID
	Target udev.DeviceID
}

// Manager keeps track of the render nodes of all GPUs.
// The primary node is decided once at startup and never changes.
// Not safe for concurrent use, it belongs to the event loop.
type Manager struct {
	primary udev.DeviceID
	nodes   map[udev.DeviceID]Allocator
	// offscreen copies for bridged rendering, per target node and target buffer
	scratch map[udev.DeviceID]map[Buffer]*scratchBuffer
	log     *logrus.Entry
}

type scratchBuffer struct {
	buf   Buffer
	fresh bool
}

func NewManager(primary udev.DeviceID) *Manager {
	return &Manager{
		primary: primary,
		nodes:   make(map[udev.DeviceID]Allocator),
		scratch: make(map[udev.DeviceID]map[Buffer]*scratchBuffer),
		log:     logrus.WithField("component", "gpu"),
	}
}

func (m *Manager) Primary() udev.DeviceID { return m.primary }

// AddNode registers the allocator of a render node. Registering twice replaces the binding.
func (m *Manager) AddNode(node udev.DeviceID, alloc Allocator) error {
	if alloc == nil {
		return fmt.Errorf("node %s: nil allocator", node)
	}
	m.nodes[node] = alloc
	m.log.WithFields(logrus.Fields{"node": node, "primary": node == m.primary}).Debugln("Render node added")
	return nil
}

// RemoveNode forgets a render node and every offscreen buffer that belonged to it
func (m *Manager) RemoveNode(node udev.DeviceID) {
	if _, ok := m.nodes[node]; !ok {
		return
	}
	delete(m.nodes, node)
	for target, bufs := range m.scratch {
		for key, s := range bufs {
			if target == node || node == m.primary {
				s.buf.Destroy()
				delete(bufs, key)
			}
		}
		if len(bufs) == 0 {
			delete(m.scratch, target)
		}
	}
	if node == m.primary {
		m.log.WithField("node", node).Warnln("Primary GPU removed, bridged rendering unavailable")
	} else {
		m.log.WithField("node", node).Debugln("Render node removed")
	}
}

func (m *Manager) Has(node udev.DeviceID) bool {
	_, ok := m.nodes[node]
	return ok
}

// Nodes returns all registered nodes in ascending order
func (m *Manager) Nodes() []udev.DeviceID {
	out := make([]udev.DeviceID, 0, len(m.nodes))
	for n := range m.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Select decides how frames for a device with the given render node are rendered
func (m *Manager) Select(target udev.DeviceID) Selection {
	if target == m.primary {
		return Selection{Kind: Direct, Render: target, Target: target}
	}
	return Selection{Kind: Bridged, Render: m.primary, Target: target}
}

// SingleRenderer renders directly on node
func (m *Manager) SingleRenderer(node udev.DeviceID) (*Renderer, error) {
	return m.Renderer(node, node)
}

// Renderer returns a renderer that draws on renderNode for buffers living on targetNode
func (m *Manager) Renderer(renderNode, targetNode udev.DeviceID) (*Renderer, error) {
	if !m.Has(renderNode) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, renderNode)
	}
	if !m.Has(targetNode) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, targetNode)
	}
	sel := Selection{Kind: Direct, Render: renderNode, Target: targetNode}
	if renderNode != targetNode {
		sel.Kind = Bridged
	}
	return &Renderer{sel: sel, mgr: m}, nil
}

// RendererFor resolves the selection for target and returns the matching renderer
func (m *Manager) RendererFor(target udev.DeviceID) (*Renderer, error) {
	sel := m.Select(target)
	return m.Renderer(sel.Render, sel.Target)
}

// Forget drops the offscreen copy belonging to a target buffer that is being destroyed
func (m *Manager) Forget(target udev.DeviceID, buf Buffer) {
	bufs := m.scratch[target]
	if s, ok := bufs[buf]; ok {
		s.buf.Destroy()
		delete(bufs, buf)
	}
}

func (m *Manager) scratchFor(sel Selection, target Buffer) (*scratchBuffer, error) {
	bufs := m.scratch[sel.Target]
	if bufs == nil {
		bufs = make(map[Buffer]*scratchBuffer)
		m.scratch[sel.Target] = bufs
	}
	if s, ok := bufs[target]; ok {
		s.fresh = false
		return s, nil
	}
	size := target.Size()
	buf, err := m.nodes[sel.Render].Allocate(size.X, size.Y, target.Format(), UsageRendering)
	if err != nil {
		return nil, fmt.Errorf("allocating offscreen buffer on %s: %w", sel.Render, err)
	}
	s := &scratchBuffer{buf: buf, fresh: true}
	bufs[target] = s
	return s, nil
}

// Renderer is a software renderer bound to a render selection.
// Cheap to create, one is made per frame.
type Renderer struct {
	sel     Selection
	mgr     *Manager
	target  Buffer
	scratch *scratchBuffer
}

func (r *Renderer) Selection() Selection { return r.sel }

// Formats the renderer can draw into
func (r *Renderer) Formats() []fourcc.Format {
	return SoftwareFormats
}

// Bind makes buf the render target. age is the age of buf's content, the returned
// age is the age of what will actually be drawn into, which can be younger when a
// fresh offscreen copy had to be created.
func (r *Renderer) Bind(buf Buffer, age int) (draw.Image, int, error) {
	r.target = buf
	r.scratch = nil
	if r.sel.Kind == Direct {
		return buf.Image(), age, nil
	}
	s, err := r.mgr.scratchFor(r.sel, buf)
	if err != nil {
		return nil, 0, err
	}
	r.scratch = s
	if s.fresh {
		age = 0
	}
	return s.buf.Image(), age, nil
}

// Finish makes the rendered damage visible in the bound buffer
func (r *Renderer) Finish(damage []image.Rectangle) error {
	if r.target == nil {
		return fmt.Errorf("renderer has no bound buffer")
	}
	if r.scratch == nil {
		return nil
	}
	dst := r.target.Image()
	src := r.scratch.buf.Image()
	for _, d := range damage {
		draw.Draw(dst, d, src, d.Min, draw.Src)
	}
	return nil
}

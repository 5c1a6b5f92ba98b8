// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/mstarongithub/scanout/edid"
	"github.com/mstarongithub/scanout/globals"
	"github.com/mstarongithub/scanout/layout"
	"github.com/mstarongithub/scanout/metrics"
	"github.com/mstarongithub/scanout/output"
	"github.com/sirupsen/logrus"
	"github.com/swaywm/go-wlroots/wlroots"
)

// NestedServer runs the display pipeline as a client window of another
// compositor. wlroots picks the backend and does the presenting, the outputs
// it creates are published like the ones of the drm backend.
type NestedServer struct {
	display     wlroots.Display
	backend     wlroots.Backend
	renderer    wlroots.Renderer
	allocator   wlroots.Allocator
	scene       wlroots.Scene
	sceneLayout wlroots.SceneOutputLayout
	xdgShell    wlroots.XDGShell

	outputLayout wlroots.OutputLayout

	layout  *layout.Layout
	globals *globals.Registry
	// by wlroots output name
	outputs map[string]*output.Output
	log     *logrus.Entry
}

func NewNestedServer(l *layout.Layout, registry *globals.Registry) (server *NestedServer, err error) {
	server = &NestedServer{
		layout:  l,
		globals: registry,
		outputs: map[string]*output.Output{},
		log:     logrus.WithField("component", "nested"),
	}

	server.display = wlroots.NewDisplay()

	// Opens a window in the running Wayland or X11 session
	server.backend, err = server.display.BackendAutocreate()
	if err != nil {
		return nil, err
	}
	server.renderer, err = server.backend.RendererAutoCreate()
	if err != nil {
		return nil, err
	}
	server.renderer.InitDisplay(server.display)
	server.allocator, err = server.backend.AllocatorAutocreate(server.renderer)
	if err != nil {
		return nil, err
	}

	server.display.CompositorCreate(5, server.renderer)
	server.display.SubCompositorCreate()
	server.display.DataDeviceManagerCreate()

	server.outputLayout = wlroots.NewOutputLayout()
	server.backend.OnNewOutput(server.handleNewOutput)

	server.scene = wlroots.NewScene()
	server.sceneLayout = server.scene.AttachOutputLayout(server.outputLayout)

	server.xdgShell = server.display.XDGShellCreate(3)
	server.xdgShell.OnNewSurface(server.handleNewXDGSurface)
	return
}

// handleNewXDGSurface puts client windows into the scene. Placement and focus
// are left to whoever runs on top.
func (server *NestedServer) handleNewXDGSurface(xdgSurface wlroots.XDGSurface) {
	if xdgSurface.Role() == wlroots.XDGSurfaceRolePopup {
		parent := xdgSurface.Popup().Parent()
		if parent.Nil() {
			server.log.WithField("surface", xdgSurface).Warnln("Popup without parent")
			return
		}
		xdgSurface.SetData(parent.XDGSurface().SceneTree().NewXDGSurface(xdgSurface))
		return
	}
	if xdgSurface.Role() != wlroots.XDGSurfaceRoleTopLevel {
		server.log.WithField("role", xdgSurface.Role()).Debugln("Ignoring surface")
		return
	}

	xdgSurface.SetData(server.scene.Tree().NewXDGSurface(xdgSurface.TopLevel().Base()))
	xdgSurface.OnMap(func(s wlroots.XDGSurface) {
		topLevel := s.TopLevel()
		topLevel.Base().SceneTree().Node().RaiseToTop()
		topLevel.SetActivated(true)
	})
	xdgSurface.OnUnmap(func(wlroots.XDGSurface) {})
	xdgSurface.OnDestroy(func(wlroots.XDGSurface) {})
}

func (server *NestedServer) handleNewFrame(wo wlroots.Output) {
	sOut, err := server.scene.SceneOutput(wo)
	if err != nil {
		return
	}
	sOut.Commit()
	sOut.SendFrameDone(time.Now())
	metrics.FramesSubmitted.WithLabelValues(wo.Name()).Inc()
}

func (server *NestedServer) handleOutputRequestState(wo wlroots.Output, state wlroots.OutputState) {
	server.log.WithField("output", wo.Name()).Debugln("New state request for output")
	wo.CommitState(state)
}

func (server *NestedServer) handleOutputDestroy(wo wlroots.Output) {
	o, ok := server.outputs[wo.Name()]
	if !ok {
		return
	}
	server.layout.Unmap(o)
	server.globals.Withdraw(o)
	delete(server.outputs, wo.Name())
	metrics.Outputs.Dec()
	server.log.WithField("output", wo.Name()).Infoln("Output removed")
}

func (server *NestedServer) handleNewOutput(wo wlroots.Output) {
	wo.InitRender(server.allocator, server.renderer)

	oState := wlroots.NewOutputState()
	oState.StateInit()
	oState.StateSetEnabled(true)
	mode, err := wo.PrefferedMode()
	if err == nil {
		oState.SetMode(mode)
	}
	wo.CommitState(oState)
	oState.Finish()

	wo.OnFrame(server.handleNewFrame)
	wo.OnRequestState(server.handleOutputRequestState)
	wo.OnDestroy(server.handleOutputDestroy)

	lOutput := server.outputLayout.AddOutputAuto(wo)
	sceneOutput := server.scene.NewOutput(wo)
	server.sceneLayout.AddOutput(lOutput, sceneOutput)

	o := nestedOutput(wo)
	server.outputs[wo.Name()] = o
	loc := server.layout.MapRight(o)
	server.globals.Publish(o)
	metrics.Outputs.Inc()
	server.log.WithFields(logrus.Fields{"output": wo.Name(), "location": loc}).Infoln("Output added")

	if err = wo.SetTitle(fmt.Sprintf("scanout - %s", wo.Name())); err != nil {
		server.log.WithError(err).Debugln("Setting window title")
	}
}

// nestedOutput mirrors a wlroots output into the output model. The host
// window's content arrives upside down relative to the software pipeline.
func nestedOutput(wo wlroots.Output) *output.Output {
	o := output.New(wo.Name(), output.PhysicalProperties{
		Subpixel: output.SubpixelUnknown,
		Make:     edid.Unknown,
		Model:    edid.Unknown,
	})
	var current *output.Mode
	for _, m := range wo.Modes() {
		om := output.Mode{Size: image.Pt(int(m.Width()), int(m.Height())), Refresh: int(m.Refresh())}
		o.AddMode(om)
		if m.Preferred() {
			o.SetPreferred(om)
			current = &om
		}
	}
	if current == nil {
		// window backends have no modes, the window is 1280x720
		om := output.Mode{Size: image.Pt(1280, 720), Refresh: 60000}
		o.SetPreferred(om)
		current = &om
	}
	transform := output.Flipped180
	scale := 1.0
	o.ChangeCurrentState(current, &transform, &scale, nil)
	return o
}

func (server *NestedServer) Start() error {
	socket, err := server.display.AddSocketAuto()
	if err != nil {
		server.backend.Destroy()
		return err
	}
	if err = server.backend.Start(); err != nil {
		server.backend.Destroy()
		server.display.Destroy()
		return err
	}
	if res := os.Getenv("WAYLAND_DISPLAY"); res != "" {
		server.log.WithField("WAYLAND_DISPLAY", res).Debugln("Wayland display already set, overwriting")
	}
	if err = os.Setenv("WAYLAND_DISPLAY", socket); err != nil {
		return err
	}
	server.log.WithField("WAYLAND_DISPLAY", socket).Infoln("Running nested")
	return nil
}

// Run blocks until Stop
func (server *NestedServer) Run() error {
	server.display.Run()

	server.display.DestroyClients()
	server.scene.Tree().Node().Destroy()
	server.outputLayout.Destroy()
	server.display.Destroy()
	return nil
}

func (server *NestedServer) Stop() {
	server.display.Terminate()
}

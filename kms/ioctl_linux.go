// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package kms

import (
	"bytes"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Request numbers are _IO/_IOWR('d', nr, size) with the uapi struct sizes
const (
	ioctlGetCap          = 0xc010640c
	ioctlSetMaster       = 0x641e
	ioctlDropMaster      = 0x641f
	ioctlModeGetResource = 0xc04064a0
	ioctlModeSetCRTC     = 0xc06864a2
	ioctlModeGetEncoder  = 0xc01464a6
	ioctlModeGetConn     = 0xc05064a7
	ioctlModeGetProperty = 0xc04064aa
	ioctlModeGetPropBlob = 0xc01064ac
	ioctlModeRmFB        = 0xc00464af
	ioctlModePageFlip    = 0xc01864b0
	ioctlModeCreateDumb  = 0xc02064b2
	ioctlModeMapDumb     = 0xc01064b3
	ioctlModeDestroyDumb = 0xc00464b4
	ioctlModeAddFB2      = 0xc06864b8

	capDumbBuffer = 0x1

	pageFlipEvent = 0x01

	propBlob = 1 << 4

	modeDisplayNameLen = 32
)

type sysGetCap struct {
	Capability uint64
	Value      uint64
}

type sysCardRes struct {
	FBPtr           uint64
	CRTCPtr         uint64
	ConnectorPtr    uint64
	EncoderPtr      uint64
	CountFBs        uint32
	CountCRTCs      uint32
	CountConnectors uint32
	CountEncoders   uint32
	MinWidth        uint32
	MaxWidth        uint32
	MinHeight       uint32
	MaxHeight       uint32
}

type sysGetConnector struct {
	EncodersPtr   uint64
	ModesPtr      uint64
	PropsPtr      uint64
	PropValuesPtr uint64
	CountModes    uint32
	CountProps    uint32
	CountEncoders uint32
	EncoderID     uint32
	ConnectorID   uint32
	ConnectorType uint32
	ConnectorTID  uint32
	Connection    uint32
	MMWidth       uint32
	MMHeight      uint32
	Subpixel      uint32
	pad           uint32
}

type sysGetEncoder struct {
	EncoderID      uint32
	EncoderType    uint32
	CRTCID         uint32
	PossibleCRTCs  uint32
	PossibleClones uint32
}

type sysModeInfo struct {
	Clock      uint32
	HDisplay   uint16
	HSyncStart uint16
	HSyncEnd   uint16
	HTotal     uint16
	HSkew      uint16
	VDisplay   uint16
	VSyncStart uint16
	VSyncEnd   uint16
	VTotal     uint16
	VScan      uint16
	VRefresh   uint32
	Flags      uint32
	Type       uint32
	Name       [modeDisplayNameLen]byte
}

type sysCRTC struct {
	SetConnectorsPtr uint64
	CountConnectors  uint32
	CRTCID           uint32
	FBID             uint32
	X                uint32
	Y                uint32
	GammaSize        uint32
	ModeValid        uint32
	Mode             sysModeInfo
}

type sysGetProperty struct {
	ValuesPtr      uint64
	EnumBlobPtr    uint64
	PropID         uint32
	Flags          uint32
	Name           [32]byte
	CountValues    uint32
	CountEnumBlobs uint32
}

type sysGetBlob struct {
	BlobID uint32
	Length uint32
	Data   uint64
}

type sysPageFlip struct {
	CRTCID   uint32
	FBID     uint32
	Flags    uint32
	Reserved uint32
	UserData uint64
}

type sysCreateDumb struct {
	Height uint32
	Width  uint32
	BPP    uint32
	Flags  uint32
	Handle uint32
	Pitch  uint32
	Size   uint64
}

type sysMapDumb struct {
	Handle uint32
	pad    uint32
	Offset uint64
}

type sysDestroyDumb struct {
	Handle uint32
}

type sysFBCmd2 struct {
	FBID        uint32
	Width       uint32
	Height      uint32
	PixelFormat uint32
	Flags       uint32
	Handles     [4]uint32
	Pitches     [4]uint32
	Offsets     [4]uint32
	pad         uint32
	Modifier    [4]uint64
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}

// ptr turns the backing array of s into a uapi pointer field, 0 when empty
func ptr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}

func getCap(fd int, capability uint64) (uint64, error) {
	c := sysGetCap{Capability: capability}
	if err := ioctl(fd, ioctlGetCap, unsafe.Pointer(&c)); err != nil {
		return 0, err
	}
	return c.Value, nil
}

func setMaster(fd int) error  { return ioctl(fd, ioctlSetMaster, nil) }
func dropMaster(fd int) error { return ioctl(fd, ioctlDropMaster, nil) }

// Counts can grow between the sizing call and the fetch during hotplug,
// so the fetch is repeated until they are stable.
const maxFetchAttempts = 5

func getResources(fd int) (crtcs []uint32, connectors []uint32, encoders []uint32, err error) {
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		var res sysCardRes
		if err = ioctl(fd, ioctlModeGetResource, unsafe.Pointer(&res)); err != nil {
			return nil, nil, nil, err
		}
		crtcs = make([]uint32, res.CountCRTCs)
		connectors = make([]uint32, res.CountConnectors)
		encoders = make([]uint32, res.CountEncoders)
		want := res
		res = sysCardRes{
			CRTCPtr:         ptr(crtcs),
			ConnectorPtr:    ptr(connectors),
			EncoderPtr:      ptr(encoders),
			CountCRTCs:      want.CountCRTCs,
			CountConnectors: want.CountConnectors,
			CountEncoders:   want.CountEncoders,
		}
		err = ioctl(fd, ioctlModeGetResource, unsafe.Pointer(&res))
		runtime.KeepAlive(crtcs)
		runtime.KeepAlive(connectors)
		runtime.KeepAlive(encoders)
		if err != nil {
			return nil, nil, nil, err
		}
		if res.CountCRTCs == want.CountCRTCs &&
			res.CountConnectors == want.CountConnectors &&
			res.CountEncoders == want.CountEncoders {
			return crtcs, connectors, encoders, nil
		}
	}
	return nil, nil, nil, unix.EAGAIN
}

type rawConnector struct {
	info       sysGetConnector
	encoders   []uint32
	modes      []sysModeInfo
	props      []uint32
	propValues []uint64
}

func getConnector(fd int, id uint32) (rawConnector, error) {
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		c := rawConnector{info: sysGetConnector{ConnectorID: id}}
		if err := ioctl(fd, ioctlModeGetConn, unsafe.Pointer(&c.info)); err != nil {
			return rawConnector{}, err
		}
		want := c.info
		c.encoders = make([]uint32, want.CountEncoders)
		c.modes = make([]sysModeInfo, want.CountModes)
		c.props = make([]uint32, want.CountProps)
		c.propValues = make([]uint64, want.CountProps)
		c.info = sysGetConnector{
			EncodersPtr:   ptr(c.encoders),
			ModesPtr:      ptr(c.modes),
			PropsPtr:      ptr(c.props),
			PropValuesPtr: ptr(c.propValues),
			CountModes:    want.CountModes,
			CountProps:    want.CountProps,
			CountEncoders: want.CountEncoders,
			ConnectorID:   id,
		}
		err := ioctl(fd, ioctlModeGetConn, unsafe.Pointer(&c.info))
		runtime.KeepAlive(c.encoders)
		runtime.KeepAlive(c.modes)
		runtime.KeepAlive(c.props)
		runtime.KeepAlive(c.propValues)
		if err != nil {
			return rawConnector{}, err
		}
		if c.info.CountModes == want.CountModes &&
			c.info.CountProps == want.CountProps &&
			c.info.CountEncoders == want.CountEncoders {
			return c, nil
		}
	}
	return rawConnector{}, unix.EAGAIN
}

func getEncoder(fd int, id uint32) (sysGetEncoder, error) {
	e := sysGetEncoder{EncoderID: id}
	err := ioctl(fd, ioctlModeGetEncoder, unsafe.Pointer(&e))
	return e, err
}

func getPropertyName(fd int, id uint32) (string, uint32, error) {
	p := sysGetProperty{PropID: id}
	if err := ioctl(fd, ioctlModeGetProperty, unsafe.Pointer(&p)); err != nil {
		return "", 0, err
	}
	return cString(p.Name[:]), p.Flags, nil
}

func getBlob(fd int, id uint32) ([]byte, error) {
	b := sysGetBlob{BlobID: id}
	if err := ioctl(fd, ioctlModeGetPropBlob, unsafe.Pointer(&b)); err != nil {
		return nil, err
	}
	if b.Length == 0 {
		return nil, nil
	}
	data := make([]byte, b.Length)
	b.Data = ptr(data)
	err := ioctl(fd, ioctlModeGetPropBlob, unsafe.Pointer(&b))
	runtime.KeepAlive(data)
	if err != nil {
		return nil, err
	}
	return data[:min(int(b.Length), len(data))], nil
}

func setCRTC(fd int, crtc, fb uint32, connectors []uint32, mode *sysModeInfo) error {
	c := sysCRTC{
		SetConnectorsPtr: ptr(connectors),
		CountConnectors:  uint32(len(connectors)),
		CRTCID:           crtc,
		FBID:             fb,
	}
	if mode != nil {
		c.Mode = *mode
		c.ModeValid = 1
	}
	err := ioctl(fd, ioctlModeSetCRTC, unsafe.Pointer(&c))
	runtime.KeepAlive(connectors)
	return err
}

func pageFlip(fd int, crtc, fb uint32, userData uint64) error {
	f := sysPageFlip{
		CRTCID:   crtc,
		FBID:     fb,
		Flags:    pageFlipEvent,
		UserData: userData,
	}
	return ioctl(fd, ioctlModePageFlip, unsafe.Pointer(&f))
}

func createDumb(fd int, width, height, bpp uint32) (sysCreateDumb, error) {
	d := sysCreateDumb{Width: width, Height: height, BPP: bpp}
	err := ioctl(fd, ioctlModeCreateDumb, unsafe.Pointer(&d))
	return d, err
}

func mapDumb(fd int, handle uint32) (uint64, error) {
	m := sysMapDumb{Handle: handle}
	err := ioctl(fd, ioctlModeMapDumb, unsafe.Pointer(&m))
	return m.Offset, err
}

func destroyDumb(fd int, handle uint32) error {
	d := sysDestroyDumb{Handle: handle}
	return ioctl(fd, ioctlModeDestroyDumb, unsafe.Pointer(&d))
}

func addFB2(fd int, width, height, format, handle, pitch uint32) (uint32, error) {
	cmd := sysFBCmd2{
		Width:       width,
		Height:      height,
		PixelFormat: format,
		Handles:     [4]uint32{handle},
		Pitches:     [4]uint32{pitch},
	}
	if err := ioctl(fd, ioctlModeAddFB2, unsafe.Pointer(&cmd)); err != nil {
		return 0, err
	}
	return cmd.FBID, nil
}

func rmFB(fd int, fb uint32) error {
	return ioctl(fd, ioctlModeRmFB, unsafe.Pointer(&fb))
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (m sysModeInfo) mode() Mode {
	return Mode{
		Clock:      m.Clock,
		HDisplay:   m.HDisplay,
		HSyncStart: m.HSyncStart,
		HSyncEnd:   m.HSyncEnd,
		HTotal:     m.HTotal,
		HSkew:      m.HSkew,
		VDisplay:   m.VDisplay,
		VSyncStart: m.VSyncStart,
		VSyncEnd:   m.VSyncEnd,
		VTotal:     m.VTotal,
		VScan:      m.VScan,
		VRefresh:   m.VRefresh,
		Flags:      m.Flags,
		Type:       m.Type,
		Name:       cString(m.Name[:]),
	}
}

func sysMode(m Mode) sysModeInfo {
	s := sysModeInfo{
		Clock:      m.Clock,
		HDisplay:   m.HDisplay,
		HSyncStart: m.HSyncStart,
		HSyncEnd:   m.HSyncEnd,
		HTotal:     m.HTotal,
		HSkew:      m.HSkew,
		VDisplay:   m.VDisplay,
		VSyncStart: m.VSyncStart,
		VSyncEnd:   m.VSyncEnd,
		VTotal:     m.VTotal,
		VScan:      m.VScan,
		VRefresh:   m.VRefresh,
		Flags:      m.Flags,
		Type:       m.Type,
	}
	copy(s.Name[:modeDisplayNameLen-1], m.Name)
	return s
}

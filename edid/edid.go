// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package edid extracts the identification of a monitor from its EDID block
package edid

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"
)

const Unknown = "Unknown"

var (
	ErrTooShort  = errors.New("EDID block is too short")
	ErrBadHeader = errors.New("EDID header mismatch")
)

var header = []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

const (
	blockLen       = 128
	descriptorBase = 54
	descriptorLen  = 18

	tagSerial = 0xff
	tagName   = 0xfc
)

type Info struct {
	// three letter PNP id of the manufacturer
	Make   string
	Model  string
	Serial string
	// physical size in centimeters, zero when not given
	SizeCM image.Point
}

func Parse(data []byte) (Info, error) {
	if len(data) < blockLen {
		return Info{}, ErrTooShort
	}
	if !bytes.Equal(data[:8], header) {
		return Info{}, ErrBadHeader
	}

	var info Info
	id := uint16(data[8])<<8 | uint16(data[9])
	var pnp []byte
	for shift := 10; shift >= 0; shift -= 5 {
		c := byte((id>>uint(shift))&0x1f) + 'A' - 1
		if c < 'A' || c > 'Z' {
			pnp = nil
			break
		}
		pnp = append(pnp, c)
	}
	info.Make = string(pnp)

	for i := 0; i < 4; i++ {
		d := data[descriptorBase+i*descriptorLen : descriptorBase+(i+1)*descriptorLen]
		// display descriptors have a zero pixel clock
		if d[0] != 0 || d[1] != 0 {
			continue
		}
		switch d[3] {
		case tagName:
			info.Model = descriptorText(d[5:])
		case tagSerial:
			info.Serial = descriptorText(d[5:])
		}
	}
	if info.Model == "" {
		info.Model = fmt.Sprintf("0x%04X", uint16(data[10])|uint16(data[11])<<8)
	}
	info.SizeCM = image.Pt(int(data[21]), int(data[22]))
	return info, nil
}

// MakeModel never fails, anything unreadable becomes Unknown
func MakeModel(data []byte) (string, string) {
	info, err := Parse(data)
	if err != nil {
		return Unknown, Unknown
	}
	mfr, model := info.Make, info.Model
	if mfr == "" {
		mfr = Unknown
	}
	if model == "" {
		model = Unknown
	}
	return mfr, model
}

func descriptorText(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < ' ' || r > '~' {
			return -1
		}
		return r
	}, string(b)))
}

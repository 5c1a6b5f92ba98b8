// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package fourcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatString(t *testing.T) {
	assert.Equal(t, "AB24", ABGR8888.String())
	assert.Equal(t, "AR30", ARGB2101010.String())
	// Well known value from drm_fourcc.h
	assert.Equal(t, Format(0x34325241), ARGB8888)
}

func TestIntersectKeepsPreferenceOrder(t *testing.T) {
	supported := []Format{XRGB8888, ARGB8888, ABGR8888}
	got := Intersect(Preferred, supported)
	assert.Equal(t, []Format{ABGR8888, ARGB8888}, got)
}

func TestIntersectNothingSupported(t *testing.T) {
	assert.Empty(t, Intersect(Preferred, []Format{XRGB8888}))
}

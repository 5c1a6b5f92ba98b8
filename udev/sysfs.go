// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package udev

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var cardName = regexp.MustCompile(`^card(\d+)$`)

// Sysfs answers questions about DRM devices by reading /sys
type Sysfs struct {
	Root string
}

func (s Sysfs) root() string {
	if s.Root == "" {
		return "/sys"
	}
	return s.Root
}

// A primary DRM node (cardN)
type Card struct {
	Name    string
	ID      DeviceID
	Path    string
	BootVGA bool
	index   int
}

// Cards lists every DRM card node, sorted by card number.
// devDir is where the device nodes live, usually /dev/dri.
func (s Sysfs) Cards(devDir string) ([]Card, error) {
	classDir := filepath.Join(s.root(), "class", "drm")
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", classDir, err)
	}
	var cards []Card
	for _, e := range entries {
		m := cardName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		dev, err := os.ReadFile(filepath.Join(classDir, e.Name(), "dev"))
		if err != nil {
			continue
		}
		id, err := ParseDeviceID(string(dev))
		if err != nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		bootVGA, _ := os.ReadFile(filepath.Join(classDir, e.Name(), "device", "boot_vga"))
		cards = append(cards, Card{
			Name:    e.Name(),
			ID:      id,
			Path:    filepath.Join(devDir, e.Name()),
			BootVGA: strings.TrimSpace(string(bootVGA)) == "1",
			index:   idx,
		})
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].index < cards[j].index })
	return cards, nil
}

// PrimaryGPU picks the card the firmware booted with, or the first card if none is marked
func (s Sysfs) PrimaryGPU(devDir string) (Card, error) {
	cards, err := s.Cards(devDir)
	if err != nil {
		return Card{}, err
	}
	if len(cards) == 0 {
		return Card{}, ErrNoGPU
	}
	for _, c := range cards {
		if c.BootVGA {
			return c, nil
		}
	}
	return cards[0], nil
}

// RenderNode finds the renderD* node that belongs to the same GPU as id
func (s Sysfs) RenderNode(id DeviceID) (DeviceID, error) {
	dir := filepath.Join(s.root(), "dev", "char", id.String(), "device", "drm")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrNoRenderNode, id, err)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "renderD") {
			continue
		}
		dev, err := os.ReadFile(filepath.Join(dir, e.Name(), "dev"))
		if err != nil {
			continue
		}
		return ParseDeviceID(string(dev))
	}
	return 0, fmt.Errorf("%w: %s", ErrNoRenderNode, id)
}

// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type StartType int

const (
	// Tells scanout to start a repl in parallel for interacting with it
	START_REPL = StartType(iota)
	// Tells scanout to execute a specific command on startup
	START_SINGLE_COMMAND
	// Tells scanout to start without any specific targets
	// Note: Good luck interacting with it :3
	START_NONE
)

const (
	BackendDRM    = "drm"
	BackendNested = "nested"

	SessionLogind = "logind"
	SessionDirect = "direct"
)

// Where the config is looked for in the xdg config dirs
const RelativePath = "scanout/config.toml"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	StartType StartType `envconfig:"START_TYPE,omitempty" toml:"start_type,omitempty" yaml:"start_type,omitempty"`
	// What command to execute on start. Only matters if StartType is set to START_SINGLE_COMMAND
	StartCommand *string `envconfig:"START_COMMAND,omitempty" toml:"start_command,omitempty" yaml:"start_command,omitempty"`

	// drm or nested
	Backend string `toml:"backend,omitempty" yaml:"backend,omitempty"`
	// logind or direct
	Session string `toml:"session,omitempty" yaml:"session,omitempty"`
	Seat    string `toml:"seat,omitempty" yaml:"seat,omitempty"`
	// Card used for rendering, e.g. /dev/dri/card1. Empty means boot_vga detection
	PrimaryGPU string `toml:"primary_gpu,omitempty" yaml:"primary_gpu,omitempty"`
	DevDir     string `toml:"dev_dir,omitempty" yaml:"dev_dir,omitempty"`
	SysfsRoot  string `toml:"sysfs_root,omitempty" yaml:"sysfs_root,omitempty"`
	// Buffers per output, 2 or 3
	BufferCount int `toml:"buffer_count,omitempty" yaml:"buffer_count,omitempty"`
	// #rrggbb or #rrggbbaa
	ClearColor      string `toml:"clear_color,omitempty" yaml:"clear_color,omitempty"`
	FrameRetryMs    int    `toml:"frame_retry_ms,omitempty" yaml:"frame_retry_ms,omitempty"`
	WatchdogSeconds int    `toml:"watchdog_seconds,omitempty" yaml:"watchdog_seconds,omitempty"`
	// Address of the debug http api, empty disables it
	DebugAddr  string `toml:"debug_addr,omitempty" yaml:"debug_addr,omitempty"`
	LogLevel   string `toml:"log_level,omitempty" yaml:"log_level,omitempty"`
	CursorSize int    `toml:"cursor_size,omitempty" yaml:"cursor_size,omitempty"`
	// VT to switch to with the direct session, 0 keeps the current one
	TTY int `toml:"tty,omitempty" yaml:"tty,omitempty"`
}

func Defaults() Config {
	return Config{
		StartType:    START_REPL,
		Backend:      BackendDRM,
		Session:      SessionLogind,
		Seat:         "seat0",
		DevDir:       "/dev/dri",
		SysfsRoot:    "/sys",
		BufferCount:  2,
		ClearColor:   "#1a1a1a",
		FrameRetryMs: 16,
		DebugAddr:    "",
		LogLevel:     "info",
		CursorSize:   24,
	}
}

// DefaultPath returns the first existing config file in the xdg config dirs
func DefaultPath() (string, bool) {
	path, err := xdg.SearchConfigFile(RelativePath)
	if err != nil {
		return "", false
	}
	return path, true
}

// Load reads the config at path over the defaults. The format is picked by
// extension, .toml or .yaml/.yml. An empty path searches the default
// location, and no file there means defaults.
func Load(path string) (*Config, error) {
	conf := Defaults()
	if path == "" {
		found, ok := DefaultPath()
		if !ok {
			logrus.Debugln("No config file found, using defaults")
			return &conf, nil
		}
		path = found
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &conf)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &conf)
	default:
		return nil, fmt.Errorf("%w: unsupported config extension %q", ErrInvalid, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	logrus.WithField("path", path).Debugln("Loaded config")
	return &conf, nil
}

// Validate fills empty values with defaults and rejects broken ones
func (c *Config) Validate() error {
	def := Defaults()
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.Session == "" {
		c.Session = def.Session
	}
	if c.Seat == "" {
		c.Seat = def.Seat
	}
	if c.DevDir == "" {
		c.DevDir = def.DevDir
	}
	if c.SysfsRoot == "" {
		c.SysfsRoot = def.SysfsRoot
	}
	if c.BufferCount == 0 {
		c.BufferCount = def.BufferCount
	}
	if c.ClearColor == "" {
		c.ClearColor = def.ClearColor
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.CursorSize <= 0 {
		c.CursorSize = def.CursorSize
	}

	var errs []error
	switch c.Backend {
	case BackendDRM, BackendNested:
	default:
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendDRM, BackendNested, c.Backend))
	}
	switch c.Session {
	case SessionLogind, SessionDirect:
	default:
		errs = append(errs, fmt.Errorf("session must be %q or %q, got %q", SessionLogind, SessionDirect, c.Session))
	}
	if c.StartType < START_REPL || c.StartType > START_NONE {
		errs = append(errs, fmt.Errorf("unknown start_type %d", c.StartType))
	}
	if c.StartType == START_SINGLE_COMMAND && (c.StartCommand == nil || *c.StartCommand == "") {
		errs = append(errs, errors.New("start_type 1 needs a start_command"))
	}
	if c.BufferCount < 2 || c.BufferCount > 3 {
		errs = append(errs, fmt.Errorf("buffer_count must be 2 or 3, got %d", c.BufferCount))
	}
	if _, err := ParseColor(c.ClearColor); err != nil {
		errs = append(errs, err)
	}
	if c.FrameRetryMs < 0 {
		errs = append(errs, fmt.Errorf("frame_retry_ms must not be negative, got %d", c.FrameRetryMs))
	}
	if c.WatchdogSeconds < 0 {
		errs = append(errs, fmt.Errorf("watchdog_seconds must not be negative, got %d", c.WatchdogSeconds))
	}
	if c.TTY < 0 {
		errs = append(errs, fmt.Errorf("tty must not be negative, got %d", c.TTY))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (c *Config) Clear() color.RGBA {
	col, _ := ParseColor(c.ClearColor)
	return col
}

func (c *Config) FrameRetry() time.Duration {
	return time.Duration(c.FrameRetryMs) * time.Millisecond
}

func (c *Config) Watchdog() time.Duration {
	return time.Duration(c.WatchdogSeconds) * time.Second
}

// ParseColor reads #rrggbb or #rrggbbaa
func ParseColor(s string) (color.RGBA, error) {
	hex, ok := strings.CutPrefix(s, "#")
	if !ok || (len(hex) != 6 && len(hex) != 8) {
		return color.RGBA{}, fmt.Errorf("color %q is not #rrggbb or #rrggbbaa", s)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

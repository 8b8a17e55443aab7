// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the daemon configuration from a YAML file.
//
// Every field has a default matching the Waveshare 7.3inch e-Paper (E) HAT
// on a Raspberry Pi, so an empty file is a valid configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/epaper/framebuffer"
	"github.com/GermanBionicSystems/epaper/preview"
	"github.com/GermanBionicSystems/epaper/spectra6"
)

// Config is the daemon configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// Service is the name reported by /api/status.
	Service string  `yaml:"service"`
	Panel   Panel   `yaml:"panel"`
	Pins    Pins    `yaml:"pins"`
	Timing  Timing  `yaml:"timing"`
	Queue   Queue   `yaml:"queue"`
	Buffer  Buffer  `yaml:"buffer"`
	Preview Preview `yaml:"preview"`
}

// Panel describes the panel and its bus.
type Panel struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	// SPIPort is passed to spireg.Open. Empty selects the first port.
	SPIPort string `yaml:"spi_port"`
	// SPIFreq is a frequency like "4MHz".
	SPIFreq string `yaml:"spi_freq"`
	// BusyLevel is the busy line level while the panel works: "low" or
	// "high".
	BusyLevel string `yaml:"busy_level"`
}

// Pins are gpioreg names.
type Pins struct {
	DC    string `yaml:"dc"`
	CS    string `yaml:"cs"`
	Reset string `yaml:"reset"`
	Busy  string `yaml:"busy"`
}

// Timing selects a timing profile. Non zero fields override it.
type Timing struct {
	Profile         string        `yaml:"profile"`
	PowerOnTimeout  time.Duration `yaml:"power_on_timeout"`
	PowerOnSettle   time.Duration `yaml:"power_on_settle"`
	RefreshTimeout  time.Duration `yaml:"refresh_timeout"`
	PowerOffTimeout time.Duration `yaml:"power_off_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

// Queue configures the command queue.
type Queue struct {
	Capacity int `yaml:"capacity"`
}

// Buffer configures the frame buffer.
type Buffer struct {
	LockTimeout time.Duration `yaml:"lock_timeout"`
	// External allocates the frame outside of the Go heap when possible.
	External bool `yaml:"external"`
}

// Preview configures the preview stream.
type Preview struct {
	Format string `yaml:"format"`
}

// Default returns the configuration used for missing fields.
func Default() *Config {
	return &Config{
		Listen:  ":8080",
		Service: "epaper",
		Panel: Panel{
			Width:     spectra6.EPD7in3E.Width,
			Height:    spectra6.EPD7in3E.Height,
			SPIFreq:   "4MHz",
			BusyLevel: "low",
		},
		Pins: Pins{
			DC:    "GPIO25",
			CS:    "GPIO8",
			Reset: "GPIO17",
			Busy:  "GPIO24",
		},
		Timing:  Timing{Profile: spectra6.ProfileRevA.String()},
		Queue:   Queue{Capacity: 3},
		Buffer:  Buffer{LockTimeout: framebuffer.DefaultLockTimeout, External: true},
		Preview: Preview{Format: preview.PNG.String()},
	}
}

// Load reads the YAML file at path over the defaults. Unknown keys are
// errors.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(raw, c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every field and returns all the problems found.
func (c *Config) Validate() error {
	var errs []error
	if c.Panel.Width <= 0 || c.Panel.Height <= 0 || c.Panel.Width%2 != 0 {
		errs = append(errs, fmt.Errorf("panel: invalid size %dx%d", c.Panel.Width, c.Panel.Height))
	}
	if _, err := c.SPIFreq(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.BusyLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Profile(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.PreviewFormat(); err != nil {
		errs = append(errs, err)
	}
	for name, v := range map[string]string{"dc": c.Pins.DC, "cs": c.Pins.CS, "reset": c.Pins.Reset, "busy": c.Pins.Busy} {
		if v == "" {
			errs = append(errs, fmt.Errorf("pins: %s is not set", name))
		}
	}
	for name, d := range map[string]time.Duration{
		"timing.power_on_timeout":  c.Timing.PowerOnTimeout,
		"timing.power_on_settle":   c.Timing.PowerOnSettle,
		"timing.refresh_timeout":   c.Timing.RefreshTimeout,
		"timing.power_off_timeout": c.Timing.PowerOffTimeout,
		"timing.poll_interval":     c.Timing.PollInterval,
		"buffer.lock_timeout":      c.Buffer.LockTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: negative duration %s", name, d))
		}
	}
	if c.Queue.Capacity < 0 {
		errs = append(errs, fmt.Errorf("queue: negative capacity %d", c.Queue.Capacity))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SPIFreq returns the parsed SPI clock.
func (c *Config) SPIFreq() (physic.Frequency, error) {
	var f physic.Frequency
	if err := f.Set(c.Panel.SPIFreq); err != nil {
		return 0, fmt.Errorf("panel: spi_freq: %w", err)
	}
	return f, nil
}

// BusyLevel returns the parsed busy level.
func (c *Config) BusyLevel() (gpio.Level, error) {
	switch strings.ToLower(c.Panel.BusyLevel) {
	case "low":
		return gpio.Low, nil
	case "high":
		return gpio.High, nil
	}
	return gpio.Low, fmt.Errorf("panel: busy_level: %q is neither low nor high", c.Panel.BusyLevel)
}

// Profile returns the parsed timing profile.
func (c *Config) Profile() (spectra6.Profile, error) {
	var p spectra6.Profile
	if err := p.Set(c.Timing.Profile); err != nil {
		return p, fmt.Errorf("timing: %w", err)
	}
	return p, nil
}

// PreviewFormat returns the parsed preview image format.
func (c *Config) PreviewFormat() (preview.Format, error) {
	return preview.ParseFormat(c.Preview.Format)
}

// SpectraOpts returns the driver options. c must be valid.
func (c *Config) SpectraOpts() spectra6.Opts {
	o := spectra6.EPD7in3E.Resized(c.Panel.Width, c.Panel.Height)
	o.Freq, _ = c.SPIFreq()
	o.BusyLevel, _ = c.BusyLevel()
	p, _ := c.Profile()
	o.Timing = p.Timing()
	for _, f := range []struct {
		dst *time.Duration
		v   time.Duration
	}{
		{&o.Timing.PowerOnTimeout, c.Timing.PowerOnTimeout},
		{&o.Timing.PowerOnSettle, c.Timing.PowerOnSettle},
		{&o.Timing.RefreshTimeout, c.Timing.RefreshTimeout},
		{&o.Timing.PowerOffTimeout, c.Timing.PowerOffTimeout},
		{&o.Timing.PollInterval, c.Timing.PollInterval},
	} {
		if f.v != 0 {
			*f.dst = f.v
		}
	}
	return o
}

// BufferOpts returns the frame buffer options.
func (c *Config) BufferOpts() framebuffer.Opts {
	return framebuffer.Opts{LockTimeout: c.Buffer.LockTimeout, PreferExternal: c.Buffer.External}
}

// PanelPins holds the resolved control lines.
type PanelPins struct {
	DC, CS, Reset gpio.PinOut
	Busy          gpio.PinIn
}

// ResolvePins looks the pins up in gpioreg. The host drivers must have been
// loaded with host.Init.
func (c *Config) ResolvePins() (PanelPins, error) {
	var pp PanelPins
	var errs []error
	lookup := func(name, role string) gpio.PinIO {
		p := gpioreg.ByName(name)
		if p == nil {
			errs = append(errs, fmt.Errorf("pins: %s: no pin named %q", role, name))
		}
		return p
	}
	dc := lookup(c.Pins.DC, "dc")
	cs := lookup(c.Pins.CS, "cs")
	rst := lookup(c.Pins.Reset, "reset")
	busy := lookup(c.Pins.Busy, "busy")
	if err := errors.Join(errs...); err != nil {
		return pp, fmt.Errorf("config: %w", err)
	}
	pp.DC, pp.CS, pp.Reset, pp.Busy = dc, cs, rst, busy
	return pp, nil
}

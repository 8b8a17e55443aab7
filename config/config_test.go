// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/epaper/spectra6"
)

func TestDefault(t *testing.T) {
	c, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(empty) failed: %v", err)
	}
	if diff := cmp.Diff(c, Default()); diff != "" {
		t.Errorf("Parse(empty) difference (-got +want):\n%s", diff)
	}

	o := c.SpectraOpts()
	if diff := cmp.Diff(o, spectra6.EPD7in3E); diff != "" {
		t.Errorf("SpectraOpts() difference (-got +want):\n%s", diff)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epaperd.yaml")
	raw := `
listen: 127.0.0.1:9000
panel:
  spi_freq: 8MHz
  busy_level: high
timing:
  profile: revb
  refresh_timeout: 75s
  poll_interval: 50ms
queue:
  capacity: 5
buffer:
  lock_timeout: 250ms
  external: false
preview:
  format: jpeg
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if c.Listen != "127.0.0.1:9000" || c.Queue.Capacity != 5 || c.Pins.DC != "GPIO25" {
		t.Errorf("Load() = %+v", c)
	}
	if got := c.BufferOpts(); got.LockTimeout != 250*time.Millisecond || got.PreferExternal {
		t.Errorf("BufferOpts() = %+v", got)
	}

	o := c.SpectraOpts()
	if o.Freq != 8*physic.MegaHertz || o.BusyLevel != gpio.High {
		t.Errorf("SpectraOpts() = %s, %s", o.Freq, o.BusyLevel)
	}
	want := spectra6.TimingRevB
	want.RefreshTimeout = 75 * time.Second
	want.PollInterval = 50 * time.Millisecond
	if diff := cmp.Diff(o.Timing, want); diff != "" {
		t.Errorf("Timing difference (-got +want):\n%s", diff)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) succeeded")
	}
}

func TestInvalid(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want string
	}{
		{"panel: {width: 799}", "invalid size"},
		{"panel: {spi_freq: fast}", "spi_freq"},
		{"panel: {busy_level: maybe}", "busy_level"},
		{"timing: {profile: revc}", "timing"},
		{"timing: {refresh_timeout: -1s}", "negative duration"},
		{"preview: {format: gif}", "gif"},
		{"pins: {dc: ''}", "dc is not set"},
		{"queue: {capacity: -1}", "negative capacity"},
		{"colour: red", "colour"},
	} {
		_, err := Parse([]byte(tc.raw))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("Parse(%q) = %v, want an error mentioning %q", tc.raw, err, tc.want)
		}
	}
}

func TestResolvePins(t *testing.T) {
	for i, name := range []string{"EPD_TEST_DC", "EPD_TEST_CS", "EPD_TEST_RST", "EPD_TEST_BUSY"} {
		if err := gpioreg.Register(&gpiotest.Pin{N: name, Num: 9000 + i}); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}
	c := Default()
	c.Pins = Pins{DC: "EPD_TEST_DC", CS: "EPD_TEST_CS", Reset: "EPD_TEST_RST", Busy: "EPD_TEST_BUSY"}
	pp, err := c.ResolvePins()
	if err != nil {
		t.Fatalf("ResolvePins() failed: %v", err)
	}
	if pp.DC.Name() != "EPD_TEST_DC" || pp.Busy.Name() != "EPD_TEST_BUSY" {
		t.Errorf("ResolvePins() = %s, %s", pp.DC, pp.Busy)
	}

	c.Pins.Busy = "EPD_TEST_NOPE"
	if _, err := c.ResolvePins(); err == nil || !strings.Contains(err.Error(), "busy") {
		t.Errorf("ResolvePins() = %v, want an error about busy", err)
	}
}

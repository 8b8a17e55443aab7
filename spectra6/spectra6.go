// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package spectra6

import (
	"errors"
	"fmt"
	"image"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3/rpi"
)

// Commands
const (
	panelSetting          byte = 0x00
	powerSetting          byte = 0x01
	powerOff              byte = 0x02
	powerOffSequence      byte = 0x03
	powerOn               byte = 0x04
	boosterSoftStart1     byte = 0x05
	boosterSoftStart2     byte = 0x06
	deepSleepMode         byte = 0x07
	boosterSoftStart3     byte = 0x08
	dataStartTransmission byte = 0x10
	displayRefresh        byte = 0x12
	pllControl            byte = 0x30
	vcomDataInterval      byte = 0x50
	tconSetting           byte = 0x60
	resolutionSetting     byte = 0x61
	vcomDCSetting         byte = 0x84
	commandHeader         byte = 0xAA
	powerSaving           byte = 0xE3
)

const deepSleepCheckCode byte = 0xA5

var (
	// ErrInitFailed is returned by Init when the panel could not be driven.
	ErrInitFailed = errors.New("spectra6: init failed")
	// ErrAsleep is returned by drawing operations after Sleep and before the
	// next successful Init.
	ErrAsleep = errors.New("spectra6: panel is asleep")
	// ErrFrameSize is returned by TransmitFrame for a frame of the wrong
	// length.
	ErrFrameSize = errors.New("spectra6: frame size does not match panel")
)

// Register is one entry of the vendor calibration table: a command byte
// followed by its parameters.
type Register struct {
	Cmd  byte
	Data []byte
}

// Opts defines the structure of the display configuration.
type Opts struct {
	Width  int
	Height int

	// BusyLevel is the level of the busy line while the panel works. The
	// zero value, gpio.Low, matches the Waveshare modules.
	BusyLevel gpio.Level
	// Freq is the SPI clock. 0 means 4MHz.
	Freq physic.Frequency

	Timing Timing

	// Init is sent verbatim after the reset. It is supplied by the panel
	// vendor and must not be reordered.
	Init []Register
}

// EPD7in3E contains the display configuration for the Waveshare 7.3inch
// e-Paper (E).
var EPD7in3E = Opts{
	Width:     800,
	Height:    480,
	BusyLevel: gpio.Low,
	Freq:      4 * physic.MegaHertz,
	Timing:    TimingRevA,
	Init: []Register{
		{commandHeader, []byte{0x49, 0x55, 0x20, 0x08, 0x09, 0x18}},
		{powerSetting, []byte{0x3F}},
		{panelSetting, []byte{0x5F, 0x69}},
		{powerOffSequence, []byte{0x00, 0x54, 0x00, 0x44}},
		{boosterSoftStart1, []byte{0x40, 0x1F, 0x1F, 0x2C}},
		{boosterSoftStart2, []byte{0x6F, 0x1F, 0x17, 0x49}},
		{boosterSoftStart3, []byte{0x6F, 0x1F, 0x1F, 0x22}},
		{pllControl, []byte{0x03}},
		{vcomDataInterval, []byte{0x3F}},
		{tconSetting, []byte{0x02, 0x00}},
		// 800x480, big endian.
		{resolutionSetting, []byte{0x03, 0x20, 0x01, 0xE0}},
		{vcomDCSetting, []byte{0x01}},
		{powerSaving, []byte{0x2F}},
	},
}

// Resized returns a copy of o for a panel of the given size, with the
// resolution register of the init table updated to match.
func (o Opts) Resized(width, height int) Opts {
	o.Width, o.Height = width, height
	regs := make([]Register, len(o.Init))
	copy(regs, o.Init)
	for i, r := range regs {
		if r.Cmd == resolutionSetting {
			regs[i].Data = []byte{byte(width >> 8), byte(width), byte(height >> 8), byte(height)}
		}
	}
	o.Init = regs
	return o
}

// FrameSize returns the number of bytes of a packed frame for a panel of
// the given size.
func FrameSize(width, height int) int {
	return width * height / 2
}

// Dev defines the handler which is used to access the display.
//
// A Dev is not safe for concurrent use; a single goroutine is expected to
// own it.
type Dev struct {
	c conn.Conn

	dc   gpio.PinOut
	cs   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn

	opts   Opts
	asleep bool
}

// New creates new handler which is used to access the display.
func New(p spi.Port, dc, cs, rst gpio.PinOut, busy gpio.PinIn, opts *Opts) (*Dev, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.Width%2 != 0 {
		return nil, fmt.Errorf("spectra6: invalid panel size %dx%d", opts.Width, opts.Height)
	}

	f := opts.Freq
	if f == 0 {
		f = 4 * physic.MegaHertz
	}
	c, err := p.Connect(f, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	if err := busy.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	d := &Dev{
		c:    c,
		dc:   dc,
		cs:   cs,
		rst:  rst,
		busy: busy,
		opts: *opts,
	}
	d.opts.Timing = opts.Timing.withDefaults()

	return d, nil
}

// NewHat creates new handler which is used to access the display. Default Waveshare Hat configuration is used.
func NewHat(p spi.Port, opts *Opts) (*Dev, error) {
	dc := rpi.P1_22
	cs := rpi.P1_24
	rst := rpi.P1_11
	busy := rpi.P1_18
	return New(p, dc, cs, rst, busy, opts)
}

// Init resets the panel and programs it with the calibration table. It must
// be called before any drawing and again after Sleep.
//
// Only a failure of the bus or the control lines is fatal and wrapped in
// ErrInitFailed. A busy timeout is returned alongside, joined, and leaves
// the panel usable.
func (d *Dev) Init() error {
	eh := errorHandler{d: d}

	eh.rstOut(gpio.High)
	time.Sleep(d.opts.Timing.ResetHigh)
	eh.rstOut(gpio.Low)
	time.Sleep(d.opts.Timing.ResetLow)
	eh.rstOut(gpio.High)
	time.Sleep(d.opts.Timing.ResetSettle)

	initDisplay(&eh, &d.opts)

	if eh.err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, eh.err)
	}
	d.asleep = false
	return eh.result()
}

// TransmitFrame uploads a packed frame of logical colours into the panel
// RAM. pix is read in order and not modified. The panel shows the frame
// only after RefreshAndPowerCycle.
func (d *Dev) TransmitFrame(pix []byte) error {
	if d.asleep {
		return ErrAsleep
	}
	if len(pix) != d.FrameSize() {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(pix), d.FrameSize())
	}
	eh := errorHandler{d: d}
	transmitFrame(&eh, pix, d.opts.Width/2)
	return eh.result()
}

// TransmitSolid uploads a frame filled with c.
func (d *Dev) TransmitSolid(c Color) error {
	if d.asleep {
		return ErrAsleep
	}
	eh := errorHandler{d: d}
	transmitSolid(&eh, c, d.opts.Height, d.opts.Width/2)
	return eh.result()
}

// TransmitTestPattern uploads six horizontal bands, one per colour.
func (d *Dev) TransmitTestPattern() error {
	if d.asleep {
		return ErrAsleep
	}
	eh := errorHandler{d: d}
	transmitTestPattern(&eh, d.opts.Height, d.opts.Width/2)
	return eh.result()
}

// RefreshAndPowerCycle makes the panel show its RAM content. It blocks for
// the whole physical refresh.
//
// The sequence always runs to the end unless the bus fails; busy timeouts
// are returned joined once it is done.
func (d *Dev) RefreshAndPowerCycle() error {
	if d.asleep {
		return ErrAsleep
	}
	eh := errorHandler{d: d}
	refreshAndPowerCycle(&eh, &d.opts.Timing)
	return eh.result()
}

// Sleep makes the controller enter deep sleep mode. It can be woken up by
// calling Init again.
func (d *Dev) Sleep() error {
	eh := errorHandler{d: d}
	deepSleep(&eh, &d.opts.Timing)
	if eh.err == nil {
		d.asleep = true
	}
	return eh.result()
}

// Asleep reports whether Sleep was called since the last Init.
func (d *Dev) Asleep() bool {
	return d.asleep
}

// FrameSize returns the length of a packed frame for this panel.
func (d *Dev) FrameSize() int {
	return FrameSize(d.opts.Width, d.opts.Height)
}

// Bounds returns the bounds for the configurated display.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.opts.Width, d.opts.Height)
}

// String returns a string containing configuration information.
func (d *Dev) String() string {
	return fmt.Sprintf("spectra6.Dev{%s, %s, Width: %d, Height: %d}", d.c, d.dc, d.opts.Width, d.opts.Height)
}

// Halt implements conn.Resource. The panel keeps its image without power,
// so halting puts it to sleep.
func (d *Dev) Halt() error {
	if d.asleep {
		return nil
	}
	return d.Sleep()
}

// SplitBusyTimeouts separates the busy timeouts from any other error in err
// as returned by the Dev methods.
func SplitBusyTimeouts(err error) (timeouts []error, rest error) {
	if err == nil {
		return nil, nil
	}
	errs := []error{err}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		errs = j.Unwrap()
	}
	var others []error
	for _, e := range errs {
		if errors.Is(e, ErrBusyTimeout) {
			timeouts = append(timeouts, e)
		} else {
			others = append(others, e)
		}
	}
	return timeouts, errors.Join(others...)
}

var _ conn.Resource = &Dev{}

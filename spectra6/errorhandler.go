// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package spectra6

import (
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// errorHandler is a wrapper for error management.
//
// The first transport error sticks and turns every later bus operation into
// a no-op. Busy timeouts are collected separately and never stop the
// sequence.
type errorHandler struct {
	d        *Dev
	err      error
	timeouts []error
	buf      [1]byte
}

func (eh *errorHandler) rstOut(l gpio.Level) {
	if eh.err != nil {
		return
	}
	eh.err = eh.d.rst.Out(l)
}

func (eh *errorHandler) dcOut(l gpio.Level) {
	if eh.err != nil {
		return
	}
	eh.err = eh.d.dc.Out(l)
}

func (eh *errorHandler) csOut(l gpio.Level) {
	if eh.err != nil {
		return
	}
	eh.err = eh.d.cs.Out(l)
}

// txByte clocks out a single byte framed by its own chip select pulse.
func (eh *errorHandler) txByte(b byte) {
	eh.csOut(gpio.Low)
	if eh.err == nil {
		eh.buf[0] = b
		eh.err = eh.d.c.Tx(eh.buf[:], nil)
	}
	eh.csOut(gpio.High)
}

func (eh *errorHandler) sendCommand(cmd byte) {
	if eh.err != nil {
		return
	}

	eh.dcOut(gpio.Low)
	eh.txByte(cmd)
}

func (eh *errorHandler) sendData(data []byte) {
	if eh.err != nil {
		return
	}

	eh.dcOut(gpio.High)
	for _, b := range data {
		if eh.err != nil {
			return
		}
		eh.txByte(b)
	}
}

func (eh *errorHandler) waitBusy(stage string, timeout time.Duration) {
	if eh.err != nil {
		return
	}
	if err := waitBusy(eh.d.busy, eh.d.opts.BusyLevel, timeout, eh.d.opts.Timing.PollInterval, stage); err != nil {
		eh.timeouts = append(eh.timeouts, err)
	}
}

func (eh *errorHandler) delay(d time.Duration) {
	if eh.err != nil {
		return
	}
	time.Sleep(d)
}

// result returns the transport error, if any, joined with all busy timeouts.
func (eh *errorHandler) result() error {
	return errors.Join(append([]error{eh.err}, eh.timeouts...)...)
}

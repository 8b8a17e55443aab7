// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package spectra6

import "time"

type controller interface {
	sendCommand(byte)
	sendData([]byte)
	waitBusy(stage string, timeout time.Duration)
	delay(time.Duration)
}

// initDisplay sends the calibration table after the hardware reset.
func initDisplay(ctrl controller, opts *Opts) {
	ctrl.waitBusy("reset", opts.Timing.ResetBusyTimeout)

	for _, r := range opts.Init {
		ctrl.sendCommand(r.Cmd)
		if len(r.Data) != 0 {
			ctrl.sendData(r.Data)
		}
	}
}

// transmitFrame streams a packed frame row by row, correcting every nibble
// on the way out.
func transmitFrame(ctrl controller, pix []byte, rowBytes int) {
	ctrl.sendCommand(dataStartTransmission)

	row := make([]byte, rowBytes)
	for off := 0; off+rowBytes <= len(pix); off += rowBytes {
		for i, b := range pix[off : off+rowBytes] {
			row[i] = correctPacked(b)
		}
		ctrl.sendData(row)
	}
}

// transmitSolid fills the whole panel with a single colour.
func transmitSolid(ctrl controller, c Color, rows, rowBytes int) {
	ctrl.sendCommand(dataStartTransmission)

	row := make([]byte, rowBytes)
	fill(row, packed(c))
	for y := 0; y < rows; y++ {
		ctrl.sendData(row)
	}
}

// transmitTestPattern draws one horizontal band per colour.
func transmitTestPattern(ctrl controller, rows, rowBytes int) {
	ctrl.sendCommand(dataStartTransmission)

	row := make([]byte, rowBytes)
	for i, n := range Bands(rows) {
		fill(row, packed(PatternColors[i]))
		for y := 0; y < n; y++ {
			ctrl.sendData(row)
		}
	}
}

// refreshAndPowerCycle turns the panel on, refreshes it from RAM and turns
// it off again. Busy timeouts do not shorten the sequence.
func refreshAndPowerCycle(ctrl controller, t *Timing) {
	ctrl.sendCommand(powerOn)
	ctrl.waitBusy("power on", t.PowerOnTimeout)
	if t.PowerOnSettle > 0 {
		ctrl.delay(t.PowerOnSettle)
	}

	ctrl.sendCommand(displayRefresh)
	ctrl.sendData([]byte{0x00})
	ctrl.waitBusy("refresh", t.RefreshTimeout)

	ctrl.sendCommand(powerOff)
	ctrl.sendData([]byte{0x00})
	ctrl.waitBusy("power off", t.PowerOffTimeout)
}

// deepSleep powers the panel off and puts the controller to sleep. Only a
// hardware reset wakes it up.
func deepSleep(ctrl controller, t *Timing) {
	ctrl.sendCommand(powerOff)
	ctrl.sendData([]byte{0x00})
	ctrl.waitBusy("power off", t.PowerOffTimeout)

	ctrl.sendCommand(deepSleepMode)
	ctrl.sendData([]byte{deepSleepCheckCode})
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package spectra6

import (
	"fmt"
)

// Color is a logical colour index as stored in uploaded frames.
type Color uint8

// Logical colours, in the order used by the test pattern.
const (
	Black Color = iota
	White
	Yellow
	Red
	Blue
	Green
)

// NumColors is the number of colours the panel can show.
const NumColors = 6

// PatternColors lists the band colours of the test pattern, top to bottom.
var PatternColors = [NumColors]Color{Black, White, Yellow, Red, Blue, Green}

// String returns the lower case colour name.
func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case White:
		return "white"
	case Yellow:
		return "yellow"
	case Red:
		return "red"
	case Blue:
		return "blue"
	case Green:
		return "green"
	default:
		return fmt.Sprintf("Color(%d)", uint8(c))
	}
}

// Set sets the Color to a value represented by the string s. Set implements the flag.Value interface.
func (c *Color) Set(s string) error {
	switch s {
	case "black":
		*c = Black
	case "white":
		*c = White
	case "yellow":
		*c = Yellow
	case "red":
		*c = Red
	case "blue":
		*c = Blue
	case "green":
		*c = Green
	default:
		return fmt.Errorf("unknown color %q: expected black, white, yellow, red, blue or green", s)
	}
	return nil
}

// Correct maps a logical colour index to the index the panel expects.
//
// The hardware leaves index 4 unused, so blue and green move up by one.
// Values above Green are clamped to the hardware green. Correct must be
// applied exactly once per pixel; it is not idempotent.
func Correct(c Color) uint8 {
	switch {
	case c <= Red:
		return uint8(c)
	case c <= Green:
		return uint8(c) + 1
	default:
		return uint8(Green) + 1
	}
}

// correct is replaced in tests to count invocations.
var correct = Correct

// correctPacked corrects both nibbles of a packed byte independently.
func correctPacked(b byte) byte {
	return correct(Color(b>>4))<<4 | correct(Color(b&0x0F))&0x0F
}

// packed returns the byte holding two pixels of the same corrected colour.
func packed(c Color) byte {
	h := correct(c)
	return h<<4 | h
}

// Bands splits height rows into NumColors horizontal bands of equal size.
// The remainder rows go to the last band.
func Bands(height int) []int {
	bands := make([]int, NumColors)
	for i := range bands {
		bands[i] = height / NumColors
	}
	bands[NumColors-1] += height % NumColors
	return bands
}

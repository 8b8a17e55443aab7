// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package spectra6 controls 6-colour e-paper panels such as the Waveshare
// 7.3inch e-Paper (E) module.
//
// The panel accepts 4 bits per pixel, two pixels per byte with the left
// pixel in the high nibble. Of the sixteen possible index values only six
// are used and the hardware skips index 4: black, white, yellow and red are
// 0 to 3, blue and green are 5 and 6. Callers work with logical indices
// 0 to 5 (see Color); the driver corrects them exactly once while the frame
// is clocked out.
//
// A full refresh takes tens of seconds. The panel signals progress on a
// single busy line which is not reliable enough to detect failures, so a
// busy timeout is reported but never aborts a sequence.
//
// Product page:
// https://www.waveshare.com/wiki/7.3inch_e-Paper_HAT_(E)_Manual
package spectra6

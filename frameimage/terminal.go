// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package frameimage

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"
)

// TerminalOpts represents the options of a Terminal.
type TerminalOpts struct {
	// Width and Height are the panel size in pixels.
	Width  int
	Height int
	// Columns is the preview width in characters. 0 means 80.
	Columns int
	Palette *ansi256.Palette
	// W defaults to a colorable stdout.
	W io.Writer
}

// Terminal is a display.Drawer previewing a panel on a terminal with ANSI
// colour blocks. Each character cell samples one pixel; rows are sampled
// twice as sparse since cells are about twice as tall as they are wide.
type Terminal struct {
	w       io.Writer
	width   int
	height  int
	cols    int
	rows    int
	palette ansi256.Palette

	buf bytes.Buffer
}

// NewTerminal returns a Terminal that renders at the console.
func NewTerminal(opts *TerminalOpts) (*Terminal, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.Width%2 != 0 {
		return nil, fmt.Errorf("frameimage: invalid panel size %dx%d", opts.Width, opts.Height)
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	t := &Terminal{
		w:       opts.W,
		width:   opts.Width,
		height:  opts.Height,
		cols:    opts.Columns,
		palette: *p,
	}
	if t.w == nil {
		t.w = colorable.NewColorableStdout()
	}
	if t.cols <= 0 {
		t.cols = 80
	}
	if t.cols > t.width {
		t.cols = t.width
	}
	t.rows = t.cols * t.height / t.width / 2
	if t.rows == 0 {
		t.rows = 1
	}
	return t, nil
}

func (t *Terminal) String() string {
	return fmt.Sprintf("Terminal{%dx%d}", t.cols, t.rows)
}

// Halt implements conn.Resource.
//
// It resets the terminal colours.
func (t *Terminal) Halt() error {
	_, err := io.WriteString(t.w, "\033[0m\n")
	return err
}

// ColorModel implements display.Drawer.
func (t *Terminal) ColorModel() color.Model {
	return Palette
}

// Bounds implements display.Drawer.
func (t *Terminal) Bounds() image.Rectangle {
	return image.Rect(0, 0, t.width, t.height)
}

// Draw implements display.Drawer. The part of src at sp, clipped to r's
// size, is converted like an uploaded image and the whole panel is
// rendered.
func (t *Terminal) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(t.Bounds())
	srcR := src.Bounds()
	srcR.Min = srcR.Min.Add(sp)
	if dX := r.Dx(); dX < srcR.Dx() {
		srcR.Max.X = srcR.Min.X + dX
	}
	if dY := r.Dy(); dY < srcR.Dy() {
		srcR.Max.Y = srcR.Min.Y + dY
	}
	if srcR.Empty() {
		return nil
	}
	return t.Render(Pack(convert(src, srcR, t.width, t.height)))
}

// Render writes a packed frame to the terminal.
func (t *Terminal) Render(frame []byte) error {
	if len(frame) != t.width*t.height/2 {
		return fmt.Errorf("frameimage: got %d bytes, want %d", len(frame), t.width*t.height/2)
	}
	rowBytes := t.width / 2
	t.buf.Reset()
	for cy := 0; cy < t.rows; cy++ {
		y := (2*cy + 1) * t.height / (2 * t.rows)
		for cx := 0; cx < t.cols; cx++ {
			x := (2*cx + 1) * t.width / (2 * t.cols)
			b := frame[y*rowBytes+x/2]
			if x%2 == 0 {
				b >>= 4
			}
			_, _ = t.buf.WriteString(t.palette.Block(Colors[clamp(b&0x0F)]))
		}
		_, _ = t.buf.WriteString("\033[0m\n")
	}
	_, err := t.buf.WriteTo(t.w)
	return err
}

var _ display.Drawer = &Terminal{}
var _ fmt.Stringer = &Terminal{}

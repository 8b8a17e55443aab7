// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package preview shows what the panel displays over HTTP.
//
// A Preview is told about every frame sent to the panel and serves it as an
// MJPEG stream (https://en.wikipedia.org/wiki/Motion_JPEG): every client
// gets the current frame and a new image after each panel update. PNG is
// used by default since it suits the flat panel colours; JPEG can be
// selected with Opts.Format or the "format" URL parameter.
package preview

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	log "github.com/mgutz/logxi/v1"
	"periph.io/x/conn/v3/display"

	"github.com/GermanBionicSystems/epaper/cmdqueue"
	"github.com/GermanBionicSystems/epaper/frameimage"
	"github.com/GermanBionicSystems/epaper/spectra6"
)

// Opts for a Preview.
type Opts struct {
	// Width and Height of the panel.
	Width, Height int

	// Format is the default image format sent to clients.
	Format Format

	Logger log.Logger
}

// Preview mirrors the panel content.
type Preview struct {
	defaultFormat Format
	log           log.Logger
	bounds        image.Rectangle

	mu       sync.Mutex
	frame    *image.Paletted
	updates  uint64
	clients  map[*client]struct{}
	snapshot map[Format][]byte
}

// New returns a Preview of a blank, white panel.
func New(opts *Opts) *Preview {
	p := &Preview{
		defaultFormat: opts.Format,
		log:           opts.Logger,
		bounds:        image.Rect(0, 0, opts.Width, opts.Height),
		frame:         frameimage.Unpack(frameimage.Solid(opts.Width, opts.Height, spectra6.White), opts.Width, opts.Height),
		clients:       map[*client]struct{}{},
		snapshot:      map[Format][]byte{},
	}
	if p.log == nil {
		p.log = log.New("preview")
	}
	return p
}

// String returns the name of the device.
func (p *Preview) String() string {
	return "Preview"
}

// Halt implements conn.Resource and terminates all running client requests
// asynchronously.
func (p *Preview) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.clients {
		select {
		case c.terminate <- struct{}{}:
		default:
		}
	}
	return nil
}

// ColorModel implements display.Drawer.
func (p *Preview) ColorModel() color.Model {
	return frameimage.Palette
}

// Bounds implements display.Drawer.
func (p *Preview) Bounds() image.Rectangle {
	return p.bounds
}

// Draw implements display.Drawer. The source is quantized to the panel
// palette without dithering.
func (p *Preview) Draw(dstRect image.Rectangle, src image.Image, srcPts image.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	draw.Draw(p.frame, dstRect, src, srcPts, draw.Src)
	p.changedLocked()
	return nil
}

// Transmitted implements controller.Sink.
func (p *Preview) Transmitted(cmd cmdqueue.Command, frame []byte) {
	w, h := p.bounds.Dx(), p.bounds.Dy()
	switch cmd.Kind {
	case cmdqueue.ShowBuffer:
	case cmdqueue.Clear:
		frame = frameimage.Solid(w, h, cmd.Color)
	case cmdqueue.ShowTestPattern:
		frame = frameimage.TestPattern(w, h)
	default:
		return
	}
	img := frameimage.Unpack(frame, w, h)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.frame = img
	p.changedLocked()
	p.log.Debug("preview updated", "cmd", cmd, "clients", len(p.clients))
}

// Frame returns a copy of the current frame.
func (p *Preview) Frame() *image.Paletted {
	p.mu.Lock()
	defer p.mu.Unlock()
	img := *p.frame
	img.Pix = append([]byte(nil), p.frame.Pix...)
	return &img
}

// Updates returns the number of frames received.
func (p *Preview) Updates() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates
}

func (p *Preview) changedLocked() {
	p.updates++
	for f, buf := range p.snapshot {
		if buf != nil {
			//lint:ignore SA6002 buffer is []byte and thus pointer-like
			bufferPool.Put(buf)
		}
		delete(p.snapshot, f)
	}
	for c := range p.clients {
		select {
		case c.refresh <- struct{}{}:
		default:
		}
	}
}

var _ display.Drawer = (*Preview)(nil)

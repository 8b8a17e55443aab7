// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package frameimage converts between images and packed 6-colour frames.
//
// A packed frame stores two pixels per byte, left pixel in the high nibble,
// rows top to bottom. Each nibble is a logical colour index as defined by
// package spectra6; the hardware correction is applied by the driver, not
// here.
package frameimage

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder.
	_ "image/jpeg" // Register JPEG decoder.
	_ "image/png"  // Register PNG decoder.
	"io"

	_ "golang.org/x/image/bmp"  // Register BMP decoder.
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // Register TIFF decoder.
	_ "golang.org/x/image/webp" // Register WebP decoder.

	"github.com/GermanBionicSystems/epaper/spectra6"
)

// Colors maps logical colour indexes to their sRGB approximation.
var Colors = [...]color.NRGBA{
	spectra6.Black:  {0x00, 0x00, 0x00, 0xFF},
	spectra6.White:  {0xFF, 0xFF, 0xFF, 0xFF},
	spectra6.Yellow: {0xFF, 0xFF, 0x00, 0xFF},
	spectra6.Red:    {0xFF, 0x00, 0x00, 0xFF},
	spectra6.Blue:   {0x00, 0x00, 0xFF, 0xFF},
	spectra6.Green:  {0x00, 0xFF, 0x00, 0xFF},
}

// Palette is Colors as a color.Palette, index = logical colour.
var Palette = color.Palette{
	Colors[spectra6.Black],
	Colors[spectra6.White],
	Colors[spectra6.Yellow],
	Colors[spectra6.Red],
	Colors[spectra6.Blue],
	Colors[spectra6.Green],
}

// Decode reads an image in any of the registered formats: PNG, JPEG, GIF,
// BMP, TIFF and WebP.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("frameimage: %w", err)
	}
	return img, format, nil
}

// Fit returns the rectangle where src is drawn on a width x height frame:
// scaled down to fit while keeping its aspect ratio, never scaled up, and
// centred.
func Fit(src image.Rectangle, width, height int) image.Rectangle {
	w, h := src.Dx(), src.Dy()
	if w > width || h > height {
		if w*height > h*width {
			w, h = width, h*width/w
		} else {
			w, h = w*height/h, height
		}
		if w == 0 {
			w = 1
		}
		if h == 0 {
			h = 1
		}
	}
	x, y := (width-w)/2, (height-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// Convert fits img on a white width x height canvas and dithers it to
// Palette.
func Convert(img image.Image, width, height int) *image.Paletted {
	return convert(img, img.Bounds(), width, height)
}

// convert is Convert restricted to the part sr of img.
func convert(img image.Image, sr image.Rectangle, width, height int) *image.Paletted {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(canvas, Fit(sr, width, height), img, sr, draw.Over, nil)

	dst := image.NewPaletted(canvas.Bounds(), Palette)
	draw.FloydSteinberg.Draw(dst, dst.Bounds(), canvas, image.Point{})
	return dst
}

// Encode converts img into a packed frame for a width x height panel.
func Encode(img image.Image, width, height int) []byte {
	return Pack(Convert(img, width, height))
}

// Pack packs a paletted image whose indexes are logical colours. The image
// width must be even.
func Pack(img *image.Paletted) []byte {
	r := img.Bounds()
	out := make([]byte, 0, r.Dx()*r.Dy()/2)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Pix[(y-r.Min.Y)*img.Stride:]
		for x := 0; x+1 < r.Dx(); x += 2 {
			out = append(out, row[x]<<4|row[x+1]&0x0F)
		}
	}
	return out
}

// Unpack expands a packed frame into a paletted image. Indexes past Green
// show as Green, like on the panel.
func Unpack(pix []byte, width, height int) *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, width, height), Palette)
	for i := 0; i < len(pix) && 2*i+1 < len(img.Pix); i++ {
		img.Pix[2*i] = clamp(pix[i] >> 4)
		img.Pix[2*i+1] = clamp(pix[i] & 0x0F)
	}
	return img
}

func clamp(i uint8) uint8 {
	if i > uint8(spectra6.Green) {
		return uint8(spectra6.Green)
	}
	return i
}

// Solid returns a packed frame filled with c.
func Solid(width, height int, c spectra6.Color) []byte {
	out := make([]byte, width*height/2)
	fill(out, c)
	return out
}

// TestPattern returns the packed frame shown by the panel test pattern:
// one horizontal band per colour.
func TestPattern(width, height int) []byte {
	out := make([]byte, width*height/2)
	rowBytes := width / 2
	off := 0
	for i, rows := range spectra6.Bands(height) {
		fill(out[off:off+rows*rowBytes], spectra6.PatternColors[i])
		off += rows * rowBytes
	}
	return out
}

func fill(b []byte, c spectra6.Color) {
	v := byte(c)<<4 | byte(c)
	for i := range b {
		b[i] = v
	}
}

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package frameimage

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/maruel/ansi256"

	"github.com/GermanBionicSystems/epaper/spectra6"
)

func TestPackUnpack(t *testing.T) {
	frame := []byte{0x01, 0x23, 0x45, 0x50, 0x11, 0x32}
	img := Unpack(frame, 4, 3)
	if diff := cmp.Diff(img.Pix, []byte{0, 1, 2, 3, 4, 5, 5, 0, 1, 1, 3, 2}); diff != "" {
		t.Errorf("Unpack() difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(Pack(img), frame); diff != "" {
		t.Errorf("Pack() difference (-got +want):\n%s", diff)
	}

	// Out of range nibbles show as green.
	if got := Unpack([]byte{0xF7}, 2, 1).Pix; !bytes.Equal(got, []byte{5, 5}) {
		t.Errorf("Unpack(0xf7) = %v, want [5 5]", got)
	}
}

func TestSolid(t *testing.T) {
	for c := spectra6.Black; c <= spectra6.Green; c++ {
		want := bytes.Repeat([]byte{byte(c)<<4 | byte(c)}, 8)
		if diff := cmp.Diff(Solid(4, 4, c), want); diff != "" {
			t.Errorf("Solid(%s) difference (-got +want):\n%s", c, diff)
		}
	}
}

func TestTestPattern(t *testing.T) {
	got := TestPattern(800, 480)
	if len(got) != 192000 {
		t.Fatalf("len = %d, want 192000", len(got))
	}
	for i, c := range spectra6.PatternColors {
		band := got[i*80*400 : (i+1)*80*400]
		if want := bytes.Repeat([]byte{byte(c)<<4 | byte(c)}, len(band)); !bytes.Equal(band, want) {
			t.Errorf("band %d is not %s", i, c)
		}
	}
}

func TestFit(t *testing.T) {
	for _, tc := range []struct {
		src  image.Rectangle
		want image.Rectangle
	}{
		{image.Rect(0, 0, 800, 480), image.Rect(0, 0, 800, 480)},
		{image.Rect(0, 0, 1600, 960), image.Rect(0, 0, 800, 480)},
		{image.Rect(0, 0, 1000, 1000), image.Rect(160, 0, 640, 480)},
		{image.Rect(0, 0, 2000, 600), image.Rect(0, 120, 800, 360)},
		{image.Rect(10, 10, 110, 60), image.Rect(350, 215, 450, 265)},
	} {
		if got := Fit(tc.src, 800, 480); got != tc.want {
			t.Errorf("Fit(%v) = %v, want %v", tc.src, got, tc.want)
		}
	}
}

func TestEncode(t *testing.T) {
	// Red on the left half, blue on the right half.
	src := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			c := color.RGBA{0xFF, 0, 0, 0xFF}
			if x >= 4 {
				c = color.RGBA{0, 0, 0xFF, 0xFF}
			}
			src.Set(x, y, c)
		}
	}

	got := Encode(src, 8, 4)
	want := bytes.Repeat([]byte{0x33, 0x33, 0x44, 0x44}, 4)
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Encode() difference (-got +want):\n%s", diff)
	}

	// A small image is centred on white.
	small := image.NewUniform(color.Black)
	got = Encode(&clipped{small, image.Rect(0, 0, 2, 2)}, 6, 2)
	if diff := cmp.Diff(got, []byte{0x11, 0x00, 0x11, 0x11, 0x00, 0x11}); diff != "" {
		t.Errorf("Encode(small) difference (-got +want):\n%s", diff)
	}
}

type clipped struct {
	image.Image
	r image.Rectangle
}

func (c *clipped) Bounds() image.Rectangle { return c.r }

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatal(err)
	}
	img, format, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if format != "png" || img.Bounds() != image.Rect(0, 0, 3, 2) {
		t.Errorf("Decode() = %s %v", format, img.Bounds())
	}
	if _, _, err := Decode(strings.NewReader("not an image")); err == nil {
		t.Error("Decode() succeeded on garbage")
	}
}

func TestTerminal(t *testing.T) {
	var out bytes.Buffer
	term, err := NewTerminal(&TerminalOpts{Width: 800, Height: 480, Columns: 40, W: &out})
	if err != nil {
		t.Fatalf("NewTerminal() failed: %v", err)
	}
	if got, want := term.String(), "Terminal{40x12}"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	if err := term.Render(TestPattern(800, 480)); err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 12 {
		t.Fatalf("got %d lines, want 12", len(lines))
	}
	// 12 rows over 6 bands: two rows per colour.
	for i, line := range lines {
		c := spectra6.PatternColors[i/2]
		want := strings.Repeat(ansi256.Default.Block(Colors[c]), 40) + "\033[0m"
		if line != want {
			t.Errorf("line %d is not %s", i, c)
		}
	}

	if err := term.Render(make([]byte, 10)); err == nil {
		t.Error("Render() accepted a short frame")
	}

	out.Reset()
	if err := term.Draw(term.Bounds(), image.NewUniform(color.White), image.Point{}); err != nil {
		t.Fatalf("Draw() failed: %v", err)
	}
	if !strings.Contains(out.String(), ansi256.Default.Block(Colors[spectra6.White])) {
		t.Error("Draw(white) did not render white")
	}
}

func TestColors(t *testing.T) {
	if len(Palette) != len(Colors) {
		t.Fatalf("len(Palette) = %d, want %d", len(Palette), len(Colors))
	}
	for i, c := range Colors {
		if Palette[i] != c {
			t.Errorf("Palette[%d] = %v, want %v", i, Palette[i], c)
		}
		if ansi256.Default.Block(c) == "" {
			t.Errorf("no terminal block for %s", spectra6.Color(i))
		}
	}
}

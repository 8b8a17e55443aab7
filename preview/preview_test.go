// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package preview

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	log "github.com/mgutz/logxi/v1"

	"github.com/GermanBionicSystems/epaper/cmdqueue"
	"github.com/GermanBionicSystems/epaper/frameimage"
	"github.com/GermanBionicSystems/epaper/spectra6"
)

func newPreview(f Format) *Preview {
	return New(&Opts{Width: 8, Height: 6, Format: f, Logger: log.NewLogger(io.Discard, "preview")})
}

func TestTransmitted(t *testing.T) {
	p := newPreview(PNG)
	if got := p.Frame().Pix; !bytes.Equal(got, bytes.Repeat([]byte{byte(spectra6.White)}, 48)) {
		t.Errorf("initial frame = %v, want white", got)
	}

	for _, tc := range []struct {
		cmd   cmdqueue.Command
		frame []byte
		want  []byte
	}{
		{
			cmdqueue.Command{Kind: cmdqueue.Clear, Color: spectra6.Blue},
			nil,
			frameimage.Solid(8, 6, spectra6.Blue),
		},
		{
			cmdqueue.Command{Kind: cmdqueue.ShowTestPattern},
			nil,
			frameimage.TestPattern(8, 6),
		},
		{
			cmdqueue.Command{Kind: cmdqueue.ShowBuffer},
			bytes.Repeat([]byte{0x35}, 24),
			bytes.Repeat([]byte{0x35}, 24),
		},
	} {
		p.Transmitted(tc.cmd, tc.frame)
		if diff := cmp.Diff(frameimage.Pack(p.Frame()), tc.want); diff != "" {
			t.Errorf("Transmitted(%s) difference (-got +want):\n%s", tc.cmd, diff)
		}
	}

	p.Transmitted(cmdqueue.Command{Kind: cmdqueue.Sleep}, nil)
	if got := p.Updates(); got != 3 {
		t.Errorf("Updates() = %d, want 3", got)
	}
}

func TestDraw(t *testing.T) {
	p := newPreview(PNG)
	if err := p.Draw(image.Rect(0, 0, 4, 6), image.NewUniform(color.RGBA{0xF0, 0x10, 0x10, 0xFF}), image.Point{}); err != nil {
		t.Fatalf("Draw() failed: %v", err)
	}
	img := p.Frame()
	if got := img.ColorIndexAt(1, 1); got != uint8(spectra6.Red) {
		t.Errorf("pixel (1, 1) = %d, want red", got)
	}
	if got := img.ColorIndexAt(5, 1); got != uint8(spectra6.White) {
		t.Errorf("pixel (5, 1) = %d, want white", got)
	}
}

func TestSingle(t *testing.T) {
	for _, tc := range []struct {
		target string
		mime   string
		decode func(io.Reader) (image.Image, error)
	}{
		{"/?single=1", "image/png", png.Decode},
		{"/?single=1&format=jpeg", "image/jpeg", jpeg.Decode},
	} {
		t.Run(tc.target, func(t *testing.T) {
			p := newPreview(PNG)
			p.Transmitted(cmdqueue.Command{Kind: cmdqueue.Clear, Color: spectra6.Black}, nil)

			w := httptest.NewRecorder()
			p.ServeHTTP(w, httptest.NewRequest("GET", tc.target, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if got := w.Header().Get("Content-Type"); got != tc.mime {
				t.Errorf("Content-Type = %q, want %q", got, tc.mime)
			}
			img, err := tc.decode(w.Body)
			if err != nil {
				t.Fatalf("decoding failed: %v", err)
			}
			if got := img.Bounds().Size(); got != (image.Point{8, 6}) {
				t.Errorf("size = %v", got)
			}
			if r, g, b, _ := img.At(3, 3).RGBA(); r > 0x1000 || g > 0x1000 || b > 0x1000 {
				t.Errorf("pixel = %d %d %d, want black", r, g, b)
			}
		})
	}
}

func TestBadRequests(t *testing.T) {
	p := newPreview(PNG)
	for target, want := range map[string]int{
		"/?format=gif": http.StatusBadRequest,
	} {
		w := httptest.NewRecorder()
		p.ServeHTTP(w, httptest.NewRequest("GET", target, nil))
		if w.Code != want {
			t.Errorf("GET %s = %d, want %d", target, w.Code, want)
		}
	}
	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest("POST", "/", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST = %d, want 405", w.Code)
	}
}

func TestStream(t *testing.T) {
	p := newPreview(PNG)
	srv := httptest.NewServer(p)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" {
		t.Fatalf("Content-Type = %q, %v", resp.Header.Get("Content-Type"), err)
	}
	mr := multipart.NewReader(resp.Body, params["boundary"])

	readFrame := func() *image.Paletted {
		t.Helper()
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("NextPart() failed: %v", err)
		}
		img, err := png.Decode(part)
		if err != nil {
			t.Fatalf("png.Decode() failed: %v", err)
		}
		pal, ok := img.(*image.Paletted)
		if !ok {
			t.Fatalf("got %T, want *image.Paletted", img)
		}
		return pal
	}

	if got := readFrame().ColorIndexAt(0, 0); got != uint8(spectra6.White) {
		t.Errorf("first frame pixel = %d, want white", got)
	}

	p.Transmitted(cmdqueue.Command{Kind: cmdqueue.Clear, Color: spectra6.Yellow}, nil)
	if got := readFrame().ColorIndexAt(0, 0); got != uint8(spectra6.Yellow) {
		t.Errorf("second frame pixel = %d, want yellow", got)
	}

	if err := p.Halt(); err != nil {
		t.Errorf("Halt() failed: %v", err)
	}
}

func TestFormat(t *testing.T) {
	for in, want := range map[string]Format{"png": PNG, "jpg": JPEG, "jpeg": JPEG} {
		var f Format
		if err := f.Set(in); err != nil || f != want {
			t.Errorf("Set(%q) = %s, %v; want %s", in, f, err, want)
		}
	}
	var f Format
	if err := f.Set("bmp"); err == nil {
		t.Error("Set(\"bmp\") succeeded")
	}
	if got := Format(7).String(); got != "Format(7)" {
		t.Errorf("String() = %q", got)
	}
}

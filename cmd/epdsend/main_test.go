// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestClient(t *testing.T) {
	var gotFrame []byte
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"service":"epaper","status":"ok","uptime_formatted":"0d 00:00:05","hardware_available":true,"buffer":{"width":4,"height":2}}`)
	})
	mux.HandleFunc("POST /api/display/frame", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "application/octet-stream" {
			t.Errorf("Content-Type = %q", got)
		}
		gotFrame, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"message":"Frame queued","frame_number":7,"replaced":false,"dropped":0}`)
	})
	mux.HandleFunc("POST /api/display/test", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"ingest: command queue is full","reason":"queue_full"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	c := newClient(strings.TrimPrefix(srv.URL, "http://"), time.Second)

	st, err := c.status(ctx)
	if err != nil {
		t.Fatalf("status() failed: %v", err)
	}
	if st.Service != "epaper" || !st.HardwareAvailable || st.Buffer.Width != 4 || st.Buffer.Height != 2 {
		t.Errorf("status() = %+v", st)
	}

	resp, err := c.sendFrame(ctx, []byte{0x01, 0x23, 0x45, 0x01})
	if err != nil {
		t.Fatalf("sendFrame() failed: %v", err)
	}
	if diff := cmp.Diff(resp, &frameResponse{Message: "Frame queued", FrameNumber: 7}); diff != "" {
		t.Errorf("sendFrame() difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(gotFrame, []byte{0x01, 0x23, 0x45, 0x01}); diff != "" {
		t.Errorf("uploaded frame difference (-got +want):\n%s", diff)
	}

	_, err = c.sendTestPattern(ctx)
	if err == nil || !strings.Contains(err.Error(), "queue_full") {
		t.Errorf("sendTestPattern() = %v, want a queue_full error", err)
	}
}

func TestLoadFrame(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{0xFF, 0x00, 0x00, 0xFF})
		}
	}
	path := filepath.Join(t.TempDir(), "red.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	frame, err := loadFrame(path, 4, 2)
	if err != nil {
		t.Fatalf("loadFrame() failed: %v", err)
	}
	if diff := cmp.Diff(frame, []byte{0x33, 0x33, 0x33, 0x33}); diff != "" {
		t.Errorf("loadFrame() difference (-got +want):\n%s", diff)
	}

	if _, err := loadFrame(filepath.Join(t.TempDir(), "missing.png"), 4, 2); err == nil {
		t.Error("loadFrame(missing) succeeded, want error")
	}
}

func TestCandidates(t *testing.T) {
	got := candidates(net.ParseIP("192.168.1.42"), "8080")
	want := []string{"192.168.1.100:8080", "192.168.1.101:8080", "192.168.1.200:8080", "192.168.1.150:8080"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("candidates() difference (-got +want):\n%s", diff)
	}
	if got := candidates(net.ParseIP("::1"), "8080"); got != nil {
		t.Errorf("candidates(::1) = %v, want nil", got)
	}
}

func TestFind(t *testing.T) {
	serve := func(service string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/status" {
				http.NotFound(w, r)
				return
			}
			io.WriteString(w, `{"service":"`+service+`","status":"ok"}`)
		}))
	}
	other := serve("printer")
	defer other.Close()
	first := serve("ePaper-7in3")
	defer first.Close()
	second := serve("epaper")
	defer second.Close()
	closed := serve("epaper")
	closedAddr := strings.TrimPrefix(closed.URL, "http://")
	closed.Close()

	addr := func(s *httptest.Server) string { return strings.TrimPrefix(s.URL, "http://") }
	ctx := context.Background()

	got, err := find(ctx, []string{closedAddr, addr(other), addr(first), addr(second)}, time.Second)
	if err != nil {
		t.Fatalf("find() failed: %v", err)
	}
	if got != addr(first) {
		t.Errorf("find() = %q, want %q", got, addr(first))
	}

	if _, err := find(ctx, []string{closedAddr, addr(other)}, time.Second); err == nil {
		t.Error("find() without a display succeeded, want error")
	}
}

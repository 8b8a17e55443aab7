// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// epdsend converts an image for a 6-colour e-paper panel and uploads it to
// epaperd.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/mgutz/logxi/v1"
	"golang.org/x/sync/errgroup"

	"github.com/GermanBionicSystems/epaper/frameimage"
)

var logger = log.New("epdsend")

// client talks to the epaperd HTTP API.
type client struct {
	base string
	hc   *http.Client
}

func newClient(addr string, timeout time.Duration) *client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &client{
		base: strings.TrimSuffix(addr, "/"),
		hc:   &http.Client{Timeout: timeout},
	}
}

type status struct {
	Service           string `json:"service"`
	Status            string `json:"status"`
	UptimeFormatted   string `json:"uptime_formatted"`
	HardwareAvailable bool   `json:"hardware_available"`
	Buffer            struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"buffer"`
}

type frameResponse struct {
	Message     string `json:"message"`
	FrameNumber uint64 `json:"frame_number"`
	UploadID    string `json:"upload_id"`
	Replaced    bool   `json:"replaced"`
	Dropped     int    `json:"dropped"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var e errorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s (%s, %s)", method, path, e.Error, e.Reason, resp.Status)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return json.Unmarshal(raw, v)
}

func (c *client) status(ctx context.Context) (*status, error) {
	s := &status{}
	if err := c.do(ctx, http.MethodGet, "/api/status", "", nil, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *client) sendFrame(ctx context.Context, frame []byte) (*frameResponse, error) {
	r := &frameResponse{}
	if err := c.do(ctx, http.MethodPost, "/api/display/frame", "application/octet-stream", bytes.NewReader(frame), r); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *client) sendTestPattern(ctx context.Context) (*frameResponse, error) {
	r := &frameResponse{}
	if err := c.do(ctx, http.MethodPost, "/api/display/test", "", nil, r); err != nil {
		return nil, err
	}
	return r, nil
}

// hostNumbers are the addresses tried by -find on the local /24, in order.
var hostNumbers = []byte{100, 101, 200, 150}

// candidates returns the addresses tried by -find around ip.
func candidates(ip net.IP, port string) []string {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil
	}
	out := make([]string, 0, len(hostNumbers))
	for _, n := range hostNumbers {
		out = append(out, net.JoinHostPort(net.IPv4(ip4[0], ip4[1], ip4[2], n).String(), port))
	}
	return out
}

// localIPv4 returns the first non loopback IPv4 address of the host.
func localIPv4() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok && !n.IP.IsLoopback() && n.IP.To4() != nil {
			return n.IP, nil
		}
	}
	return nil, errors.New("no IPv4 address found")
}

// find queries every address concurrently and returns the first one, in
// order, whose /api/status reports an epaper service.
func find(ctx context.Context, addrs []string, timeout time.Duration) (string, error) {
	found := make([]bool, len(addrs))
	var g errgroup.Group
	g.SetLimit(8)
	for i, a := range addrs {
		g.Go(func() error {
			st, err := newClient(a, timeout).status(ctx)
			if err != nil {
				logger.Debug("no display", "addr", a, "err", err)
				return nil
			}
			found[i] = strings.Contains(strings.ToLower(st.Service), "epaper")
			return nil
		})
	}
	_ = g.Wait()
	for i, ok := range found {
		if ok {
			return addrs[i], nil
		}
	}
	return "", fmt.Errorf("no epaper display found at %s", strings.Join(addrs, ", "))
}

// loadFrame decodes the image at path and packs it for a width x height
// panel.
func loadFrame(path string, width, height int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, format, err := frameimage.Decode(f)
	if err != nil {
		return nil, err
	}
	logger.Debug("decoded", "path", path, "format", format, "bounds", img.Bounds())
	return frameimage.Encode(img, width, height), nil
}

func mainImpl() error {
	addr := flag.String("addr", "localhost:8080", "epaperd address")
	findFlag := flag.Bool("find", false, "look for epaperd on the local network, on the port of -addr")
	imagePath := flag.String("image", "", "image to send (png, jpeg, gif, bmp, tiff, webp)")
	test := flag.Bool("test", false, "show the colour test pattern instead of an image")
	preview := flag.Bool("preview", false, "print the converted image on the terminal before sending")
	timeout := flag.Duration("timeout", 30*time.Second, "HTTP request timeout")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()
	if *verbose {
		logger.SetLevel(log.LevelDebug)
	}
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}
	if *test == (*imagePath != "") {
		return errors.New("specify exactly one of -image or -test")
	}

	ctx := context.Background()
	if *findFlag {
		_, port, err := net.SplitHostPort(strings.TrimPrefix(*addr, "http://"))
		if err != nil {
			return err
		}
		ip, err := localIPv4()
		if err != nil {
			return err
		}
		fmt.Printf("Looking for epaperd on %s/24\n", ip.Mask(net.CIDRMask(24, 32)))
		if *addr, err = find(ctx, candidates(ip, port), 2*time.Second); err != nil {
			return err
		}
		fmt.Printf("Found epaperd at %s\n", *addr)
	}
	c := newClient(*addr, *timeout)

	st, err := c.status(ctx)
	if err != nil {
		return err
	}
	hw := "simulation"
	if st.HardwareAvailable {
		hw = "available"
	}
	fmt.Printf("Connected to %s\n  status:   %s\n  uptime:   %s\n  hardware: %s\n", st.Service, st.Status, st.UptimeFormatted, hw)

	var resp *frameResponse
	start := time.Now()
	if *test {
		if resp, err = c.sendTestPattern(ctx); err != nil {
			return err
		}
	} else {
		frame, err := loadFrame(*imagePath, st.Buffer.Width, st.Buffer.Height)
		if err != nil {
			return err
		}
		if *preview {
			t, err := frameimage.NewTerminal(&frameimage.TerminalOpts{Width: st.Buffer.Width, Height: st.Buffer.Height})
			if err != nil {
				return err
			}
			if err := t.Render(frame); err != nil {
				return err
			}
		}
		logger.Info("sending", "bytes", len(frame))
		if resp, err = c.sendFrame(ctx, frame); err != nil {
			return err
		}
	}

	fmt.Printf("%s\n", resp.Message)
	if resp.FrameNumber != 0 {
		fmt.Printf("  frame:    %d\n", resp.FrameNumber)
		fmt.Printf("  upload:   %s\n", resp.UploadID)
	}
	if resp.Replaced {
		fmt.Printf("  replaced %d pending command(s)\n", resp.Dropped)
	}
	fmt.Printf("  took:     %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "epdsend: %s.\n", err)
		os.Exit(1)
	}
}

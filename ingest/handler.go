// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/mgutz/logxi/v1"

	"github.com/GermanBionicSystems/epaper/cmdqueue"
	"github.com/GermanBionicSystems/epaper/controller"
	"github.com/GermanBionicSystems/epaper/framebuffer"
	"github.com/GermanBionicSystems/epaper/spectra6"
)

// HandlerOpts is the HTTP handler configuration.
type HandlerOpts struct {
	// Service is reported in /api/status. Clients look for "epaper" in it.
	Service string
	// HardwareAvailable is false when the panel is simulated.
	HardwareAvailable bool
	// ChunkSize is the size of the writes into the frame buffer. 0 means
	// 4096.
	ChunkSize int
	// LockRetries is how many times a chunk is retried after a buffer lock
	// timeout before the upload is refused. 0 means 3.
	LockRetries int
	Logger      log.Logger
	// Now is used for the uptime.
	Now func() time.Time
}

// Handler serves the HTTP API:
//
//	POST /api/display/frame  raw packed frame body
//	POST /api/display/test   show the test pattern
//	POST /api/display/clear  fill with ?color= (white by default)
//	POST /api/display/sleep  put the panel in deep sleep
//	GET  /api/status         JSON status
type Handler struct {
	e       *Endpoint
	fb      *framebuffer.Buffer
	q       *cmdqueue.Queue
	display Display
	opts    HandlerOpts
	log     log.Logger
	start   time.Time

	// upload is held for the whole duration of a frame upload.
	upload sync.Mutex
	mux    *http.ServeMux
}

// NewHandler returns the HTTP API of e.
func NewHandler(e *Endpoint, opts *HandlerOpts) *Handler {
	h := &Handler{
		e:       e,
		fb:      e.fb,
		q:       e.q,
		display: e.display,
		opts:    *opts,
		log:     opts.Logger,
		mux:     http.NewServeMux(),
	}
	if h.opts.Service == "" {
		h.opts.Service = "epaper"
	}
	if h.opts.ChunkSize <= 0 {
		h.opts.ChunkSize = 4096
	}
	if h.opts.LockRetries <= 0 {
		h.opts.LockRetries = 3
	}
	if h.opts.Now == nil {
		h.opts.Now = time.Now
	}
	if h.log == nil {
		h.log = e.log
	}
	h.start = h.opts.Now()

	h.mux.HandleFunc("POST /api/display/frame", h.postFrame)
	h.mux.HandleFunc("POST /api/display/test", h.postCommand(func(*http.Request) (cmdqueue.Command, error) {
		return cmdqueue.Command{Kind: cmdqueue.ShowTestPattern}, nil
	}))
	h.mux.HandleFunc("POST /api/display/clear", h.postCommand(func(r *http.Request) (cmdqueue.Command, error) {
		cmd := cmdqueue.Command{Kind: cmdqueue.Clear, Color: spectra6.White}
		if s := r.URL.Query().Get("color"); s != "" {
			if err := cmd.Color.Set(s); err != nil {
				return cmd, err
			}
		}
		return cmd, nil
	}))
	h.mux.HandleFunc("POST /api/display/sleep", h.postCommand(func(*http.Request) (cmdqueue.Command, error) {
		return cmdqueue.Command{Kind: cmdqueue.Sleep}, nil
	}))
	h.mux.HandleFunc("GET /api/status", h.getStatus)
	return h
}

// Handle registers an additional route, like the preview stream.
func (h *Handler) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type frameResponse struct {
	Message     string `json:"message"`
	FrameNumber uint64 `json:"frame_number,omitempty"`
	UploadID    string `json:"upload_id,omitempty"`
	Replaced    bool   `json:"replaced"`
	Dropped     int    `json:"dropped"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason Reason `json:"reason"`
}

func (h *Handler) postFrame(w http.ResponseWriter, r *http.Request) {
	if !h.upload.TryLock() {
		h.writeError(w, reject(ErrUploadInProgress))
		return
	}
	defer h.upload.Unlock()

	// Refuse before streaming the body into the buffer.
	if h.e.display.Failed() {
		h.writeError(w, reject(ErrDisplayFailed))
		return
	}

	id := uuid.NewString()
	h.e.Begin()
	off, err := h.receive(r.Body)
	if err != nil {
		h.e.Abort()
		h.log.Debug("upload aborted", "upload", id, "bytes", off, "err", err)
		h.writeError(w, err)
		return
	}
	total := int(r.ContentLength)
	if r.ContentLength < 0 {
		total = off
	}
	res, err := h.e.End(total)
	if err != nil {
		h.log.Debug("upload rejected", "upload", id, "bytes", total, "err", err)
		h.writeError(w, err)
		return
	}

	msg := "frame queued"
	if res.Replaced {
		msg = "frame queued, display busy"
	}
	h.log.Info("frame received", "upload", id, "frame", res.Frame, "bytes", total, "remote", r.RemoteAddr)
	h.writeJSON(w, http.StatusOK, &frameResponse{
		Message:     msg,
		FrameNumber: res.Frame,
		UploadID:    id,
		Replaced:    res.Replaced,
		Dropped:     res.Dropped,
	})
}

// receive streams body into the frame buffer and returns the number of
// bytes read.
func (h *Handler) receive(body io.Reader) (int, error) {
	buf := make([]byte, h.opts.ChunkSize)
	off := 0
	for {
		n, rerr := io.ReadFull(body, buf)
		if n > 0 {
			if err := h.writeChunk(off, buf[:n]); err != nil {
				return off, err
			}
			off += n
		}
		switch {
		case rerr == io.EOF || rerr == io.ErrUnexpectedEOF:
			return off, nil
		case rerr != nil:
			return off, fmt.Errorf("ingest: reading body: %w", rerr)
		}
	}
}

func (h *Handler) writeChunk(off int, p []byte) error {
	var err error
	for i := 0; i < h.opts.LockRetries; i++ {
		if err = h.e.WriteChunk(off, p); !errors.Is(err, framebuffer.ErrLockTimeout) {
			return err
		}
		h.log.Debug("buffer locked, retrying", "off", off, "try", i+1)
	}
	return err
}

func (h *Handler) postCommand(parse func(*http.Request) (cmdqueue.Command, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd, err := parse(r)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, &errorResponse{Error: err.Error(), Reason: "bad_request"})
			return
		}
		res, err := h.e.Submit(cmd)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.log.Info("command queued", "cmd", cmd, "remote", r.RemoteAddr)
		h.writeJSON(w, http.StatusOK, &frameResponse{
			Message:  fmt.Sprintf("%s queued", cmd),
			Replaced: res.Replaced,
			Dropped:  res.Dropped,
		})
	}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Service           string            `json:"service"`
	Status            string            `json:"status"`
	Uptime            float64           `json:"uptime"`
	UptimeFormatted   string            `json:"uptime_formatted"`
	HardwareAvailable bool              `json:"hardware_available"`
	Display           controller.Status `json:"display"`
	Buffer            BufferStatus      `json:"buffer"`
	Queue             QueueStatus       `json:"queue"`
	Upload            UploadState       `json:"upload"`
	Frames            uint64            `json:"frames"`
}

// BufferStatus describes the frame buffer.
type BufferStatus struct {
	Width    int                `json:"width"`
	Height   int                `json:"height"`
	Capacity int                `json:"capacity"`
	Source   framebuffer.Source `json:"source"`
}

// QueueStatus describes the command queue.
type QueueStatus struct {
	Pending  int `json:"pending"`
	Capacity int `json:"capacity"`
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	uptime := h.opts.Now().Sub(h.start)
	resp := &StatusResponse{
		Service:           h.opts.Service,
		Status:            "ok",
		Uptime:            uptime.Seconds(),
		UptimeFormatted:   formatUptime(uptime),
		HardwareAvailable: h.opts.HardwareAvailable,
		Display:           h.display.Status(),
		Buffer: BufferStatus{
			Width:    h.fb.Width(),
			Height:   h.fb.Height(),
			Capacity: h.fb.Cap(),
			Source:   h.fb.Source(),
		},
		Queue:  QueueStatus{Pending: h.q.Len(), Capacity: h.q.Cap()},
		Upload: h.e.State(),
		Frames: h.e.Frames(),
	}
	if resp.Display.State == controller.Failed {
		resp.Status = "failed"
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// formatUptime returns d as "3d 04:05:06".
func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	return fmt.Sprintf("%dd %02d:%02d:%02d", days, hours, mins, d/time.Second)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	rej := reject(err)
	if rej.Retryable() {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter(rej.Reason)))
	}
	h.log.Warn("request rejected", "reason", rej.Reason, "err", rej.Err)
	h.writeJSON(w, rej.StatusCode(), &errorResponse{Error: rej.Err.Error(), Reason: rej.Reason})
}

// retryAfter returns the Retry-After delay in seconds.
func retryAfter(r Reason) int {
	if r == QueueFull {
		return 5
	}
	return 1
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("writing response", "err", err)
	}
}

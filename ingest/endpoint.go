// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ingest

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	log "github.com/mgutz/logxi/v1"

	"github.com/GermanBionicSystems/epaper/cmdqueue"
	"github.com/GermanBionicSystems/epaper/controller"
	"github.com/GermanBionicSystems/epaper/framebuffer"
)

// UploadState is the upload state machine state.
type UploadState int

// NotUploading -> Receiving -> Complete | Aborted. Begin restarts from any
// state.
const (
	NotUploading UploadState = iota
	Receiving
	Complete
	Aborted
)

func (s UploadState) String() string {
	switch s {
	case NotUploading:
		return "not_uploading"
	case Receiving:
		return "receiving"
	case Complete:
		return "complete"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("UploadState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s UploadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Display is the view of the display goroutine used to pick the queueing
// policy. *controller.Controller implements it.
type Display interface {
	Busy() bool
	Failed() bool
	Status() controller.Status
}

// Result describes an accepted upload or command.
type Result struct {
	// Frame is the sequence number of the accepted upload, starting at 1.
	// It is 0 for commands.
	Frame uint64
	// Replaced is true when pending commands were replaced because the
	// display was busy.
	Replaced bool
	// Dropped is the number of pending commands that were discarded.
	Dropped int
}

// Opts is the Endpoint configuration.
type Opts struct {
	Logger log.Logger
}

// Endpoint is the transport independent upload state machine. It is safe
// for concurrent use but only tracks one upload at a time.
type Endpoint struct {
	fb      *framebuffer.Buffer
	q       *cmdqueue.Queue
	display Display
	log     log.Logger

	mu       sync.Mutex
	state    UploadState
	received coverage
	frames   uint64
}

type span struct {
	start, end int
}

// coverage is the set of frame bytes written during an upload, as sorted
// disjoint ranges. Overlapping chunks are counted once.
type coverage []span

func (c *coverage) add(start, end int) {
	if start >= end {
		return
	}
	s := *c
	i := sort.Search(len(s), func(i int) bool { return s[i].end >= start })
	j := i
	for ; j < len(s) && s[j].start <= end; j++ {
		start = min(start, s[j].start)
		end = max(end, s[j].end)
	}
	*c = slices.Replace(s, i, j, span{start, end})
}

// len returns the number of distinct bytes written.
func (c coverage) len() int {
	n := 0
	for _, r := range c {
		n += r.end - r.start
	}
	return n
}

// New returns an Endpoint writing into fb and queueing on q.
func New(fb *framebuffer.Buffer, q *cmdqueue.Queue, display Display, opts *Opts) *Endpoint {
	if opts == nil {
		opts = &Opts{}
	}
	e := &Endpoint{fb: fb, q: q, display: display, log: opts.Logger}
	if e.log == nil {
		e.log = log.New("ingest")
	}
	return e
}

// State returns the current upload state.
func (e *Endpoint) State() UploadState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Frames returns the number of uploads accepted so far.
func (e *Endpoint) Frames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// Begin starts a new upload, aborting the current one if any.
func (e *Endpoint) Begin() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Receiving {
		e.log.Warn("upload restarted", "received", e.received.len())
	}
	e.state = Receiving
	e.received = e.received[:0]
}

// WriteChunk stores p at offset off of the frame.
//
// Chunks may arrive in any order and may overlap; End requires every byte
// of the frame to be written at least once. A chunk outside the frame
// aborts the upload. A lock timeout does not: the chunk can be sent again.
func (e *Endpoint) WriteChunk(off int, p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Receiving {
		return reject(ErrNotReceiving)
	}
	n, err := e.fb.WriteAt(p, int64(off))
	if err != nil {
		if errors.Is(err, framebuffer.ErrOutOfBounds) {
			e.abortLocked()
		}
		return reject(err)
	}
	e.received.add(off, off+n)
	return nil
}

// End completes the upload of total bytes and queues the frame for
// display.
//
// When the display is busy refreshing, every pending command is replaced by
// this frame. Otherwise the frame is queued behind them if there is room.
func (e *Endpoint) End(total int) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Receiving {
		return Result{}, reject(ErrNotReceiving)
	}
	if got := e.received.len(); total != e.fb.Cap() || got != total {
		e.abortLocked()
		return Result{}, reject(fmt.Errorf("%w: got %d bytes (declared %d), want %d", ErrSizeMismatch, got, total, e.fb.Cap()))
	}
	res, err := e.submit(cmdqueue.Command{Kind: cmdqueue.ShowBuffer})
	if err != nil {
		e.abortLocked()
		return Result{}, err
	}
	e.state = Complete
	e.frames++
	res.Frame = e.frames
	e.log.Debug("frame accepted", "frame", res.Frame, "replaced", res.Replaced, "dropped", res.Dropped)
	return res, nil
}

// Abort discards the current upload. The bytes already written stay in the
// buffer but are never queued.
func (e *Endpoint) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Receiving {
		e.abortLocked()
	}
}

func (e *Endpoint) abortLocked() {
	e.log.Debug("upload aborted", "received", e.received.len())
	e.state = Aborted
	e.received = e.received[:0]
}

// Submit queues a command that does not need the frame buffer, with the
// same policy as uploads.
func (e *Endpoint) Submit(cmd cmdqueue.Command) (Result, error) {
	return e.submit(cmd)
}

func (e *Endpoint) submit(cmd cmdqueue.Command) (Result, error) {
	if e.display.Failed() {
		return Result{}, reject(ErrDisplayFailed)
	}
	// Busy is only a hint; a command racing with the end of a refresh is
	// queued either way.
	if e.display.Busy() {
		dropped := e.q.DrainAndEnqueue(cmd)
		if dropped < 0 {
			return Result{}, reject(fmt.Errorf("%w: closed", ErrQueueFull))
		}
		if dropped > 0 {
			e.log.Info("replaced pending commands", "cmd", cmd, "dropped", dropped)
		}
		return Result{Replaced: true, Dropped: dropped}, nil
	}
	if !e.q.TryEnqueue(cmd) {
		return Result{}, reject(ErrQueueFull)
	}
	return Result{}, nil
}

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	log "github.com/mgutz/logxi/v1"

	"github.com/GermanBionicSystems/epaper/cmdqueue"
	"github.com/GermanBionicSystems/epaper/framebuffer"
	"github.com/GermanBionicSystems/epaper/spectra6"
)

// Panel is the part of *spectra6.Dev used by the controller.
type Panel interface {
	Init() error
	TransmitFrame(pix []byte) error
	TransmitSolid(c spectra6.Color) error
	TransmitTestPattern() error
	RefreshAndPowerCycle() error
	Sleep() error
}

// Sink is told about every frame sent to the panel. frame is a private copy
// of the packed logical frame for ShowBuffer and nil otherwise.
type Sink interface {
	Transmitted(cmd cmdqueue.Command, frame []byte)
}

// Opts is the controller configuration. All fields are optional.
type Opts struct {
	Logger log.Logger
	Sink   Sink
	Now    func() time.Time
}

// Controller owns the panel.
type Controller struct {
	panel Panel
	fb    *framebuffer.Buffer
	q     *cmdqueue.Queue
	log   log.Logger
	sink  Sink
	now   func() time.Time

	mu     sync.RWMutex
	status Status
}

// New returns a controller in the Uninitialized state. Nothing touches the
// panel before Run.
func New(panel Panel, fb *framebuffer.Buffer, q *cmdqueue.Queue, opts *Opts) *Controller {
	if opts == nil {
		opts = &Opts{}
	}
	c := &Controller{
		panel: panel,
		fb:    fb,
		q:     q,
		log:   opts.Logger,
		sink:  opts.Sink,
		now:   opts.Now,
	}
	if c.log == nil {
		c.log = log.New("controller")
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.status.Message = "waiting for init"
	return c
}

// Status returns a copy of the current state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Busy reports whether a command is running. The answer may be stale by
// the time the caller uses it.
func (c *Controller) Busy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Busy
}

// Failed reports whether the panel could not be initialized.
func (c *Controller) Failed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.State == Failed
}

func (c *Controller) update(f func(s *Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(&c.status)
	c.status.LastUpdate = c.now()
}

// Run initializes the panel then executes commands until ctx is done or the
// queue is closed. It must be called once; it keeps its goroutine on one OS
// thread for its whole life.
//
// A failed initialization is fatal and returned. Errors of individual
// commands are only recorded in Status.
func (c *Controller) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := c.init(); err != nil {
		return err
	}
	for {
		cmd, err := c.q.Dequeue(ctx)
		if errors.Is(err, cmdqueue.ErrClosed) {
			c.log.Info("queue closed")
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.execute(cmd); err != nil {
			var fatal *initError
			if errors.As(err, &fatal) {
				return fatal.err
			}
		}
	}
}

// initError marks an init failure, which ends Run.
type initError struct {
	err error
}

func (e *initError) Error() string { return e.err.Error() }
func (e *initError) Unwrap() error { return e.err }

// init runs the panel init sequence and leaves the controller Idle or
// Failed.
func (c *Controller) init() error {
	c.update(func(s *Status) {
		s.State = Initializing
		s.Message = "initializing panel"
	})
	c.log.Debug("init")
	start := c.now()
	if err := c.checkTimeouts("init", c.panel.Init()); err != nil {
		err = fmt.Errorf("controller: %w", err)
		c.log.Error("init failed", "err", err)
		c.update(func(s *Status) {
			s.State = Failed
			s.Busy = false
			s.Initialized = false
			s.Message = "panel init failed"
			s.LastError = err.Error()
		})
		return err
	}
	c.log.Info("panel ready", "elapsed", c.now().Sub(start))
	c.update(func(s *Status) {
		s.State = Idle
		s.Initialized = true
		s.Message = "ready"
	})
	return nil
}

// checkTimeouts counts and logs the busy timeouts in err and returns what
// is left.
func (c *Controller) checkTimeouts(op string, err error) error {
	timeouts, rest := spectra6.SplitBusyTimeouts(err)
	if len(timeouts) != 0 {
		for _, t := range timeouts {
			c.log.Warn("busy timeout", "op", op, "err", t)
		}
		c.update(func(s *Status) {
			s.BusyTimeouts += uint64(len(timeouts))
		})
	}
	return rest
}

// execute runs one command. The state is Busy for the whole duration and
// always goes back to Idle unless the panel could not be woken up.
func (c *Controller) execute(cmd cmdqueue.Command) error {
	c.log.Debug("command", "cmd", cmd)
	c.update(func(s *Status) {
		s.State = Busy
		s.Busy = true
		s.LastOperation = cmd.Kind
		s.Message = fmt.Sprintf("running %s", cmd)
	})

	if cmd.Kind != cmdqueue.Sleep && !c.Status().Initialized {
		c.log.Debug("waking panel up")
		if err := c.init(); err != nil {
			return &initError{err: err}
		}
		c.update(func(s *Status) {
			s.State = Busy
			s.Busy = true
		})
	}

	start := c.now()
	refreshed, err := c.dispatch(cmd)
	c.update(func(s *Status) {
		s.State = Idle
		s.Busy = false
		if refreshed {
			s.Frames++
		}
		if err != nil {
			s.LastError = err.Error()
			s.Message = fmt.Sprintf("%s failed", cmd)
		} else {
			s.Message = fmt.Sprintf("%s done", cmd)
		}
	})
	if err != nil {
		c.log.Error("command failed", "cmd", cmd, "err", err)
		return err
	}
	c.log.Debug("command done", "cmd", cmd, "elapsed", c.now().Sub(start))
	return nil
}

// dispatch sends cmd to the panel. It reports whether a refresh completed.
func (c *Controller) dispatch(cmd cmdqueue.Command) (bool, error) {
	var err error
	switch cmd.Kind {
	case cmdqueue.ShowBuffer:
		err = c.transmitBuffer()
	case cmdqueue.ShowTestPattern:
		if err = c.checkTimeouts("test pattern", c.panel.TransmitTestPattern()); err == nil {
			c.notify(cmd)
		}
	case cmdqueue.Clear:
		if err = c.checkTimeouts("clear", c.panel.TransmitSolid(cmd.Color)); err == nil {
			c.notify(cmd)
		}
	case cmdqueue.Sleep:
		return false, c.sleep()
	default:
		return false, fmt.Errorf("controller: unknown command %s", cmd)
	}
	if err != nil {
		return false, err
	}
	if err := c.checkTimeouts("refresh", c.panel.RefreshAndPowerCycle()); err != nil {
		return false, err
	}
	return true, nil
}

// transmitBuffer holds the buffer view for the whole transmission so no
// upload can modify the frame half way. The view is released before the
// refresh; uploads can proceed while the panel updates.
func (c *Controller) transmitBuffer() error {
	v, err := c.fb.View()
	if err != nil {
		return err
	}
	defer v.Release()

	var frame []byte
	if c.sink != nil {
		frame = append([]byte(nil), v.Bytes()...)
	}
	if err := c.checkTimeouts("transmit", c.panel.TransmitFrame(v.Bytes())); err != nil {
		return err
	}
	v.Release()
	if c.sink != nil {
		c.sink.Transmitted(cmdqueue.Command{Kind: cmdqueue.ShowBuffer}, frame)
	}
	return nil
}

func (c *Controller) sleep() error {
	if !c.Status().Initialized {
		return nil
	}
	if err := c.checkTimeouts("sleep", c.panel.Sleep()); err != nil {
		return err
	}
	c.update(func(s *Status) {
		s.Initialized = false
	})
	return nil
}

// notify forwards solid fills and test patterns to the sink.
func (c *Controller) notify(cmd cmdqueue.Command) {
	if c.sink != nil {
		c.sink.Transmitted(cmd, nil)
	}
}

var _ io.Closer = (*Controller)(nil)

// Close closes the command queue; Run returns once the pending commands
// are done.
func (c *Controller) Close() error {
	c.q.Close()
	return nil
}

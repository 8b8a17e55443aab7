// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package framebuffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrOutOfBounds is returned when a write does not fit in the buffer.
	ErrOutOfBounds = errors.New("framebuffer: write out of bounds")
	// ErrLockTimeout is returned when the lock could not be taken in time.
	ErrLockTimeout = errors.New("framebuffer: lock timeout")
)

// Source tells where the buffer memory lives.
type Source int

const (
	// Heap memory managed by the Go runtime.
	Heap Source = iota
	// External is an anonymous mapping outside of the Go heap.
	External
)

func (s Source) String() string {
	switch s {
	case Heap:
		return "heap"
	case External:
		return "external"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DefaultLockTimeout is used when Opts.LockTimeout is 0.
const DefaultLockTimeout = 100 * time.Millisecond

// Opts is the buffer configuration.
type Opts struct {
	// LockTimeout bounds every lock acquisition.
	LockTimeout time.Duration
	// PreferExternal tries an anonymous mapping first and falls back to the
	// heap when it fails.
	PreferExternal bool
}

// Buffer is a fixed size packed frame, two pixels per byte.
type Buffer struct {
	width  int
	height int
	pix    []byte
	src    Source
	free   func() error

	timeout time.Duration
	sem     *semaphore.Weighted
}

// New allocates a buffer for a width x height panel.
func New(width, height int, opts *Opts) (*Buffer, error) {
	if opts == nil {
		opts = &Opts{}
	}
	if width <= 0 || height <= 0 || (width*height)%2 != 0 {
		return nil, fmt.Errorf("framebuffer: invalid size %dx%d", width, height)
	}
	n := width * height / 2
	b := &Buffer{
		width:   width,
		height:  height,
		timeout: opts.LockTimeout,
		sem:     semaphore.NewWeighted(1),
	}
	if b.timeout <= 0 {
		b.timeout = DefaultLockTimeout
	}
	if opts.PreferExternal {
		if pix, free, err := allocExternal(n); err == nil {
			b.pix, b.free, b.src = pix, free, External
		}
	}
	if b.pix == nil {
		b.pix, b.src = make([]byte, n), Heap
	}
	return b, nil
}

// Cap returns the buffer length in bytes. It never changes.
func (b *Buffer) Cap() int {
	return len(b.pix)
}

// Source returns where the memory was allocated.
func (b *Buffer) Source() Source {
	return b.src
}

// Width returns the frame width in pixels.
func (b *Buffer) Width() int {
	return b.width
}

// Height returns the frame height in pixels.
func (b *Buffer) Height() int {
	return b.height
}

func (b *Buffer) lock() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w after %s", ErrLockTimeout, b.timeout)
	}
	return nil
}

func (b *Buffer) unlock() {
	b.sem.Release(1)
}

// WriteAt copies p at offset off. Nothing is copied when the range does not
// fit. The lock is held only for the copy.
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b.pix)) || int64(len(p)) > int64(len(b.pix))-off {
		return 0, fmt.Errorf("%w: %d bytes at %d, capacity %d", ErrOutOfBounds, len(p), off, len(b.pix))
	}
	if err := b.lock(); err != nil {
		return 0, err
	}
	n := copy(b.pix[off:], p)
	b.unlock()
	return n, nil
}

// Snapshot returns a copy of the whole buffer.
func (b *Buffer) Snapshot() ([]byte, error) {
	if err := b.lock(); err != nil {
		return nil, err
	}
	defer b.unlock()
	return append([]byte(nil), b.pix...), nil
}

// View locks the buffer for reading. No write happens until Release.
func (b *Buffer) View() (*View, error) {
	if err := b.lock(); err != nil {
		return nil, err
	}
	return &View{b: b}, nil
}

// Close releases external memory. The buffer must not be used afterwards.
func (b *Buffer) Close() error {
	if b.free == nil {
		return nil
	}
	if err := b.lock(); err != nil {
		return err
	}
	defer b.unlock()
	err := b.free()
	b.free, b.pix = nil, nil
	return err
}

// View is a read view of a Buffer.
type View struct {
	once sync.Once
	b    *Buffer
}

// Bytes returns the frame. The slice is only valid until Release.
func (v *View) Bytes() []byte {
	return v.b.pix
}

// Len returns the frame length.
func (v *View) Len() int {
	return len(v.b.pix)
}

// Release unlocks the buffer. Calling it more than once is harmless.
func (v *View) Release() {
	v.once.Do(v.b.unlock)
}

var _ io.WriterAt = &Buffer{}

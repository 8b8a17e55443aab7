// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cmdqueue is the bounded command channel between the upload side
// and the display goroutine.
//
// Besides the usual non-blocking enqueue, it can atomically replace all
// pending commands by a new one. This is what an upload does while the
// panel is refreshing: queued work is stale as soon as a newer frame
// arrives.
package cmdqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GermanBionicSystems/epaper/spectra6"
)

// ErrClosed is returned by Dequeue once the queue is closed and empty.
var ErrClosed = errors.New("cmdqueue: closed")

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 3

// Kind identifies a display command.
type Kind uint8

// Commands understood by the display goroutine.
const (
	_ Kind = iota
	ShowBuffer
	ShowTestPattern
	Clear
	Sleep
)

func (k Kind) String() string {
	switch k {
	case 0:
		return "none"
	case ShowBuffer:
		return "ShowBuffer"
	case ShowTestPattern:
		return "ShowTestPattern"
	case Clear:
		return "Clear"
	case Sleep:
		return "Sleep"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Command is a self contained request. Color is only used by Clear.
type Command struct {
	Kind  Kind
	Color spectra6.Color
}

func (c Command) String() string {
	if c.Kind == Clear {
		return fmt.Sprintf("Clear(%s)", c.Color)
	}
	return c.Kind.String()
}

// Queue is a bounded FIFO of commands, safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	items  []Command
	cap    int
	closed bool
	// notify holds a token while items may be non-empty.
	notify chan struct{}
}

// New returns an empty queue holding at most capacity commands.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:  make([]Command, 0, capacity),
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryEnqueue appends cmd unless the queue is full or closed.
func (q *Queue) TryEnqueue(cmd Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.items) >= q.cap {
		return false
	}
	q.items = append(q.items, cmd)
	q.signal()
	return true
}

// DrainAndEnqueue drops every pending command and leaves cmd as the only
// one. It returns how many commands were dropped. On a closed queue cmd is
// dropped too and -1 is returned.
func (q *Queue) DrainAndEnqueue(cmd Command) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return -1
	}
	dropped := len(q.items)
	q.items = append(q.items[:0], cmd)
	q.signal()
	return dropped
}

// Dequeue blocks until a command is available.
func (q *Queue) Dequeue(ctx context.Context) (Command, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			cmd := q.items[0]
			copy(q.items, q.items[1:])
			q.items = q.items[:len(q.items)-1]
			if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return cmd, nil
		}
		if q.closed {
			// Wake the next waiter too.
			q.signal()
			q.mu.Unlock()
			return Command{}, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Command{}, ctx.Err()
		}
	}
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.cap
}

// Close stops accepting commands. Pending commands can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.signal()
}

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ingest

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/GermanBionicSystems/epaper/framebuffer"
)

var (
	// ErrSizeMismatch is returned by End when the upload is not exactly one
	// frame.
	ErrSizeMismatch = errors.New("ingest: size mismatch")
	// ErrQueueFull is returned when the command could not be queued.
	ErrQueueFull = errors.New("ingest: command queue full")
	// ErrDisplayFailed is returned while the panel is in the failed state.
	ErrDisplayFailed = errors.New("ingest: display failed")
	// ErrNotReceiving is returned by WriteChunk and End outside an upload.
	ErrNotReceiving = errors.New("ingest: no upload in progress")
	// ErrUploadInProgress is returned by the HTTP handler when another
	// client is uploading.
	ErrUploadInProgress = errors.New("ingest: another upload is in progress")
)

// Reason is a stable machine readable rejection code.
type Reason string

// Rejection reasons.
const (
	OutOfBounds      Reason = "out_of_bounds"
	SizeMismatch     Reason = "size_mismatch"
	LockTimeout      Reason = "lock_timeout"
	QueueFull        Reason = "queue_full"
	DisplayFailed    Reason = "display_failed"
	NotReceiving     Reason = "not_receiving"
	UploadInProgress Reason = "upload_in_progress"
)

// Rejection is the error returned for every refused upload or command.
type Rejection struct {
	Reason Reason
	Err    error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%v (%s)", r.Err, r.Reason)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Retryable reports whether the same request may succeed later. A failed
// display is terminal until the daemon restarts.
func (r *Rejection) Retryable() bool {
	switch r.Reason {
	case LockTimeout, QueueFull, UploadInProgress:
		return true
	}
	return false
}

// StatusCode returns the HTTP status for the rejection.
func (r *Rejection) StatusCode() int {
	switch r.Reason {
	case OutOfBounds:
		return http.StatusRequestEntityTooLarge
	case SizeMismatch:
		return http.StatusBadRequest
	case NotReceiving, UploadInProgress:
		return http.StatusConflict
	case LockTimeout, QueueFull, DisplayFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// reject wraps err in a Rejection, deriving the reason from it.
func reject(err error) *Rejection {
	var r *Rejection
	if errors.As(err, &r) {
		return r
	}
	reason := Reason("internal")
	switch {
	case errors.Is(err, framebuffer.ErrOutOfBounds):
		reason = OutOfBounds
	case errors.Is(err, framebuffer.ErrLockTimeout):
		reason = LockTimeout
	case errors.Is(err, ErrSizeMismatch):
		reason = SizeMismatch
	case errors.Is(err, ErrQueueFull):
		reason = QueueFull
	case errors.Is(err, ErrDisplayFailed):
		reason = DisplayFailed
	case errors.Is(err, ErrNotReceiving):
		reason = NotReceiving
	case errors.Is(err, ErrUploadInProgress):
		reason = UploadInProgress
	}
	return &Rejection{Reason: reason, Err: err}
}

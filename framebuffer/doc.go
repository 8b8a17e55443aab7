// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package framebuffer holds the single packed frame shared between the
// upload side and the display side.
//
// The buffer is allocated once and never resized. Writers copy chunks in
// with WriteAt; the display side takes a View for the duration of a panel
// transmission. Both wait at most Opts.LockTimeout for the lock, so an
// upload never stalls behind a refresh for longer than that.
package framebuffer

// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package epaper is a container for the packages driving a 6-colour e-paper
// panel from a network upload endpoint.
//
// The display side lives in spectra6 (panel protocol), framebuffer (shared
// packed pixels), cmdqueue (pending display commands) and controller (the
// goroutine owning the panel). The upload side lives in ingest. The daemon
// in cmd/epaperd wires them together.
package epaper

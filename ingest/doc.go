// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ingest accepts frames from clients and hands them to the display
// goroutine.
//
// An Endpoint runs the upload state machine independently of any transport:
// Begin, a series of WriteChunk, then End. Handler exposes it over HTTP
// together with the status and command routes.
//
// Every refusal is returned as a *Rejection carrying a stable reason code,
// so that no upload is ever dropped without the client being told.
package ingest

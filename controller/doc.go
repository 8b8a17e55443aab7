// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package controller runs the display goroutine: the only code allowed to
// talk to the panel.
//
// It dequeues commands one at a time and runs them to completion, including
// the physical refresh which takes tens of seconds. Progress is published
// as a Status snapshot that other goroutines read without ever waiting for
// the panel.
package controller

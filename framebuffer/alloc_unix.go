// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build unix

package framebuffer

import (
	"golang.org/x/sys/unix"
)

// allocExternal maps n zeroed bytes of anonymous private memory.
func allocExternal(n int) ([]byte, func() error, error) {
	pix, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return pix, func() error { return unix.Munmap(pix) }, nil
}

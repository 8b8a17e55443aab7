// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package framebuffer

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newBuffer(t *testing.T, w, h int, opts *Opts) *Buffer {
	t.Helper()
	b, err := New(w, h, opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	})
	return b
}

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts *Opts
	}{
		{"heap", nil},
		{"external", &Opts{PreferExternal: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := newBuffer(t, 800, 480, tc.opts)
			if got, want := b.Cap(), 192000; got != want {
				t.Errorf("Cap() = %d, want %d", got, want)
			}
			if tc.opts == nil && b.Source() != Heap {
				t.Errorf("Source() = %s, want %s", b.Source(), Heap)
			}
			snap, err := b.Snapshot()
			if err != nil {
				t.Fatalf("Snapshot() failed: %v", err)
			}
			if !bytes.Equal(snap, make([]byte, 192000)) {
				t.Error("new buffer is not zeroed")
			}
		})
	}

	for _, size := range [][2]int{{0, 480}, {800, -1}, {3, 3}} {
		if _, err := New(size[0], size[1], nil); err == nil {
			t.Errorf("New(%d, %d) succeeded, want error", size[0], size[1])
		}
	}
}

func TestWriteAtRoundTrip(t *testing.T) {
	b := newBuffer(t, 8, 4, nil)

	for i, chunk := range [][]byte{{0x01, 0x23}, {0x45, 0x50, 0x11}, {0x22, 0x33}} {
		off := int64(i * 5)
		n, err := b.WriteAt(chunk, off)
		if err != nil {
			t.Fatalf("WriteAt(%d) failed: %v", off, err)
		}
		if n != len(chunk) {
			t.Errorf("WriteAt(%d) = %d, want %d", off, n, len(chunk))
		}
	}

	v, err := b.View()
	if err != nil {
		t.Fatalf("View() failed: %v", err)
	}
	want := []byte{0x01, 0x23, 0, 0, 0, 0x45, 0x50, 0x11, 0, 0, 0x22, 0x33, 0, 0, 0, 0}
	if diff := cmp.Diff(v.Bytes(), want); diff != "" {
		t.Errorf("View() difference (-got +want):\n%s", diff)
	}
	if v.Len() != 16 {
		t.Errorf("Len() = %d, want 16", v.Len())
	}
	v.Release()
	v.Release()
}

func TestWriteAtOutOfBounds(t *testing.T) {
	b := newBuffer(t, 4, 4, nil)
	if _, err := b.WriteAt([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 0); err != nil {
		t.Fatalf("WriteAt() failed: %v", err)
	}

	for _, tc := range []struct {
		off int64
		n   int
	}{
		{7, 2},
		{8, 1},
		{-1, 1},
		{0, 9},
		{1 << 62, 1},
	} {
		if _, err := b.WriteAt(make([]byte, tc.n), tc.off); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("WriteAt(%d bytes at %d) = %v, want %v", tc.n, tc.off, err, ErrOutOfBounds)
		}
	}

	snap, err := b.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(snap, []byte{1, 2, 3, 4, 5, 6, 7, 8}); diff != "" {
		t.Errorf("rejected write modified the buffer (-got +want):\n%s", diff)
	}

	if _, err := b.WriteAt(nil, 8); err != nil {
		t.Errorf("WriteAt(empty at end) = %v, want nil", err)
	}
}

func TestLockTimeout(t *testing.T) {
	b := newBuffer(t, 4, 2, &Opts{LockTimeout: 10 * time.Millisecond})

	v, err := b.View()
	if err != nil {
		t.Fatalf("View() failed: %v", err)
	}

	start := time.Now()
	if _, err := b.WriteAt([]byte{0x11}, 0); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("WriteAt() while viewed = %v, want %v", err, ErrLockTimeout)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("WriteAt() gave up after %v, want at least 10ms", elapsed)
	}
	if _, err := b.View(); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("View() while viewed = %v, want %v", err, ErrLockTimeout)
	}

	v.Release()
	if _, err := b.WriteAt([]byte{0x11}, 0); err != nil {
		t.Errorf("WriteAt() after Release() = %v", err)
	}
}

func TestConcurrentDisjointWrites(t *testing.T) {
	b := newBuffer(t, 800, 480, &Opts{LockTimeout: time.Second})
	const writers = 8
	part := b.Cap() / writers

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chunk := bytes.Repeat([]byte{byte(i)}, 1000)
			for off := 0; off < part; off += len(chunk) {
				if _, err := b.WriteAt(chunk, int64(i*part+off)); err != nil {
					t.Errorf("WriteAt() failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	snap, err := b.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < writers; i++ {
		if want := bytes.Repeat([]byte{byte(i)}, part); !bytes.Equal(snap[i*part:(i+1)*part], want) {
			t.Errorf("range %d was not written intact", i)
		}
	}
}

func TestSource(t *testing.T) {
	if got := External.String(); got != "external" {
		t.Errorf("String() = %q", got)
	}
	if got, _ := Heap.MarshalText(); string(got) != "heap" {
		t.Errorf("MarshalText() = %q", got)
	}
}

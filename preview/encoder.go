// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"sync"
)

// bufferPool stores reusable []byte instances.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return []byte(nil)
	},
}

type pngBufferPool sync.Pool

func (p *pngBufferPool) Get() *png.EncoderBuffer {
	buf, _ := (*sync.Pool)(p).Get().(*png.EncoderBuffer)
	return buf
}

func (p *pngBufferPool) Put(buf *png.EncoderBuffer) {
	(*sync.Pool)(p).Put(buf)
}

// The panel has six flat colours: fast compression is plenty.
var pngEncoder = png.Encoder{
	CompressionLevel: png.BestSpeed,
	BufferPool:       &pngBufferPool{},
}

var jpegOptions = jpeg.Options{Quality: 90}

// encode appends img encoded as f to a pooled buffer.
func encode(img image.Image, f Format) ([]byte, error) {
	buf := bytes.NewBuffer(bufferPool.Get().([]byte)[:0])
	var err error
	switch f {
	case PNG:
		err = pngEncoder.Encode(buf, img)
	case JPEG:
		err = jpeg.Encode(buf, img, &jpegOptions)
	default:
		err = fmt.Errorf("preview: unhandled image format %s", f)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

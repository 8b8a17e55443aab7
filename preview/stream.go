// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package preview

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/textproto"
	"strconv"
)

type client struct {
	refresh   chan struct{}
	terminate chan struct{}
}

// grabSnapshot returns the current frame encoded as f in a pooled buffer the
// caller must put back.
func (p *Preview) grabSnapshot(f Format) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	encoded, ok := p.snapshot[f]
	if !ok {
		var err error
		if encoded, err = encode(p.frame, f); err != nil {
			return nil, err
		}
		p.snapshot[f] = encoded
	}
	return append(bufferPool.Get().([]byte)[:0], encoded...), nil
}

// ServeHTTP sends the current frame then a new image after every panel
// update. "?format=png" or "?format=jpeg" selects the image format;
// "?single=1" returns one plain image instead of a stream.
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	f := p.defaultFormat
	if v := r.URL.Query().Get("format"); v != "" {
		var err error
		if f, err = ParseFormat(v); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if r.URL.Query().Get("single") != "" {
		payload, err := p.grabSnapshot(f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", f.mimeType())
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
		//lint:ignore SA6002 buffer is []byte and thus pointer-like
		bufferPool.Put(payload)
		return
	}

	pw := makePartWriter(w)
	w.Header().Set("Content-Type",
		mime.FormatMediaType("multipart/x-mixed-replace", map[string]string{
			"boundary": pw.boundary,
		}))

	c := &client{
		refresh:   make(chan struct{}, 1),
		terminate: make(chan struct{}, 1),
	}
	p.mu.Lock()
	p.clients[c] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.clients, c)
		p.mu.Unlock()
	}()
	p.log.Debug("preview client", "remote", r.RemoteAddr, "format", f)

	partHeaders := make(textproto.MIMEHeader)
	partHeaders.Set("Content-Type", f.mimeType())
	partHeaders.Set("Content-Transfer-Encoding", "binary")

	for {
		payload, err := p.grabSnapshot(f)
		if err == nil {
			err = pw.writeFrame(partHeaders, payload)
			//lint:ignore SA6002 buffer is []byte and thus pointer-like
			bufferPool.Put(payload)
		}
		if err != nil {
			// There is no way to report an error inside an image stream.
			p.log.Debug("preview client gone", "remote", r.RemoteAddr, "err", err)
			return
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		select {
		case <-c.refresh:
		case <-c.terminate:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// randomBoundary generates a MIME multipart boundary compatible with RFC 2046
// (section 5.1.1).
func randomBoundary() string {
	var buf [34]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", buf[:])
}

type partWriter struct {
	u        io.Writer
	boundary string
	started  bool
}

func makePartWriter(u io.Writer) partWriter {
	return partWriter{
		u:        u,
		boundary: randomBoundary(),
	}
}

// writeFrame sends one part of the never ending multipart entity, followed
// by the boundary so that the client can show it right away.
// mime/multipart.Writer only writes the boundary before the next part.
//
// The caller-owned headers are modified to set a Content-Length header.
func (w *partWriter) writeFrame(header textproto.MIMEHeader, body []byte) error {
	header.Set("Content-Length", strconv.Itoa(len(body)))

	var buf bytes.Buffer
	if !w.started {
		fmt.Fprintf(&buf, "--%s\r\n", w.boundary)
		w.started = true
	}
	for name, values := range header {
		for _, v := range values {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, v)
		}
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	fmt.Fprintf(&buf, "\r\n--%s\r\n", w.boundary)

	_, err := buf.WriteTo(w.u)
	return err
}

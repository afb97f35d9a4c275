// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the HTTP handlers of the chat service.
package handlers

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/mashura-ai/mashura/pkg/streamio"
)

// StreamWriter puts wire frames onto an HTTP response, flushing after every
// frame so fragments reach the client as they are generated.
//
// # Thread Safety
//
// Writes are serialized with a mutex: the event loop and the heartbeat
// ticker share one writer.
type StreamWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStreamWriter prepares the response for streaming: headers, status, and
// an immediate flush so proxies open the pipe before the first chunk.
func NewStreamWriter(w http.ResponseWriter) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &StreamWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends one event frame.
func (s *StreamWriter) WriteEvent(ev streamio.Event) error {
	frame, err := streamio.EncodeFrame(ev)
	if err != nil {
		return err
	}
	return s.write(frame)
}

// WriteDone sends the terminal sentinel frame.
func (s *StreamWriter) WriteDone() error {
	return s.write(streamio.DoneFrame())
}

// WriteKeepAlive sends a comment frame that resets intermediary idle timers.
func (s *StreamWriter) WriteKeepAlive() error {
	return s.write(streamio.KeepAliveFrame())
}

func (s *StreamWriter) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("write stream frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package streamio defines the wire format of the chat event stream and a
// decoder for consuming it.
//
// # Grammar
//
// A stream is a sequence of frames separated by a blank line, terminated by
// the done sentinel:
//
//	stream = *frame done-frame
//	frame  = "data: " event-json LF LF
//	done   = "data: [DONE]" LF LF
//
// where event-json is one of:
//
//	{"type":"chunk","content":"<fragment>"}
//	{"type":"complete","content":"<final>","conversation_id":"...","message_id":"..."}
//	{"type":"error","error":"<reason>"}
//
// Lines beginning with ":" are keepalive comments and carry no event.
// A data frame that fails to parse as JSON is skipped, never fatal.
//
// The complete event's Content is the authoritative final text. It equals
// the concatenated chunk contents except when the server post-processed the
// answer after streaming, so renderers must replace, not append.
package streamio

import (
	"encoding/json"
	"fmt"
)

// EventType tags a wire event.
type EventType string

const (
	// EventChunk carries one incremental fragment of the answer.
	EventChunk EventType = "chunk"

	// EventComplete carries the final answer text and turn metadata. It is
	// the last event of a successful stream, before the done sentinel.
	EventComplete EventType = "complete"

	// EventError reports a generation failure. Chunks already delivered
	// remain delivered; the sentinel still follows.
	EventError EventType = "error"
)

// DoneSentinel is the literal payload of the terminal frame.
const DoneSentinel = "[DONE]"

const (
	dataPrefix     = "data: "
	commentPrefix  = ":"
	frameDelimiter = "\n\n"
)

// Event is one tagged wire event. Exactly the fields for its Type are set.
type Event struct {
	Type             EventType `json:"type"`
	Content          string    `json:"content,omitempty"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	MessageID        string    `json:"message_id,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms,omitempty"`
	Error            string    `json:"error,omitempty"`

	// Status classifies an error event for server-side accounting
	// (generation_error, persistence_error). Never crosses the wire.
	Status string `json:"-"`
}

// EncodeFrame serializes an event as one wire frame, delimiter included.
func EncodeFrame(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal stream event: %w", err)
	}
	return []byte(dataPrefix + string(data) + frameDelimiter), nil
}

// DoneFrame returns the terminal sentinel frame.
func DoneFrame() []byte {
	return []byte(dataPrefix + DoneSentinel + frameDelimiter)
}

// KeepAliveFrame returns a comment frame that clients ignore. It resets
// intermediary idle timers without emitting an event.
func KeepAliveFrame() []byte {
	return []byte(": ping" + frameDelimiter)
}

// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streamio

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader yields the underlying data n bytes at a time, forcing the
// decoder to reassemble frames split at arbitrary boundaries.
type chunkedReader struct {
	data []byte
	pos  int
	n    int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	end := r.pos + r.n
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

// eagerEOFReader returns all its data and io.EOF in the same Read call,
// as io.Reader permits and HTTP response bodies commonly do.
type eagerEOFReader struct {
	data []byte
	done bool
}

func (r *eagerEOFReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	r.done = true
	n := copy(p, r.data)
	return n, io.EOF
}

func encodeAll(t *testing.T, events []Event) []byte {
	t.Helper()
	var out []byte
	for _, ev := range events {
		frame, err := EncodeFrame(ev)
		require.NoError(t, err)
		out = append(out, frame...)
	}
	out = append(out, DoneFrame()...)
	return out
}

// TestDecoder_Next_FullStream verifies a well-formed stream is decoded in
// order and terminates at the sentinel.
func TestDecoder_Next_FullStream(t *testing.T) {
	events := []Event{
		{Type: EventChunk, Content: "Hel"},
		{Type: EventChunk, Content: "lo"},
		{Type: EventComplete, Content: "Hello", ConversationID: "c-1", MessageID: "m-1"},
	}
	d := NewDecoder(strings.NewReader(string(encodeAll(t, events))))

	for _, want := range events {
		got, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := d.Next()
	assert.ErrorIs(t, err, ErrStreamDone)
}

// TestDecoder_Next_ArbitraryByteBoundaries verifies that frames split across
// reads — including mid-rune splits of multibyte text — are reassembled.
func TestDecoder_Next_ArbitraryByteBoundaries(t *testing.T) {
	events := []Event{
		{Type: EventChunk, Content: "وفقاً "},
		{Type: EventChunk, Content: "للنظام"},
		{Type: EventComplete, Content: "وفقاً للنظام", ConversationID: "c-2", MessageID: "m-2"},
	}
	raw := encodeAll(t, events)

	for _, size := range []int{1, 2, 3, 7, 16} {
		d := NewDecoder(&chunkedReader{data: raw, n: size})

		var got []Event
		err := d.Consume(context.Background(), func(ev Event) error {
			got = append(got, ev)
			return nil
		})
		require.NoError(t, err, "read size %d", size)
		assert.Equal(t, events, got, "read size %d", size)
	}
}

// TestDecoder_Next_MalformedFrameSkipped verifies that an unparseable frame
// is skipped and counted while the stream continues.
func TestDecoder_Next_MalformedFrameSkipped(t *testing.T) {
	raw := "data: {\"type\":\"chunk\",\"content\":\"a\"}\n\n" +
		"data: {not json}\n\n" +
		"garbage without prefix\n\n" +
		"data: {\"type\":\"complete\",\"content\":\"a\"}\n\n" +
		"data: [DONE]\n\n"
	d := NewDecoder(strings.NewReader(raw))

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, EventChunk, ev.Type)

	ev, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, EventComplete, ev.Type)

	_, err = d.Next()
	assert.ErrorIs(t, err, ErrStreamDone)
	assert.Equal(t, 2, d.Skipped(), "both malformed frames should be counted")
}

// TestDecoder_Next_CommentsIgnored verifies keepalive comments produce no
// events and are not counted as skips.
func TestDecoder_Next_CommentsIgnored(t *testing.T) {
	raw := string(KeepAliveFrame()) +
		"data: {\"type\":\"chunk\",\"content\":\"x\"}\n\n" +
		string(KeepAliveFrame()) +
		"data: [DONE]\n\n"
	d := NewDecoder(strings.NewReader(raw))

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "x", ev.Content)

	_, err = d.Next()
	assert.ErrorIs(t, err, ErrStreamDone)
	assert.Zero(t, d.Skipped())
}

// TestDecoder_Next_NothingAfterSentinel verifies that frames arriving after
// the sentinel are never delivered.
func TestDecoder_Next_NothingAfterSentinel(t *testing.T) {
	raw := "data: [DONE]\n\n" +
		"data: {\"type\":\"chunk\",\"content\":\"late\"}\n\n"
	d := NewDecoder(strings.NewReader(raw))

	_, err := d.Next()
	assert.ErrorIs(t, err, ErrStreamDone)

	// Repeated calls stay terminal.
	_, err = d.Next()
	assert.ErrorIs(t, err, ErrStreamDone)
}

// TestDecoder_Next_EOFWithoutSentinel verifies a truncated stream surfaces
// io.EOF after draining complete frames.
func TestDecoder_Next_EOFWithoutSentinel(t *testing.T) {
	raw := "data: {\"type\":\"chunk\",\"content\":\"a\"}\n\n"
	d := NewDecoder(strings.NewReader(raw))

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Content)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

// TestDecoder_Next_SkippableFramesBeforeSentinelOnFinalRead verifies that a
// read delivering data together with its error still drains past skippable
// frames: a malformed frame buffered ahead of the sentinel must not turn a
// cleanly terminated stream into a truncated one.
func TestDecoder_Next_SkippableFramesBeforeSentinelOnFinalRead(t *testing.T) {
	raw := "data: garbage\n\n" +
		"data: [DONE]\n\n"
	d := NewDecoder(&eagerEOFReader{data: []byte(raw)})

	_, err := d.Next()
	assert.ErrorIs(t, err, ErrStreamDone)
	assert.Equal(t, 1, d.Skipped())
}

// TestDecoder_Next_EventBehindSkipsOnFinalRead verifies a buffered complete
// event is delivered even when comments and malformed frames precede it in
// the final read.
func TestDecoder_Next_EventBehindSkipsOnFinalRead(t *testing.T) {
	raw := string(KeepAliveFrame()) +
		"data: {not json}\n\n" +
		"data: {\"type\":\"complete\",\"content\":\"الإجابة\"}\n\n" +
		"data: [DONE]\n\n"
	d := NewDecoder(&eagerEOFReader{data: []byte(raw)})

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, EventComplete, ev.Type)
	assert.Equal(t, "الإجابة", ev.Content)

	_, err = d.Next()
	assert.ErrorIs(t, err, ErrStreamDone)
}

// TestDecoder_Consume_ReassemblyLaw verifies that concatenated chunk content
// equals the complete event's content for a stream that completes.
func TestDecoder_Consume_ReassemblyLaw(t *testing.T) {
	parts := []string{"ال", "عقد ", "شريعة ", "المتعاقدين"}
	var events []Event
	var final strings.Builder
	for _, p := range parts {
		events = append(events, Event{Type: EventChunk, Content: p})
		final.WriteString(p)
	}
	events = append(events, Event{Type: EventComplete, Content: final.String()})

	d := NewDecoder(&chunkedReader{data: encodeAll(t, events), n: 5})

	var assembled strings.Builder
	var complete string
	err := d.Consume(context.Background(), func(ev Event) error {
		switch ev.Type {
		case EventChunk:
			assembled.WriteString(ev.Content)
		case EventComplete:
			complete = ev.Content
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, complete, assembled.String())
}

// TestDecoder_Consume_ContextCancelled verifies consumption stops between
// events once the context is cancelled.
func TestDecoder_Consume_ContextCancelled(t *testing.T) {
	events := []Event{
		{Type: EventChunk, Content: "one"},
		{Type: EventChunk, Content: "two"},
		{Type: EventComplete, Content: "onetwo"},
	}
	d := NewDecoder(strings.NewReader(string(encodeAll(t, events))))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := d.Consume(ctx, func(ev Event) error {
		calls++
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "no callback after cancellation")
}

// TestDecoder_Consume_CallbackError verifies a callback error aborts
// consumption and is returned unchanged.
func TestDecoder_Consume_CallbackError(t *testing.T) {
	events := []Event{{Type: EventChunk, Content: "x"}}
	d := NewDecoder(strings.NewReader(string(encodeAll(t, events))))

	sentinel := errors.New("stop here")
	err := d.Consume(context.Background(), func(Event) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

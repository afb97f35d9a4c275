// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package streamio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// ErrStreamDone is returned by Next once the done sentinel has been read.
// No further events are delivered after it, even if more bytes arrive.
var ErrStreamDone = errors.New("streamio: stream done")

// Decoder reads wire frames from an io.Reader and yields Events.
//
// The decoder buffers input until a full frame delimiter is seen, so a
// logical event split across any number of reads — at arbitrary byte
// boundaries, including mid-rune — is reassembled before parsing. Frames
// that fail to parse are skipped and counted, never fatal. Comment frames
// are discarded silently.
//
// Not safe for concurrent use; one goroutine owns a Decoder.
type Decoder struct {
	r       io.Reader
	buf     bytes.Buffer
	read    []byte
	done    bool
	skipped int
	logger  *slog.Logger
}

// NewDecoder creates a Decoder over r. Log output for skipped frames goes
// to slog's default logger; override with WithLogger.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:      r,
		read:   make([]byte, 4096),
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used for skipped-frame warnings.
func (d *Decoder) WithLogger(logger *slog.Logger) *Decoder {
	d.logger = logger
	return d
}

// Skipped reports how many malformed frames were discarded so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Next returns the next event in the stream.
//
// It returns ErrStreamDone once the sentinel frame is read, io.EOF if the
// stream ends without a sentinel, and any underlying read error otherwise.
func (d *Decoder) Next() (Event, error) {
	if d.done {
		return Event{}, ErrStreamDone
	}

	for {
		if frame, ok := d.nextFrame(); ok {
			ev, state := d.parseFrame(frame)
			switch state {
			case frameEvent:
				return ev, nil
			case frameDone:
				d.done = true
				return Event{}, ErrStreamDone
			default:
				continue // skipped or comment
			}
		}

		n, err := d.r.Read(d.read)
		if n > 0 {
			d.buf.Write(d.read[:n])
		}
		if err != nil {
			// Drain whatever complete frames remain in the buffer before
			// surfacing the error. Skippable frames (comments, malformed)
			// must not mask a buffered event or the sentinel behind them.
			for {
				frame, ok := d.nextFrame()
				if !ok {
					break
				}
				ev, state := d.parseFrame(frame)
				switch state {
				case frameEvent:
					return ev, nil
				case frameDone:
					d.done = true
					return Event{}, ErrStreamDone
				}
			}
			return Event{}, err
		}
	}
}

type frameState int

const (
	frameSkip frameState = iota
	frameEvent
	frameDone
)

// nextFrame pops one delimiter-terminated frame off the buffer.
func (d *Decoder) nextFrame() (string, bool) {
	raw := d.buf.Bytes()
	idx := bytes.Index(raw, []byte(frameDelimiter))
	if idx < 0 {
		return "", false
	}
	frame := string(raw[:idx])
	d.buf.Next(idx + len(frameDelimiter))
	return frame, true
}

func (d *Decoder) parseFrame(frame string) (Event, frameState) {
	frame = strings.TrimSpace(frame)
	if frame == "" || strings.HasPrefix(frame, commentPrefix) {
		return Event{}, frameSkip
	}

	if !strings.HasPrefix(frame, dataPrefix) {
		d.skipped++
		d.logger.Warn("stream decoder: frame without data prefix skipped",
			"frame_bytes", len(frame),
		)
		return Event{}, frameSkip
	}

	payload := strings.TrimPrefix(frame, dataPrefix)
	if payload == DoneSentinel {
		return Event{}, frameDone
	}

	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		d.skipped++
		d.logger.Warn("stream decoder: malformed event skipped",
			"error", err,
			"frame_bytes", len(payload),
		)
		return Event{}, frameSkip
	}
	return ev, frameEvent
}

// Consume pulls events until the sentinel, the end of input, or context
// cancellation, invoking fn for each event. A non-nil error from fn aborts
// consumption and is returned. Reaching the sentinel returns nil.
//
// Cancellation is checked between events; callers who need the underlying
// connection released promptly should also close the reader when the
// context is cancelled (http response bodies already behave this way when
// the request context is cancelled).
func (d *Decoder) Consume(ctx context.Context, fn func(Event) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := d.Next()
		if errors.Is(err, ErrStreamDone) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

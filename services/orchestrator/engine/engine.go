// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine produces retrieval-augmented answers as a pull stream of
// text fragments.
package engine

import (
	"context"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
)

// Stream is a pull iterator over the fragments of one generated answer.
//
// The consumer drives the stream: each Next call awaits and returns the
// next fragment, so abandoning the stream (Close without draining) stops
// token consumption promptly.
type Stream interface {
	// Next returns the next fragment. io.EOF signals normal exhaustion;
	// any other error is a generation failure.
	Next(ctx context.Context) (string, error)

	// Documents returns the source documents retrieval produced for this
	// answer, ordered by rank. Available from the start of the stream.
	Documents() []datatypes.RetrievedDocument

	// Close releases the underlying connection. Safe to call repeatedly
	// and concurrently with a blocked Next.
	Close() error
}

// AnswerEngine generates an answer to a query given the dialogue history.
type AnswerEngine interface {
	Generate(ctx context.Context, query string, history []datatypes.Turn) (Stream, error)
}

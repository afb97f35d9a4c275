// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package contextual builds the dialogue history window handed to the
// answering engine.
package contextual

import (
	"context"
	"fmt"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
	"github.com/mashura-ai/mashura/services/orchestrator/store"
)

// DefaultMaxMessages is the context window size when none is configured.
const DefaultMaxMessages = 10

// Assembler reads the most recent turns of a conversation and orders them
// chronologically. Read-only; it never writes to the store.
type Assembler struct {
	store       store.ConversationStore
	maxMessages int
}

// NewAssembler creates an Assembler over the given store. maxMessages <= 0
// selects the default window size.
func NewAssembler(s store.ConversationStore, maxMessages int) *Assembler {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Assembler{store: s, maxMessages: maxMessages}
}

// GetContext returns up to maxMessages of the conversation's most recent
// turns, oldest first. A conversation with no messages yields an empty
// slice.
func (a *Assembler) GetContext(ctx context.Context, conversationID string) ([]datatypes.Turn, error) {
	msgs, err := a.store.RecentMessages(ctx, conversationID, a.maxMessages)
	if err != nil {
		return nil, fmt.Errorf("assemble context: %w", err)
	}

	// The store returns newest first; the engine expects dialogue order.
	turns := make([]datatypes.Turn, len(msgs))
	for i, m := range msgs {
		turns[len(msgs)-1-i] = datatypes.Turn{Role: m.Role, Content: m.Content}
	}
	return turns, nil
}

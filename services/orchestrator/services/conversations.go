// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
)

// defaultMessagePageSize bounds message listings when no limit is given.
const defaultMessagePageSize = 50

// ListConversations returns the identity's conversations, most recently
// active first.
func (s *ChatService) ListConversations(ctx context.Context, identity datatypes.Identity) ([]datatypes.Conversation, error) {
	return s.storeFor(identity).ListConversations(ctx, identity)
}

// Messages returns up to limit messages of an owned conversation in
// chronological order. limit <= 0 selects the default page size.
func (s *ChatService) Messages(ctx context.Context, identity datatypes.Identity, conversationID string, limit int) ([]datatypes.Message, error) {
	st := s.storeFor(identity)

	if _, err := st.GetConversation(ctx, identity, conversationID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultMessagePageSize
	}
	msgs, err := st.RecentMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}

	// Newest first from the store; oldest first on the wire.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteConversation removes an owned conversation and its messages.
func (s *ChatService) DeleteConversation(ctx context.Context, identity datatypes.Identity, conversationID string) error {
	return s.storeFor(identity).DeleteConversation(ctx, identity, conversationID)
}

// Usage reports the identity's current quota cycle without consuming it.
func (s *ChatService) Usage(identity datatypes.Identity) datatypes.UsageResponse {
	cycle := s.governor.Usage(identity)
	return datatypes.UsageResponse{
		Count:   cycle.Count,
		Max:     cycle.Max,
		ResetAt: cycle.CycleResetAt,
	}
}

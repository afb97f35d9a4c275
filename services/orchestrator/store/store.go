// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists conversations and messages.
//
// Two implementations share one interface: a Weaviate-backed store for
// authenticated users, whose history must survive restarts, and a sharded
// in-memory store for guest sessions, whose history is process-lifetime only.
package store

import (
	"context"
	"errors"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
)

// ErrConversationNotFound is returned when a conversation id does not exist
// or is not owned by the requesting identity. Ownership failures are not
// distinguished from absence, so ids cannot be probed across identities.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStore is the persistence boundary of the chat pipeline.
//
// Messages are append-only. RecentMessages returns newest first; callers
// that need dialogue order reverse the slice.
type ConversationStore interface {
	// CreateConversation creates an empty conversation owned by identity.
	CreateConversation(ctx context.Context, owner datatypes.Identity, title string) (datatypes.Conversation, error)

	// GetConversation fetches a conversation owned by identity.
	GetConversation(ctx context.Context, owner datatypes.Identity, id string) (datatypes.Conversation, error)

	// ListConversations returns all conversations owned by identity, most
	// recently updated first.
	ListConversations(ctx context.Context, owner datatypes.Identity) ([]datatypes.Conversation, error)

	// DeleteConversation removes a conversation and all its messages.
	DeleteConversation(ctx context.Context, owner datatypes.Identity, id string) error

	// AppendMessage adds one message to a conversation and stamps the
	// conversation's updated time. processingTimeMs is meaningful for
	// assistant messages only; pass 0 otherwise.
	AppendMessage(ctx context.Context, conversationID, role, content string, processingTimeMs int64) (datatypes.Message, error)

	// RecentMessages returns up to limit messages, newest first. A
	// conversation with no messages yields an empty slice, not an error.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.Message, error)
}

// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures shared across the orchestrator
// service: identities, conversations, messages, stream events, and the
// request/response bodies of the HTTP boundary.
package datatypes

import "time"

// Message roles. Messages are append-only; a row is never mutated after
// creation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is a thread of messages owned by exactly one identity.
// For authenticated identities it is durable; for guests it lives in process
// memory only.
type Conversation struct {
	ID        string    `json:"id"`
	Owner     Identity  `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a conversation, ordered by CreatedAt.
//
// ProcessingTimeMs is populated on assistant messages only and records the
// wall-clock duration from admission to persistence of the answer.
type Message struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"created_at"`
	ProcessingTimeMs int64     `json:"processing_time_ms,omitempty"`
}

// Turn is a role/content pair in the shape the answering engine expects as
// dialogue history: chronological, oldest first.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RetrievedDocument is a source document the answering engine consulted.
// It is supplied alongside generated text, consumed only by the citation
// filter, and never persisted. Rank is the retrieval position, 0 being the
// most relevant.
type RetrievedDocument struct {
	Title string `json:"title"`
	Rank  int    `json:"rank"`
}

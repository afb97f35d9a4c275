// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
)

// Weaviate class names for durable chat state.
const (
	ClassConversation = "Conversation"
	ClassChatMessage  = "ChatMessage"
)

// WeaviateStore persists conversations and messages for authenticated users.
//
// # Description
//
// Conversations and messages are plain (unvectorized) objects; ordering and
// lookup go through GraphQL filters on the owner key and conversation id.
// Timestamps are stored as Unix milliseconds.
//
// Append serialization relies on the orchestrator processing one request per
// conversation at a time; the store itself performs no locking.
type WeaviateStore struct {
	client *weaviate.Client
	nowFn  func() time.Time
	logger *slog.Logger
}

// WeaviateOption configures a WeaviateStore.
type WeaviateOption func(*WeaviateStore)

// WithWeaviateNow overrides the time source. Used by tests.
func WithWeaviateNow(now func() time.Time) WeaviateOption {
	return func(s *WeaviateStore) { s.nowFn = now }
}

// WithWeaviateLogger overrides the default slog logger.
func WithWeaviateLogger(logger *slog.Logger) WeaviateOption {
	return func(s *WeaviateStore) { s.logger = logger }
}

// NewWeaviateStore creates a store over an already-connected client.
func NewWeaviateStore(client *weaviate.Client, opts ...WeaviateOption) *WeaviateStore {
	s := &WeaviateStore{
		client: client,
		nowFn:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the chat classes if they do not exist yet. Safe to
// call on every startup.
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	classes := []*models.Class{
		{
			Class:      ClassConversation,
			Vectorizer: "none",
			Properties: []*models.Property{
				{Name: "conversation_id", DataType: []string{"text"}},
				{Name: "owner", DataType: []string{"text"}},
				{Name: "title", DataType: []string{"text"}},
				{Name: "created_at", DataType: []string{"int"}},
				{Name: "updated_at", DataType: []string{"int"}},
			},
		},
		{
			Class:      ClassChatMessage,
			Vectorizer: "none",
			Properties: []*models.Property{
				{Name: "message_id", DataType: []string{"text"}},
				{Name: "conversation_id", DataType: []string{"text"}},
				{Name: "role", DataType: []string{"text"}},
				{Name: "content", DataType: []string{"text"}},
				{Name: "created_at", DataType: []string{"int"}},
				{Name: "processing_time_ms", DataType: []string{"int"}},
			},
		},
	}

	for _, class := range classes {
		exists, err := s.client.Schema().ClassExistenceChecker().
			WithClassName(class.Class).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("check class %s: %w", class.Class, err)
		}
		if exists {
			continue
		}
		if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("create class %s: %w", class.Class, err)
		}
		s.logger.Info("created weaviate class", "class", class.Class)
	}
	return nil
}

// conversationRow mirrors the GraphQL response shape for Conversation.
type conversationRow struct {
	ConversationID string `json:"conversation_id"`
	Owner          string `json:"owner"`
	Title          string `json:"title"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
	Additional     struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

type conversationQueryResponse struct {
	Get struct {
		Conversation []conversationRow `json:"Conversation"`
	} `json:"Get"`
}

// messageRow mirrors the GraphQL response shape for ChatMessage.
type messageRow struct {
	MessageID        string `json:"message_id"`
	ConversationID   string `json:"conversation_id"`
	Role             string `json:"role"`
	Content          string `json:"content"`
	CreatedAt        int64  `json:"created_at"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

type messageQueryResponse struct {
	Get struct {
		ChatMessage []messageRow `json:"ChatMessage"`
	} `json:"Get"`
}

// parseGraphQL converts the client's untyped response into a typed struct.
func parseGraphQL[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil graphql response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql data: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal graphql data: %w", err)
	}
	return &out, nil
}

// CreateConversation creates an empty conversation owned by identity.
func (s *WeaviateStore) CreateConversation(ctx context.Context, owner datatypes.Identity, title string) (datatypes.Conversation, error) {
	now := s.nowFn()
	conv := datatypes.Conversation{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	props := map[string]interface{}{
		"conversation_id": conv.ID,
		"owner":           owner.Key(),
		"title":           title,
		"created_at":      now.UnixMilli(),
		"updated_at":      now.UnixMilli(),
	}

	_, err := s.client.Data().Creator().
		WithClassName(ClassConversation).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		return datatypes.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	return conv, nil
}

// GetConversation fetches one conversation owned by identity.
func (s *WeaviateStore) GetConversation(ctx context.Context, owner datatypes.Identity, id string) (datatypes.Conversation, error) {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"conversation_id"}).
				WithOperator(filters.Equal).
				WithValueString(id),
			filters.Where().
				WithPath([]string{"owner"}).
				WithOperator(filters.Equal).
				WithValueString(owner.Key()),
		})

	resp, err := s.client.GraphQL().Get().
		WithClassName(ClassConversation).
		WithWhere(where).
		WithFields(conversationFields()...).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return datatypes.Conversation{}, fmt.Errorf("query conversation: %w", err)
	}

	parsed, err := parseGraphQL[conversationQueryResponse](resp)
	if err != nil {
		return datatypes.Conversation{}, err
	}
	if len(parsed.Get.Conversation) == 0 {
		return datatypes.Conversation{}, ErrConversationNotFound
	}

	return rowToConversation(parsed.Get.Conversation[0], owner), nil
}

// ListConversations returns identity's conversations, most recently updated
// first.
func (s *WeaviateStore) ListConversations(ctx context.Context, owner datatypes.Identity) ([]datatypes.Conversation, error) {
	where := filters.Where().
		WithPath([]string{"owner"}).
		WithOperator(filters.Equal).
		WithValueString(owner.Key())

	resp, err := s.client.GraphQL().Get().
		WithClassName(ClassConversation).
		WithWhere(where).
		WithFields(conversationFields()...).
		WithSort(graphql.Sort{Path: []string{"updated_at"}, Order: graphql.Desc}).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	parsed, err := parseGraphQL[conversationQueryResponse](resp)
	if err != nil {
		return nil, err
	}

	out := make([]datatypes.Conversation, 0, len(parsed.Get.Conversation))
	for _, row := range parsed.Get.Conversation {
		out = append(out, rowToConversation(row, owner))
	}
	return out, nil
}

// DeleteConversation removes a conversation and all of its messages.
func (s *WeaviateStore) DeleteConversation(ctx context.Context, owner datatypes.Identity, id string) error {
	// Ownership check first; the message delete filters on id alone.
	if _, err := s.GetConversation(ctx, owner, id); err != nil {
		return err
	}

	byConversation := filters.Where().
		WithPath([]string{"conversation_id"}).
		WithOperator(filters.Equal).
		WithValueString(id)

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(ClassChatMessage).
		WithOutput("minimal").
		WithWhere(byConversation).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	_, err = s.client.Batch().ObjectsBatchDeleter().
		WithClassName(ClassConversation).
		WithOutput("minimal").
		WithWhere(byConversation).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	return nil
}

// AppendMessage adds one message and bumps the conversation's updated_at.
func (s *WeaviateStore) AppendMessage(ctx context.Context, conversationID, role, content string, processingTimeMs int64) (datatypes.Message, error) {
	now := s.nowFn()
	msg := datatypes.Message{
		ID:               uuid.NewString(),
		ConversationID:   conversationID,
		Role:             role,
		Content:          content,
		CreatedAt:        now,
		ProcessingTimeMs: processingTimeMs,
	}

	props := map[string]interface{}{
		"message_id":         msg.ID,
		"conversation_id":    conversationID,
		"role":               role,
		"content":            content,
		"created_at":         now.UnixMilli(),
		"processing_time_ms": processingTimeMs,
	}

	_, err := s.client.Data().Creator().
		WithClassName(ClassChatMessage).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		return datatypes.Message{}, fmt.Errorf("append message: %w", err)
	}

	s.touchConversation(ctx, conversationID, now)

	return msg, nil
}

// touchConversation updates updated_at. Failure is logged, not fatal: the
// message itself is already durable and ordering comes from message rows.
func (s *WeaviateStore) touchConversation(ctx context.Context, conversationID string, now time.Time) {
	where := filters.Where().
		WithPath([]string{"conversation_id"}).
		WithOperator(filters.Equal).
		WithValueString(conversationID)

	resp, err := s.client.GraphQL().Get().
		WithClassName(ClassConversation).
		WithWhere(where).
		WithFields(graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}}).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		s.logger.Warn("conversation touch query failed", "conversation_id", conversationID, "error", err)
		return
	}

	parsed, err := parseGraphQL[conversationQueryResponse](resp)
	if err != nil || len(parsed.Get.Conversation) == 0 {
		s.logger.Warn("conversation touch lookup failed", "conversation_id", conversationID, "error", err)
		return
	}

	err = s.client.Data().Updater().
		WithClassName(ClassConversation).
		WithID(parsed.Get.Conversation[0].Additional.ID).
		WithProperties(map[string]interface{}{"updated_at": now.UnixMilli()}).
		WithMerge().
		Do(ctx)
	if err != nil {
		s.logger.Warn("conversation touch update failed", "conversation_id", conversationID, "error", err)
	}
}

// RecentMessages returns up to limit messages, newest first.
func (s *WeaviateStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.Message, error) {
	where := filters.Where().
		WithPath([]string{"conversation_id"}).
		WithOperator(filters.Equal).
		WithValueString(conversationID)

	fields := []graphql.Field{
		{Name: "message_id"},
		{Name: "conversation_id"},
		{Name: "role"},
		{Name: "content"},
		{Name: "created_at"},
		{Name: "processing_time_ms"},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName(ClassChatMessage).
		WithWhere(where).
		WithFields(fields...).
		WithSort(graphql.Sort{Path: []string{"created_at"}, Order: graphql.Desc}).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	parsed, err := parseGraphQL[messageQueryResponse](resp)
	if err != nil {
		return nil, err
	}

	out := make([]datatypes.Message, 0, len(parsed.Get.ChatMessage))
	for _, row := range parsed.Get.ChatMessage {
		out = append(out, datatypes.Message{
			ID:               row.MessageID,
			ConversationID:   row.ConversationID,
			Role:             row.Role,
			Content:          row.Content,
			CreatedAt:        time.UnixMilli(row.CreatedAt).UTC(),
			ProcessingTimeMs: row.ProcessingTimeMs,
		})
	}
	return out, nil
}

func conversationFields() []graphql.Field {
	return []graphql.Field{
		{Name: "conversation_id"},
		{Name: "owner"},
		{Name: "title"},
		{Name: "created_at"},
		{Name: "updated_at"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}
}

func rowToConversation(row conversationRow, owner datatypes.Identity) datatypes.Conversation {
	return datatypes.Conversation{
		ID:        row.ConversationID,
		Owner:     owner,
		Title:     row.Title,
		CreatedAt: time.UnixMilli(row.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(row.UpdatedAt).UTC(),
	}
}

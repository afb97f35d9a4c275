// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
)

const guestShardCount = 16

// GuestMaxMessages caps the history kept per guest conversation. Once the
// cap is reached the oldest message is dropped before the newest is appended.
const GuestMaxMessages = 20

// DefaultGuestIdleTTL is how long an untouched guest conversation survives
// before the sweeper evicts it.
const DefaultGuestIdleTTL = 2 * time.Hour

type guestConversation struct {
	conv       datatypes.Conversation
	messages   []datatypes.Message
	lastActive time.Time
}

type guestShard struct {
	mu            sync.Mutex
	conversations map[string]*guestConversation
}

// GuestStore holds guest conversations in process memory.
//
// # Description
//
// Conversations are sharded by conversation id; every read and write for a
// conversation happens under its shard lock, so concurrent appends to one
// conversation serialize and message order is never interleaved. The store
// is bounded two ways: per-conversation message count (drop-oldest) and an
// idle TTL enforced by Run.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type GuestStore struct {
	shards    [guestShardCount]guestShard
	idleTTL   time.Duration
	nowFn     func() time.Time
	logger    *slog.Logger
	onEvicted func(int)
}

// GuestOption configures a GuestStore.
type GuestOption func(*GuestStore)

// WithGuestIdleTTL overrides the idle eviction window.
func WithGuestIdleTTL(ttl time.Duration) GuestOption {
	return func(s *GuestStore) { s.idleTTL = ttl }
}

// WithGuestNow overrides the time source. Used by tests.
func WithGuestNow(now func() time.Time) GuestOption {
	return func(s *GuestStore) { s.nowFn = now }
}

// WithGuestLogger overrides the default slog logger.
func WithGuestLogger(logger *slog.Logger) GuestOption {
	return func(s *GuestStore) { s.logger = logger }
}

// WithGuestEvictionHook registers a callback invoked with the eviction count
// after each sweep that removed at least one conversation.
func WithGuestEvictionHook(fn func(int)) GuestOption {
	return func(s *GuestStore) { s.onEvicted = fn }
}

// NewGuestStore creates an empty guest store.
func NewGuestStore(opts ...GuestOption) *GuestStore {
	s := &GuestStore{
		idleTTL: DefaultGuestIdleTTL,
		nowFn:   time.Now,
		logger:  slog.Default(),
	}
	for i := range s.shards {
		s.shards[i].conversations = make(map[string]*guestConversation)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GuestStore) shardFor(conversationID string) *guestShard {
	var h uint32 = 2166136261
	for i := 0; i < len(conversationID); i++ {
		h ^= uint32(conversationID[i])
		h *= 16777619
	}
	return &s.shards[h%guestShardCount]
}

// CreateConversation creates an empty in-memory conversation.
func (s *GuestStore) CreateConversation(_ context.Context, owner datatypes.Identity, title string) (datatypes.Conversation, error) {
	now := s.nowFn()
	conv := datatypes.Conversation{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	shard := s.shardFor(conv.ID)
	shard.mu.Lock()
	shard.conversations[conv.ID] = &guestConversation{conv: conv, lastActive: now}
	shard.mu.Unlock()

	return conv, nil
}

// GetConversation fetches a conversation owned by identity.
func (s *GuestStore) GetConversation(_ context.Context, owner datatypes.Identity, id string) (datatypes.Conversation, error) {
	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	gc, ok := shard.conversations[id]
	if !ok || gc.conv.Owner != owner {
		return datatypes.Conversation{}, ErrConversationNotFound
	}
	return gc.conv, nil
}

// ListConversations returns identity's conversations, most recently updated
// first.
func (s *GuestStore) ListConversations(_ context.Context, owner datatypes.Identity) ([]datatypes.Conversation, error) {
	var out []datatypes.Conversation
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for _, gc := range shard.conversations {
			if gc.conv.Owner == owner {
				out = append(out, gc.conv)
			}
		}
		shard.mu.Unlock()
	}

	// Newest activity first.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].UpdatedAt.After(out[j-1].UpdatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *GuestStore) DeleteConversation(_ context.Context, owner datatypes.Identity, id string) error {
	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	gc, ok := shard.conversations[id]
	if !ok || gc.conv.Owner != owner {
		return ErrConversationNotFound
	}
	delete(shard.conversations, id)
	return nil
}

// AppendMessage appends one message, evicting the oldest message first when
// the conversation is at capacity.
func (s *GuestStore) AppendMessage(_ context.Context, conversationID, role, content string, processingTimeMs int64) (datatypes.Message, error) {
	shard := s.shardFor(conversationID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	gc, ok := shard.conversations[conversationID]
	if !ok {
		return datatypes.Message{}, ErrConversationNotFound
	}

	now := s.nowFn()
	msg := datatypes.Message{
		ID:               uuid.NewString(),
		ConversationID:   conversationID,
		Role:             role,
		Content:          content,
		CreatedAt:        now,
		ProcessingTimeMs: processingTimeMs,
	}

	if len(gc.messages) >= GuestMaxMessages {
		drop := len(gc.messages) - GuestMaxMessages + 1
		gc.messages = append(gc.messages[:0], gc.messages[drop:]...)
	}
	gc.messages = append(gc.messages, msg)
	gc.conv.UpdatedAt = now
	gc.lastActive = now

	return msg, nil
}

// RecentMessages returns up to limit messages, newest first.
func (s *GuestStore) RecentMessages(_ context.Context, conversationID string, limit int) ([]datatypes.Message, error) {
	shard := s.shardFor(conversationID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	gc, ok := shard.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}

	n := len(gc.messages)
	if limit > n {
		limit = n
	}
	out := make([]datatypes.Message, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, gc.messages[i])
	}
	return out, nil
}

// Sweep evicts conversations idle longer than the TTL and reports how many
// were removed.
func (s *GuestStore) Sweep() int {
	cutoff := s.nowFn().Add(-s.idleTTL)
	evicted := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for id, gc := range shard.conversations {
			if gc.lastActive.Before(cutoff) {
				delete(shard.conversations, id)
				evicted++
			}
		}
		shard.mu.Unlock()
	}
	return evicted
}

// Run sweeps idle conversations on the given interval until the context is
// cancelled. Intended to run in its own goroutine.
func (s *GuestStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info("evicted idle guest conversations", "count", n)
				if s.onEvicted != nil {
					s.onEvicted(n)
				}
			}
		}
	}
}

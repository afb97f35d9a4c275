// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services provides the business logic of the chat pipeline.
//
// ChatService composes the usage governor, context assembler, answering
// engine, citation filter, and conversation stores into one request
// lifecycle, separated from the HTTP handlers that front it.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mashura-ai/mashura/pkg/streamio"
	"github.com/mashura-ai/mashura/services/orchestrator/citations"
	"github.com/mashura-ai/mashura/services/orchestrator/contextual"
	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
	"github.com/mashura-ai/mashura/services/orchestrator/engine"
	"github.com/mashura-ai/mashura/services/orchestrator/governor"
	"github.com/mashura-ai/mashura/services/orchestrator/store"
)

// chatTracer is the OpenTelemetry tracer for ChatService operations.
var chatTracer = otel.Tracer("mashura.orchestrator.services.chat")

// maxTitleRunes bounds the lazily-derived conversation title.
const maxTitleRunes = 80

// LimitExceededError is returned by HandleMessage when the identity's usage
// quota is exhausted. ResetAt is when the cooldown ends.
type LimitExceededError struct {
	ResetAt time.Time
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("usage limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// ErrGenerationFailure wraps answering-engine failures delivered as a
// terminal error event.
var ErrGenerationFailure = errors.New("generation failure")

// ChatService runs the end-to-end lifecycle of one chat message.
//
// # Description
//
// The lifecycle is: admission check, conversation resolution, context
// assembly, user-message persistence, streaming generation, citation
// correction, assistant-message persistence, usage commit. Any failure
// before the assistant message is persisted leaves the usage cycle
// untouched, so a denied, failed, or aborted request never consumes quota.
//
// Each identity kind gets its own store: durable for authenticated users,
// in-memory for guests.
type ChatService struct {
	governor      *governor.Governor
	engine        engine.AnswerEngine
	userStore     store.ConversationStore
	guestStore    store.ConversationStore
	contextWindow int
	clock         governor.Clock
	logger        *slog.Logger
}

// ChatOption configures a ChatService.
type ChatOption func(*ChatService)

// WithContextWindow overrides the dialogue window handed to the engine.
func WithContextWindow(maxMessages int) ChatOption {
	return func(s *ChatService) { s.contextWindow = maxMessages }
}

// WithChatClock overrides the wall clock. Used by tests.
func WithChatClock(c governor.Clock) ChatOption {
	return func(s *ChatService) { s.clock = c }
}

// WithChatLogger overrides the default slog logger.
func WithChatLogger(logger *slog.Logger) ChatOption {
	return func(s *ChatService) { s.logger = logger }
}

// NewChatService wires the pipeline together.
func NewChatService(gov *governor.Governor, eng engine.AnswerEngine, userStore, guestStore store.ConversationStore, opts ...ChatOption) *ChatService {
	s := &ChatService{
		governor:      gov,
		engine:        eng,
		userStore:     userStore,
		guestStore:    guestStore,
		contextWindow: contextual.DefaultMaxMessages,
		clock:         governor.SystemClock(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// storeFor selects the store matching the identity's durability.
func (s *ChatService) storeFor(identity datatypes.Identity) store.ConversationStore {
	if identity.IsGuest() {
		return s.guestStore
	}
	return s.userStore
}

// HandleMessage processes one inbound message and returns the event stream.
//
// # Description
//
// Admission and conversation lookup failures are returned synchronously; no
// channel is opened for them. Once a channel is returned, generation-time
// failures arrive as a terminal error event on it. The channel is closed
// after the final event; the caller appends the wire sentinel.
//
// Chunks are delivered as generated; the complete event carries the
// citation-corrected final text and is authoritative for rendering and
// persistence.
//
// Cancelling ctx stops generation promptly, persists nothing further, and
// never commits usage.
func (s *ChatService) HandleMessage(ctx context.Context, identity datatypes.Identity, conversationID, text string) (<-chan streamio.Event, error) {
	ctx, span := chatTracer.Start(ctx, "chat.handle_message")
	span.SetAttributes(
		attribute.String("identity.kind", string(identity.Kind)),
		attribute.Bool("conversation.new", conversationID == ""),
	)

	start := s.clock.Now()

	if decision := s.governor.CheckAdmission(identity); !decision.Admitted {
		span.SetStatus(codes.Error, "admission denied")
		span.End()
		return nil, &LimitExceededError{ResetAt: decision.ResetAt}
	}

	st := s.storeFor(identity)

	var conv datatypes.Conversation
	var err error
	if conversationID == "" {
		conv, err = st.CreateConversation(ctx, identity, deriveTitle(text))
	} else {
		conv, err = st.GetConversation(ctx, identity, conversationID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversation resolution failed")
		span.End()
		return nil, err
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID))

	// Context is assembled before the user turn is appended, so the window
	// never carries this turn twice: it travels as the query itself.
	assembler := contextual.NewAssembler(st, s.contextWindow)
	history, err := assembler.GetContext(ctx, conv.ID)
	if err != nil {
		span.RecordError(err)
		span.End()
		return nil, err
	}

	if _, err := st.AppendMessage(ctx, conv.ID, datatypes.RoleUser, text, 0); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user message persistence failed")
		span.End()
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	events := make(chan streamio.Event)
	go s.generate(ctx, span, identity, st, conv, text, history, start, events)

	return events, nil
}

// generate runs the streaming half of the lifecycle and owns the events
// channel. span is ended here.
func (s *ChatService) generate(
	ctx context.Context,
	span trace.Span,
	identity datatypes.Identity,
	st store.ConversationStore,
	conv datatypes.Conversation,
	text string,
	history []datatypes.Turn,
	start time.Time,
	events chan<- streamio.Event,
) {
	defer close(events)
	defer span.End()

	stream, err := s.engine.Generate(ctx, text, history)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("engine stream open failed", "conversation_id", conv.ID, "error", err)
		s.emit(ctx, events, errorEvent(err, statusGeneration))
		return
	}
	defer stream.Close()

	var accumulated strings.Builder
	for {
		fragment, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				// Client went away; stop quietly without consuming quota.
				s.logger.Info("stream interrupted by client", "conversation_id", conv.ID)
				return
			}
			s.logger.Error("generation failed mid-stream",
				"conversation_id", conv.ID,
				"delivered_bytes", accumulated.Len(),
				"error", err,
			)
			s.emit(ctx, events, errorEvent(fmt.Errorf("%w: %v", ErrGenerationFailure, err), statusGeneration))
			return
		}

		accumulated.WriteString(fragment)
		if !s.emit(ctx, events, streamio.Event{Type: streamio.EventChunk, Content: fragment}) {
			return
		}
	}

	final := citations.FixCitations(accumulated.String(), stream.Documents())
	elapsed := s.clock.Now().Sub(start).Milliseconds()

	msg, err := st.AppendMessage(ctx, conv.ID, datatypes.RoleAssistant, final, elapsed)
	if err != nil {
		// The generated answer must not vanish silently with the write.
		s.logger.Error("assistant message persistence failed",
			"conversation_id", conv.ID,
			"answer", final,
			"error", err,
		)
		s.emit(ctx, events, errorEvent(fmt.Errorf("persist assistant message: %w", err), statusPersistence))
		return
	}

	cycle := s.governor.CommitUsage(identity)
	s.logger.Info("chat turn completed",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"processing_time_ms", elapsed,
		"usage_count", cycle.Count,
		"usage_max", cycle.Max,
	)

	s.emit(ctx, events, streamio.Event{
		Type:             streamio.EventComplete,
		Content:          final,
		ConversationID:   conv.ID,
		MessageID:        msg.ID,
		ProcessingTimeMs: elapsed,
	})
}

// emit sends one event unless the consumer is gone. Reports whether the
// send happened.
func (s *ChatService) emit(ctx context.Context, events chan<- streamio.Event, ev streamio.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Terminal status labels attached to error events so the transport layer
// accounts generation and persistence failures separately.
const (
	statusGeneration  = "generation_error"
	statusPersistence = "persistence_error"
)

func errorEvent(err error, status string) streamio.Event {
	return streamio.Event{Type: streamio.EventError, Error: err.Error(), Status: status}
}

// deriveTitle builds a conversation title from the first message.
func deriveTitle(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxTitleRunes {
		return text
	}
	return string(runes[:maxTitleRunes])
}

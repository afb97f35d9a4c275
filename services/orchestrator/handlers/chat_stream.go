// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mashura-ai/mashura/pkg/streamio"
	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
	"github.com/mashura-ai/mashura/services/orchestrator/middleware"
	"github.com/mashura-ai/mashura/services/orchestrator/observability"
	"github.com/mashura-ai/mashura/services/orchestrator/services"
	"github.com/mashura-ai/mashura/services/orchestrator/store"
)

var chatHandlerTracer = otel.Tracer("mashura.orchestrator.handlers.chat")

// heartbeatInterval paces keepalive comment frames while generation is
// between chunks.
const heartbeatInterval = 15 * time.Second

// ChatHandler fronts the chat pipeline over HTTP.
type ChatHandler struct {
	svc       *services.ChatService
	metrics   *observability.ChatMetrics
	heartbeat time.Duration
	logger    *slog.Logger
}

// ChatHandlerOption configures a ChatHandler.
type ChatHandlerOption func(*ChatHandler)

// WithHeartbeat overrides the keepalive interval. Used by tests.
func WithHeartbeat(d time.Duration) ChatHandlerOption {
	return func(h *ChatHandler) { h.heartbeat = d }
}

// WithHandlerLogger overrides the default slog logger.
func WithHandlerLogger(logger *slog.Logger) ChatHandlerOption {
	return func(h *ChatHandler) { h.logger = logger }
}

// NewChatHandler creates the handler. metrics may be nil in tests.
func NewChatHandler(svc *services.ChatService, metrics *observability.ChatMetrics, opts ...ChatHandlerOption) *ChatHandler {
	h := &ChatHandler{
		svc:       svc,
		metrics:   metrics,
		heartbeat: heartbeatInterval,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Stream handles POST /v1/chat/stream.
//
// The request is validated and admitted synchronously; failures there are
// plain JSON errors. Once streaming starts, failures arrive as error events
// on the stream and the HTTP status stays 200.
func (h *ChatHandler) Stream(c *gin.Context) {
	ctx, span := chatHandlerTracer.Start(c.Request.Context(), "handlers.chat_stream")
	defer span.End()

	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Message: "identity not resolved"})
		return
	}

	var req datatypes.ChatStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordRequest("invalid")
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Message: "malformed request body"})
		return
	}
	if err := req.Validate(); err != nil {
		h.metrics.RecordRequest("invalid")
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Message: err.Error()})
		return
	}

	// A guest may pin its session through the request body; a bearer
	// identity always wins.
	if identity.IsGuest() && req.SessionID != "" {
		identity = datatypes.Identity{Kind: datatypes.IdentityGuest, ID: req.SessionID}
	}
	span.SetAttributes(attribute.String("identity.kind", string(identity.Kind)))

	start := time.Now()
	events, err := h.svc.HandleMessage(ctx, identity, req.ConversationID, req.Message)
	if err != nil {
		h.writeHandleError(c, identity, err)
		return
	}

	writer, err := NewStreamWriter(c.Writer)
	if err != nil {
		h.logger.Error("streaming unsupported by connection", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Message: "streaming unsupported"})
		return
	}

	h.metrics.StreamStarted()
	status := h.pump(c, writer, events, start)
	h.metrics.StreamEnded(status, time.Since(start).Seconds())
	h.metrics.RecordRequest(status)
}

// pump relays events to the client until the stream ends or the client
// disconnects, interleaving heartbeats. Returns the terminal status label.
func (h *ChatHandler) pump(c *gin.Context, writer *StreamWriter, events <-chan streamio.Event, start time.Time) string {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()
	firstChunk := true
	status := "completed"

	for {
		select {
		case <-clientGone:
			h.metrics.RecordClientDisconnect()
			return "disconnected"

		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				h.metrics.RecordClientDisconnect()
				return "disconnected"
			}
			h.metrics.RecordKeepAlive()

		case ev, open := <-events:
			if !open {
				if err := writer.WriteDone(); err != nil {
					return "disconnected"
				}
				return status
			}

			if ev.Type == streamio.EventChunk && firstChunk {
				firstChunk = false
				h.metrics.RecordTimeToFirstChunk(time.Since(start).Seconds())
			}
			if ev.Type == streamio.EventError {
				status = "generation_error"
				if ev.Status != "" {
					status = ev.Status
				}
			}

			if err := writer.WriteEvent(ev); err != nil {
				h.metrics.RecordClientDisconnect()
				return "disconnected"
			}
		}
	}
}

// writeHandleError maps synchronous pipeline errors onto plain JSON
// responses.
func (h *ChatHandler) writeHandleError(c *gin.Context, identity datatypes.Identity, err error) {
	var limitErr *services.LimitExceededError
	switch {
	case errors.As(err, &limitErr):
		h.metrics.RecordQuotaDenial(string(identity.Kind))
		h.metrics.RecordRequest("denied")
		c.JSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
			Message: fmt.Sprintf("usage limit reached, try again after %s", limitErr.ResetAt.Format(time.RFC3339)),
		})

	case errors.Is(err, store.ErrConversationNotFound):
		h.metrics.RecordRequest("not_found")
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Message: "conversation not found"})

	default:
		h.logger.Error("chat request failed before streaming", "error", err)
		h.metrics.RecordRequest("error")
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Message: "internal error"})
	}
}

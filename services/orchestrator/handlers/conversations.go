// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
	"github.com/mashura-ai/mashura/services/orchestrator/middleware"
	"github.com/mashura-ai/mashura/services/orchestrator/services"
	"github.com/mashura-ai/mashura/services/orchestrator/store"
)

// ConversationHandler serves conversation listing, history, and deletion.
type ConversationHandler struct {
	svc    *services.ChatService
	logger *slog.Logger
}

// NewConversationHandler creates the handler.
func NewConversationHandler(svc *services.ChatService) *ConversationHandler {
	return &ConversationHandler{svc: svc, logger: slog.Default()}
}

// List handles GET /v1/conversations.
func (h *ConversationHandler) List(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Message: "identity not resolved"})
		return
	}

	convs, err := h.svc.ListConversations(c.Request.Context(), identity)
	if err != nil {
		h.logger.Error("list conversations failed", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Message: "internal error"})
		return
	}
	if convs == nil {
		convs = []datatypes.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// Messages handles GET /v1/conversations/:id/messages. Messages come back
// in chronological order; ?limit= bounds the page.
func (h *ConversationHandler) Messages(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Message: "identity not resolved"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Message: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	msgs, err := h.svc.Messages(c.Request.Context(), identity, c.Param("id"), limit)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Message: "conversation not found"})
			return
		}
		h.logger.Error("list messages failed", "conversation_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Message: "internal error"})
		return
	}
	if msgs == nil {
		msgs = []datatypes.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Delete handles DELETE /v1/conversations/:id.
func (h *ConversationHandler) Delete(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Message: "identity not resolved"})
		return
	}

	err := h.svc.DeleteConversation(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Message: "conversation not found"})
			return
		}
		h.logger.Error("delete conversation failed", "conversation_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Message: "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

// Usage handles GET /v1/usage.
func (h *ConversationHandler) Usage(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Message: "identity not resolved"})
		return
	}
	c.JSON(http.StatusOK, h.svc.Usage(identity))
}

// Health handles GET /health.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

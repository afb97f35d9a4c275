// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxMessageContentBytes is the maximum size of a single message body.
	// Checked in bytes, not runes, so oversized payloads are rejected before
	// they reach the engine.
	MaxMessageContentBytes = 32 * 1024 // 32KB
)

// chatValidate is the shared validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// ChatStreamRequest is the body of POST /v1/chat/stream.
//
// # Fields
//
//   - Message: Required. The user's question. Max 32KB.
//   - ConversationID: Optional. Existing conversation to continue. When
//     omitted a conversation is created lazily on this first message.
//   - SessionID: Optional. Guest session identifier. Ignored when the
//     request carries a valid bearer credential.
type ChatStreamRequest struct {
	Message        string `json:"message" validate:"required,maxbytes"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,uuid4"`
	SessionID      string `json:"session_id,omitempty"`
}

// Validate checks the request against its struct tags. Call after binding.
func (r *ChatStreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// UsageResponse is the body of GET /v1/usage: the caller's current quota
// cycle. ResetAt is set only while a cooldown is active.
type UsageResponse struct {
	Count   int        `json:"count"`
	Max     int        `json:"max"`
	ResetAt *time.Time `json:"reset_at,omitempty"`
}

// ErrorResponse is the plain JSON body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mashura-ai/mashura/pkg/streamio"
	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
	"github.com/mashura-ai/mashura/services/orchestrator/middleware"
)

func writeFrames(t *testing.T, w http.ResponseWriter, events ...streamio.Event) {
	t.Helper()
	for _, ev := range events {
		frame, err := streamio.EncodeFrame(ev)
		require.NoError(t, err)
		_, err = w.Write(frame)
		require.NoError(t, err)
	}
	_, err := w.Write(streamio.DoneFrame())
	require.NoError(t, err)
}

// TestChatClient_StreamMessage_AssemblesAnswer verifies chunks are surfaced
// incrementally and the complete event wins as the final answer.
func TestChatClient_StreamMessage_AssemblesAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/stream", r.URL.Path)

		var req datatypes.ChatStreamRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ما هي مدة الإشعار؟", req.Message)

		w.Header().Set(middleware.SessionHeader, "sess-abc")
		w.Header().Set("Content-Type", "text/event-stream")
		writeFrames(t, w,
			streamio.Event{Type: streamio.EventChunk, Content: "وفقاً "},
			streamio.Event{Type: streamio.EventChunk, Content: `لـ"مذكرة"`},
			streamio.Event{Type: streamio.EventComplete,
				Content:        `وفقاً لـ"نظام العمل"`,
				ConversationID: "conv-1",
				MessageID:      "msg-1",
			},
		)
	}))
	defer srv.Close()

	client := NewChatClient(srv.URL, "", "")
	var chunks strings.Builder
	result, err := client.StreamMessage(context.Background(), "", "ما هي مدة الإشعار؟",
		func(c string) { chunks.WriteString(c) })
	require.NoError(t, err)

	assert.Equal(t, `وفقاً لـ"مذكرة"`, chunks.String(), "chunks arrive uncorrected")
	assert.Equal(t, `وفقاً لـ"نظام العمل"`, result.Answer)
	assert.Equal(t, "conv-1", result.ConversationID)
	assert.Equal(t, "msg-1", result.MessageID)
	assert.Equal(t, "sess-abc", client.SessionID, "minted session is retained")
}

// TestChatClient_StreamMessage_SendsIdentity verifies the bearer token wins
// over a guest session id.
func TestChatClient_StreamMessage_SendsIdentity(t *testing.T) {
	var gotAuth, gotSession string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSession = r.Header.Get(middleware.SessionHeader)
		writeFrames(t, w, streamio.Event{Type: streamio.EventComplete, Content: "x"})
	}))
	defer srv.Close()

	client := NewChatClient(srv.URL, "tok-1", "sess-1")
	_, err := client.StreamMessage(context.Background(), "", "سؤال", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Empty(t, gotSession)

	client = NewChatClient(srv.URL, "", "sess-1")
	_, err = client.StreamMessage(context.Background(), "", "سؤال", nil)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", gotSession)
}

// TestChatClient_StreamMessage_QuotaError surfaces the server's message.
func TestChatClient_StreamMessage_QuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(datatypes.ErrorResponse{Message: "usage limit reached"})
	}))
	defer srv.Close()

	client := NewChatClient(srv.URL, "", "")
	_, err := client.StreamMessage(context.Background(), "", "سؤال", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage limit reached")
	assert.Contains(t, err.Error(), "429")
}

// TestChatClient_StreamMessage_ErrorEvent maps a mid-stream error event to
// a client error.
func TestChatClient_StreamMessage_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrames(t, w,
			streamio.Event{Type: streamio.EventChunk, Content: "جزء"},
			streamio.Event{Type: streamio.EventError, Error: "generation failed"},
		)
	}))
	defer srv.Close()

	client := NewChatClient(srv.URL, "", "")
	_, err := client.StreamMessage(context.Background(), "", "سؤال", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation failed")
}

// TestChatClient_Usage decodes the quota endpoint.
func TestChatClient_Usage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/usage", r.URL.Path)
		_ = json.NewEncoder(w).Encode(datatypes.UsageResponse{Count: 3, Max: 5})
	}))
	defer srv.Close()

	client := NewChatClient(srv.URL, "", "sess-1")
	usage, err := client.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, usage.Count)
	assert.Equal(t, 5, usage.Max)
	assert.Nil(t, usage.ResetAt)
}

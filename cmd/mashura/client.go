// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mashura-ai/mashura/pkg/streamio"
	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
	"github.com/mashura-ai/mashura/services/orchestrator/middleware"
)

// ChatResult is the outcome of one streamed exchange.
type ChatResult struct {
	Answer         string
	ConversationID string
	MessageID      string
}

// ChatClient talks to the orchestrator's streaming chat endpoint. It keeps
// the guest session id returned by the server so follow-up turns land in
// the same usage cycle.
type ChatClient struct {
	BaseURL   string
	Token     string
	SessionID string
	HTTP      *http.Client
}

// NewChatClient creates a client for the given orchestrator base URL.
func NewChatClient(baseURL, token, sessionID string) *ChatClient {
	return &ChatClient{
		BaseURL:   baseURL,
		Token:     token,
		SessionID: sessionID,
		HTTP:      &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *ChatClient) setIdentity(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
		return
	}
	if c.SessionID != "" {
		req.Header.Set(middleware.SessionHeader, c.SessionID)
	}
}

// StreamMessage sends one message and consumes the event stream, invoking
// onChunk for every incremental fragment. The returned answer is the
// server's complete text, which may differ from the raw chunks when the
// server corrected citations.
func (c *ChatClient) StreamMessage(ctx context.Context, conversationID, message string, onChunk func(string)) (*ChatResult, error) {
	payload, err := json.Marshal(datatypes.ChatStreamRequest{
		Message:        message,
		ConversationID: conversationID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/v1/chat/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setIdentity(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeErrorResponse(resp)
	}
	if sid := resp.Header.Get(middleware.SessionHeader); sid != "" {
		c.SessionID = sid
	}

	result := &ChatResult{}
	var answer bytes.Buffer
	d := streamio.NewDecoder(resp.Body)
	err = d.Consume(ctx, func(ev streamio.Event) error {
		switch ev.Type {
		case streamio.EventChunk:
			answer.WriteString(ev.Content)
			if onChunk != nil {
				onChunk(ev.Content)
			}
		case streamio.EventComplete:
			result.Answer = ev.Content
			result.ConversationID = ev.ConversationID
			result.MessageID = ev.MessageID
		case streamio.EventError:
			return fmt.Errorf("server error: %s", ev.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A stream that ended without a complete event still carries whatever
	// chunks arrived.
	if result.Answer == "" {
		result.Answer = answer.String()
	}
	return result, nil
}

// Usage fetches the current quota state for this client's identity.
func (c *ChatClient) Usage(ctx context.Context) (*datatypes.UsageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/usage", nil)
	if err != nil {
		return nil, err
	}
	c.setIdentity(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch usage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeErrorResponse(resp)
	}
	var usage datatypes.UsageResponse
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, fmt.Errorf("parse usage response: %w", err)
	}
	return &usage, nil
}

func decodeErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var errResp datatypes.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, errResp.Message)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
}

// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
)

// systemPromptHeader instructs the model to answer as a legal assistant and
// to ground its answer in the supplied passages.
const systemPromptHeader = "أنت مساعد قانوني. أجب عن سؤال المستخدم اعتماداً على النصوص النظامية التالية، واذكر مصدر كل حكم تستشهد به."

// OpenAIEngine generates answers through an OpenAI-compatible chat
// completion endpoint, augmented with passages from the legal corpus.
type OpenAIEngine struct {
	client         *openai.Client
	retriever      Retriever
	model          string
	retrievalLimit int
	logger         *slog.Logger
}

// OpenAIOption configures an OpenAIEngine.
type OpenAIOption func(*OpenAIEngine)

// WithRetrievalLimit overrides how many passages each query pulls.
func WithRetrievalLimit(limit int) OpenAIOption {
	return func(e *OpenAIEngine) { e.retrievalLimit = limit }
}

// WithEngineLogger overrides the default slog logger.
func WithEngineLogger(logger *slog.Logger) OpenAIOption {
	return func(e *OpenAIEngine) { e.logger = logger }
}

// NewOpenAIEngine creates an engine over an already-configured client. The
// client may point at any OpenAI-compatible endpoint, including a local
// inference server.
func NewOpenAIEngine(client *openai.Client, retriever Retriever, model string, opts ...OpenAIOption) *OpenAIEngine {
	e := &OpenAIEngine{
		client:         client,
		retriever:      retriever,
		model:          model,
		retrievalLimit: DefaultRetrievalLimit,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate retrieves relevant passages, then opens a streaming completion.
//
// A retrieval failure is not fatal: the answer proceeds ungrounded and the
// citation filter, seeing no documents, leaves the text untouched.
func (e *OpenAIEngine) Generate(ctx context.Context, query string, history []datatypes.Turn) (Stream, error) {
	passages, err := e.retriever.Retrieve(ctx, query, e.retrievalLimit)
	if err != nil {
		e.logger.Warn("retrieval failed, generating without corpus context", "error", err)
		passages = nil
	}

	req := openai.ChatCompletionRequest{
		Model:    e.model,
		Messages: buildMessages(query, history, passages),
		Stream:   true,
	}

	stream, err := e.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}

	docs := make([]datatypes.RetrievedDocument, len(passages))
	for i, p := range passages {
		docs[i] = datatypes.RetrievedDocument{Title: p.Title, Rank: p.Rank}
	}

	return &openaiStream{stream: stream, docs: docs}, nil
}

func buildMessages(query string, history []datatypes.Turn, passages []Passage) []openai.ChatCompletionMessage {
	var system strings.Builder
	system.WriteString(systemPromptHeader)
	for _, p := range passages {
		system.WriteString("\n\n### ")
		system.WriteString(p.Title)
		system.WriteString("\n")
		system.WriteString(p.Content)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system.String(),
	})
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == datatypes.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: query,
	})
	return messages
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
	docs   []datatypes.RetrievedDocument
}

// Next returns the next non-empty fragment. Deltas carrying no content
// (role frames, finish frames) are skipped.
func (s *openaiStream) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("receive completion fragment: %w", err)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (s *openaiStream) Documents() []datatypes.RetrievedDocument {
	return s.docs
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}

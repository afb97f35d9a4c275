// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// ClassLegalDocument is the Weaviate class holding the legal corpus.
const ClassLegalDocument = "LegalDocument"

// DefaultRetrievalLimit is how many passages a query pulls by default.
const DefaultRetrievalLimit = 5

// Passage is one retrieved excerpt of the legal corpus. Rank is the
// retrieval position, 0 being the most relevant.
type Passage struct {
	Title   string
	Content string
	Rank    int
}

// Retriever finds corpus passages relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]Passage, error)
}

// WeaviateRetriever queries the LegalDocument class with BM25 keyword
// search. The corpus is stored unvectorized; keyword ranking works well for
// statute and regulation titles, which is what the citation filter needs.
type WeaviateRetriever struct {
	client *weaviate.Client
}

// NewWeaviateRetriever creates a retriever over an already-connected client.
func NewWeaviateRetriever(client *weaviate.Client) *WeaviateRetriever {
	return &WeaviateRetriever{client: client}
}

type legalDocumentRow struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type legalDocumentQueryResponse struct {
	Get struct {
		LegalDocument []legalDocumentRow `json:"LegalDocument"`
	} `json:"Get"`
}

// Retrieve returns up to limit passages ranked by BM25 relevance.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string, limit int) ([]Passage, error) {
	if limit <= 0 {
		limit = DefaultRetrievalLimit
	}

	resp, err := r.client.GraphQL().Get().
		WithClassName(ClassLegalDocument).
		WithFields(graphql.Field{Name: "title"}, graphql.Field{Name: "content"}).
		WithBM25(r.client.GraphQL().Bm25ArgBuilder().WithQuery(query)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve documents: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("retrieve documents: graphql error: %s", resp.Errors[0].Message)
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal retrieval response: %w", err)
	}
	var parsed legalDocumentQueryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal retrieval response: %w", err)
	}

	passages := make([]Passage, 0, len(parsed.Get.LegalDocument))
	for i, row := range parsed.Get.LegalDocument {
		passages = append(passages, Passage{
			Title:   row.Title,
			Content: row.Content,
			Rank:    i,
		})
	}
	return passages, nil
}

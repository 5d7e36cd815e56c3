// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
)

// MedicalChunkClassName is the Weaviate class holding the curated medical
// corpus.
const MedicalChunkClassName = "MedicalChunk"

// chunkQueryResponse mirrors the GraphQL Get shape for MedicalChunk.
type chunkQueryResponse struct {
	Get struct {
		MedicalChunk []chunkResult `json:"MedicalChunk"`
	} `json:"Get"`
}

// chunkResult represents a single corpus chunk from a query.
type chunkResult struct {
	ChunkID        string `json:"chunk_id"`
	DocumentID     string `json:"document_id"`
	Title          string `json:"title"`
	Source         string `json:"source"`
	PageNumber     int    `json:"page_number"`
	Domain         string `json:"domain"`
	AuthorityLevel int    `json:"authority_level"`
	Content        string `json:"content"`
	Additional     struct {
		ID        string   `json:"id"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// parseGraphQLResponse converts Weaviate's dynamic response data into a
// strongly typed struct. The target type's json tags must match the query's
// field names; mismatches produce zero values, not errors.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// WeaviateSearchClient implements SearchClient against a Weaviate instance
// holding the curated medical corpus.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is goroutine-safe.
type WeaviateSearchClient struct {
	client *weaviate.Client
}

var _ SearchClient = (*WeaviateSearchClient)(nil)

// NewWeaviateSearchClient wraps an initialized Weaviate client.
func NewWeaviateSearchClient(client *weaviate.Client) *WeaviateSearchClient {
	return &WeaviateSearchClient{client: client}
}

// Search runs a nearText query over the medical corpus.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - query: The user's question, used as the search concept.
//   - k: Raw candidate limit.
//   - domain: When non-empty, restricts results to one medical domain.
//
// # Outputs
//
//   - []datatypes.Chunk: Candidates with certainty mapped to Similarity.
//   - error: Non-nil on query or parse failure.
func (w *WeaviateSearchClient) Search(ctx context.Context, query string, k int, domain string) ([]datatypes.Chunk, error) {
	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "chunk_id"},
		{Name: "document_id"},
		{Name: "title"},
		{Name: "source"},
		{Name: "page_number"},
		{Name: "domain"},
		{Name: "authority_level"},
		{Name: "content"},
		{Name: "_additional { id certainty }"},
	}

	builder := w.client.GraphQL().Get().
		WithClassName(MedicalChunkClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k)

	if domain != "" {
		builder = builder.WithWhere(filters.Where().
			WithPath([]string{"domain"}).
			WithOperator(filters.Equal).
			WithValueString(domain))
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("corpus search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("corpus search error: %s", result.Errors[0].Message)
	}

	parsed, err := parseGraphQLResponse[chunkQueryResponse](result)
	if err != nil {
		return nil, err
	}

	chunks := make([]datatypes.Chunk, 0, len(parsed.Get.MedicalChunk))
	for _, r := range parsed.Get.MedicalChunk {
		chunk := datatypes.Chunk{
			ChunkID:        r.ChunkID,
			DocumentID:     r.DocumentID,
			Title:          r.Title,
			Source:         r.Source,
			PageNumber:     r.PageNumber,
			Domain:         r.Domain,
			AuthorityLevel: r.AuthorityLevel,
			Content:        r.Content,
		}
		if chunk.ChunkID == "" {
			chunk.ChunkID = r.Additional.ID
		}
		if r.Additional.Certainty != nil {
			chunk.Similarity = float64(*r.Additional.Certainty)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

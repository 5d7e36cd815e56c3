// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

// TestParseGraphQLResponse verifies the dynamic GraphQL payload maps onto the
// typed chunk shape.
func TestParseGraphQLResponse(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"MedicalChunk": []any{
					map[string]any{
						"chunk_id":        "c-1",
						"document_id":     "d-1",
						"title":           "Hypertension basics",
						"source":          "who_guidelines",
						"page_number":     12,
						"domain":          "cardiology",
						"authority_level": 3,
						"content":         "Blood pressure guidance.",
						"_additional": map[string]any{
							"id":        "uuid-1",
							"certainty": 0.91,
						},
					},
				},
			},
		},
	}

	parsed, err := parseGraphQLResponse[chunkQueryResponse](resp)
	require.NoError(t, err)
	require.Len(t, parsed.Get.MedicalChunk, 1)

	r := parsed.Get.MedicalChunk[0]
	assert.Equal(t, "c-1", r.ChunkID)
	assert.Equal(t, "Hypertension basics", r.Title)
	assert.Equal(t, 12, r.PageNumber)
	assert.Equal(t, 3, r.AuthorityLevel)
	assert.Equal(t, "uuid-1", r.Additional.ID)
	require.NotNil(t, r.Additional.Certainty)
	assert.InDelta(t, 0.91, float64(*r.Additional.Certainty), 1e-6)
}

// TestParseGraphQLResponseNil verifies a nil response errors instead of
// panicking.
func TestParseGraphQLResponseNil(t *testing.T) {
	_, err := parseGraphQLResponse[chunkQueryResponse](nil)
	assert.Error(t, err)
}

// TestParseGraphQLResponseMissingFields verifies unknown shapes decode to
// zero values rather than failing.
func TestParseGraphQLResponseMissingFields(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{"MedicalChunk": []any{map[string]any{}}},
		},
	}
	parsed, err := parseGraphQLResponse[chunkQueryResponse](resp)
	require.NoError(t, err)
	require.Len(t, parsed.Get.MedicalChunk, 1)
	assert.Empty(t, parsed.Get.MedicalChunk[0].ChunkID)
	assert.Nil(t, parsed.Get.MedicalChunk[0].Additional.Certainty)
}

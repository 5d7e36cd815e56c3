// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
)

// fakeSearchClient scripts collaborator behavior per call.
type fakeSearchClient struct {
	chunks   []datatypes.Chunk
	errs     []error
	calls    int
	lastK    int
	lastDom  string
	lastText string
}

func (f *fakeSearchClient) Search(ctx context.Context, query string, k int, domain string) ([]datatypes.Chunk, error) {
	idx := f.calls
	f.calls++
	f.lastK = k
	f.lastDom = domain
	f.lastText = query
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	return f.chunks, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func chunk(id string, sim float64) datatypes.Chunk {
	return datatypes.Chunk{
		ChunkID:    id,
		DocumentID: "doc-" + id,
		Source:     "src-" + id,
		Similarity: sim,
		Content:    "content " + id,
	}
}

// TestRetrieveCapsAndFloors verifies TopK capping and the similarity floor.
func TestRetrieveCapsAndFloors(t *testing.T) {
	client := &fakeSearchClient{chunks: []datatypes.Chunk{
		chunk("a", 0.9), chunk("b", 0.8), chunk("c", 0.7),
		chunk("d", 0.6), chunk("e", 0.5), chunk("f", 0.1), // below floor
	}}
	g := NewGateway(client, testConfig())

	res, err := g.Retrieve(context.Background(), "diabetes diet", "")
	require.NoError(t, err)
	assert.Len(t, res.Chunks, 4)
	assert.Equal(t, "a", res.Chunks[0].ChunkID)
	for _, c := range res.Chunks {
		assert.NotEqual(t, "f", c.ChunkID)
	}
	// Over-fetch factor for reranking headroom.
	assert.Equal(t, 12, client.lastK)
}

// TestRetrieveConfidence pins the blend: best*0.7 + coverage*0.3.
func TestRetrieveConfidence(t *testing.T) {
	client := &fakeSearchClient{chunks: []datatypes.Chunk{
		chunk("a", 0.8), chunk("b", 0.6),
	}}
	g := NewGateway(client, testConfig())

	res, err := g.Retrieve(context.Background(), "q", "")
	require.NoError(t, err)
	// best score 0.8, coverage 2/4.
	assert.InDelta(t, 0.8*0.7+0.5*0.3, res.Confidence, 1e-9)
}

// TestRetrieveAuthorityAndDomainBonus verifies reranking prefers
// authoritative and domain-matching chunks at comparable similarity.
func TestRetrieveAuthorityAndDomainBonus(t *testing.T) {
	generic := chunk("generic", 0.80)
	who := chunk("who", 0.79)
	who.AuthorityLevel = 3
	onDomain := chunk("ondomain", 0.78)
	onDomain.Domain = "cardiology"

	client := &fakeSearchClient{chunks: []datatypes.Chunk{generic, who, onDomain}}
	g := NewGateway(client, testConfig())

	res, err := g.Retrieve(context.Background(), "q", "cardiology")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 3)
	// who: 0.79 + 0.09 = 0.88; ondomain: 0.78 + 0.05 = 0.83; generic: 0.80.
	assert.Equal(t, "who", res.Chunks[0].ChunkID)
	assert.Equal(t, "ondomain", res.Chunks[1].ChunkID)
	assert.Equal(t, "generic", res.Chunks[2].ChunkID)
	assert.Equal(t, "cardiology", client.lastDom)
}

// TestRetrieveGeneralDomainDropsFilter verifies "general" is not passed as a
// corpus filter.
func TestRetrieveGeneralDomainDropsFilter(t *testing.T) {
	client := &fakeSearchClient{chunks: []datatypes.Chunk{chunk("a", 0.9)}}
	g := NewGateway(client, testConfig())

	_, err := g.Retrieve(context.Background(), "q", "general")
	require.NoError(t, err)
	assert.Empty(t, client.lastDom)
}

// TestRetrieveRetriesOnce verifies a single transient failure is retried and
// a second failure returns ErrUnavailable.
func TestRetrieveRetriesOnce(t *testing.T) {
	client := &fakeSearchClient{
		chunks: []datatypes.Chunk{chunk("a", 0.9)},
		errs:   []error{errors.New("boom")},
	}
	g := NewGateway(client, testConfig())

	res, err := g.Retrieve(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	assert.Len(t, res.Chunks, 1)

	client = &fakeSearchClient{errs: []error{errors.New("boom"), errors.New("boom")}}
	g = NewGateway(client, testConfig())
	_, err = g.Retrieve(context.Background(), "q", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, client.calls)
}

// TestRetrieveEmpty verifies a floor-filtered set yields an empty result,
// not an error.
func TestRetrieveEmpty(t *testing.T) {
	client := &fakeSearchClient{chunks: []datatypes.Chunk{chunk("a", 0.05)}}
	g := NewGateway(client, testConfig())

	res, err := g.Retrieve(context.Background(), "q", "")
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Zero(t, res.Confidence)
}

// TestRetrieveDeterministicTiebreak verifies equal scores order by chunk ID.
func TestRetrieveDeterministicTiebreak(t *testing.T) {
	client := &fakeSearchClient{chunks: []datatypes.Chunk{
		chunk("b", 0.8), chunk("a", 0.8), chunk("c", 0.8),
	}}
	g := NewGateway(client, testConfig())

	res, err := g.Retrieve(context.Background(), "q", "")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 3)
	assert.Equal(t, "a", res.Chunks[0].ChunkID)
	assert.Equal(t, "b", res.Chunks[1].ChunkID)
	assert.Equal(t, "c", res.Chunks[2].ChunkID)
}

// TestNoopSearchClient verifies the ungrounded-mode client returns nothing.
func TestNoopSearchClient(t *testing.T) {
	g := NewGateway(NoopSearchClient{}, testConfig())
	res, err := g.Retrieve(context.Background(), "q", "cardiology")
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

// TestConfigValidation verifies out-of-range config values fall back to
// defaults.
func TestConfigValidation(t *testing.T) {
	g := NewGateway(NoopSearchClient{}, Config{TopK: -1, SimilarityFloor: 2})
	assert.Equal(t, DefaultConfig().TopK, g.config.TopK)
	assert.Equal(t, DefaultConfig().SimilarityFloor, g.config.SimilarityFloor)
	assert.Equal(t, DefaultConfig().Timeout, g.config.Timeout)
}

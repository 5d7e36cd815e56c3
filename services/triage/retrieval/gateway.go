// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval is the thin gateway to the external similarity-search
// collaborator. It normalizes collaborator output into the canonical chunk
// shape, caps the result count, drops results below a similarity floor, and
// scores the surviving set.
//
// The gateway is never called on an emergency turn. That gate lives in the
// assembler and is a hard rule, not an optimization: presenting unrelated
// medical literature during a crisis is a safety failure.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
)

var tracer = otel.Tracer("medgate.triage.retrieval")

// ErrUnavailable marks a search collaborator failure after retries. Callers
// recover by degrading to an ungrounded turn; the error is never surfaced to
// the end user.
var ErrUnavailable = errors.New("search collaborator unavailable")

// SearchClient is the contract to the external similarity-search
// collaborator. Implementations return ranked chunks with similarity scores
// in [0,1]; k bounds the raw candidate count and domain, when non-empty,
// filters the corpus.
type SearchClient interface {
	Search(ctx context.Context, query string, k int, domain string) ([]datatypes.Chunk, error)
}

// NoopSearchClient always returns no chunks. Used when no search
// collaborator is configured; every turn degrades to ungrounded.
type NoopSearchClient struct{}

var _ SearchClient = NoopSearchClient{}

func (NoopSearchClient) Search(ctx context.Context, query string, k int, domain string) ([]datatypes.Chunk, error) {
	return nil, nil
}

// Config tunes the gateway.
type Config struct {
	// TopK caps the number of chunks in a result.
	TopK int

	// SimilarityFloor drops chunks scoring below it.
	SimilarityFloor float64

	// Timeout bounds one search call.
	Timeout time.Duration

	// RetryBackoff is the wait before the single retry on a transient
	// collaborator failure.
	RetryBackoff time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TopK:            4,
		SimilarityFloor: 0.25,
		Timeout:         10 * time.Second,
		RetryBackoff:    500 * time.Millisecond,
	}
}

// validate corrects out-of-range config values, logging each correction.
func (c Config) validate() Config {
	d := DefaultConfig()
	if c.TopK <= 0 {
		slog.Warn("Invalid TopK config, using default", "provided", c.TopK, "default", d.TopK)
		c.TopK = d.TopK
	}
	if c.SimilarityFloor < 0 || c.SimilarityFloor >= 1 {
		slog.Warn("Invalid SimilarityFloor config, using default", "provided", c.SimilarityFloor, "default", d.SimilarityFloor)
		c.SimilarityFloor = d.SimilarityFloor
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	return c
}

// Gateway normalizes and scores collaborator results.
type Gateway struct {
	client SearchClient
	config Config
}

// NewGateway wraps a search client with the configured bounds.
func NewGateway(client SearchClient, config Config) *Gateway {
	return &Gateway{client: client, config: config.validate()}
}

// Retrieve fetches candidate knowledge for a query.
//
// One transient collaborator failure is retried after a short backoff; a
// second failure returns an error wrapping ErrUnavailable. Results are
// floored, reranked with authority and domain bonuses, capped at TopK, and
// scored: confidence = bestScore*0.7 + coverage*0.3, clamped to [0,1].
func (g *Gateway) Retrieve(ctx context.Context, query string, domainHint string) (*datatypes.RetrievalResult, error) {
	ctx, span := tracer.Start(ctx, "Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.domain_hint", domainHint),
		attribute.Int("retrieval.top_k", g.config.TopK),
	)

	if domainHint == "general" {
		domainHint = ""
	}

	chunks, err := g.search(ctx, query, domainHint)
	if err != nil {
		return nil, err
	}

	ranked := g.rank(chunks, domainHint)
	if len(ranked) == 0 {
		slog.Debug("Retrieval returned no chunks above the floor", "domain", domainHint)
		return &datatypes.RetrievalResult{}, nil
	}

	best := ranked[0].score
	kept := make([]datatypes.Chunk, 0, g.config.TopK)
	for _, rc := range ranked {
		kept = append(kept, rc.chunk)
		if len(kept) == g.config.TopK {
			break
		}
	}

	coverage := float64(len(kept)) / float64(g.config.TopK)
	confidence := clamp01(best*0.7 + coverage*0.3)

	span.SetAttributes(
		attribute.Int("retrieval.chunks", len(kept)),
		attribute.Float64("retrieval.confidence", confidence),
	)
	return &datatypes.RetrievalResult{Chunks: kept, Confidence: confidence}, nil
}

// search performs the collaborator call with a timeout and one retry.
func (g *Gateway) search(ctx context.Context, query, domain string) ([]datatypes.Chunk, error) {
	// Over-fetch so the floor and rerank have candidates to work with.
	rawK := g.config.TopK * 3

	attempt := func() ([]datatypes.Chunk, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
		return g.client.Search(callCtx, query, rawK, domain)
	}

	chunks, err := attempt()
	if err == nil {
		return chunks, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	slog.Warn("Search collaborator failed, retrying once", "error", err, "backoff", g.config.RetryBackoff)
	select {
	case <-time.After(g.config.RetryBackoff):
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}

	chunks, err = attempt()
	if err != nil {
		slog.Error("Search collaborator failed after retry", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return chunks, nil
}

type rankedChunk struct {
	chunk datatypes.Chunk
	score float64
}

// Rerank bonuses. Authority contributes a small deterministic boost so
// CDC/WHO class sources outrank generic ones at comparable similarity.
const (
	authorityBonusPerLevel = 0.03
	domainMatchBonus       = 0.05
)

// rank floors, scores, and orders candidates deterministically.
func (g *Gateway) rank(chunks []datatypes.Chunk, domain string) []rankedChunk {
	ranked := make([]rankedChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Similarity < g.config.SimilarityFloor {
			continue
		}
		score := c.Similarity + authorityBonusPerLevel*float64(c.AuthorityLevel)
		if domain != "" && c.Domain == domain {
			score += domainMatchBonus
		}
		ranked = append(ranked, rankedChunk{chunk: c, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].chunk.ChunkID < ranked[j].chunk.ChunkID
	})
	return ranked
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

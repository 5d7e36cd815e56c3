// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the generation collaborator contract and its
// implementations: an online OpenAI-backed client and a deterministic
// offline generator that is guaranteed to return without any network
// dependency.
//
// The decision core never trusts a generator with safety conclusions. A
// Draft carries text plus the generator's self-reported confidence; risk
// verdicts, suppression, and escalation are decided upstream.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable marks a generation backend that failed or timed out. The
// caller recovers by falling back to the offline generator; the error is
// never surfaced to the end user.
var ErrUnavailable = errors.New("generation backend unavailable")

// Turn is one prior exchange supplied as conversation history.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request is one generation call.
type Request struct {
	// Message is the current user message.
	Message string

	// History is the recent conversation window, oldest first.
	History []Turn

	// Context holds retrieved knowledge chunks the reply must be grounded
	// in. Empty means no retrieval evidence is available.
	Context []string

	// DomainHint is the routed medical domain, or "" / "general".
	DomainHint string
}

// Draft is a generated reply candidate with the generator's self-assessment.
type Draft struct {
	Text string

	// Confidence is the generator's self-reported score in [0,1]. Fusion
	// combines it with retrieval confidence; it is never shown raw.
	Confidence float64

	// Mode is "online" or "offline".
	Mode string

	// ReasoningSummary is a short deterministic note on how the draft was
	// produced, for the explainability record.
	ReasoningSummary string
}

// Generator is the standard interface for any generation backend.
//
// Implementations must be safe for concurrent use and must respect ctx
// cancellation on blocking calls.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Draft, error)
}

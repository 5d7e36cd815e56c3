// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fusion combines retrieval confidence and generation confidence
// into the single trust score attached to every assistant turn.
//
// The fusion rule is conjunctive: when both inputs exist the final score is
// their minimum, never an average. A fluent generation over weak evidence
// must not read as confident.
package fusion

import (
	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
)

// Default thresholds. Both are configurable; the values are pinned by tests.
const (
	// DefaultAdvisoryThreshold: below this final confidence the assembler
	// attaches a low-confidence advisory to the outward reply.
	DefaultAdvisoryThreshold = 0.4

	// DefaultSuppressionFloor: below this retrieval confidence the chunks
	// are not trustworthy enough to cite, and citation detail is withheld.
	DefaultSuppressionFloor = 0.35
)

// Input carries one turn's confidence signals into the fuser.
type Input struct {
	// RetrievalConfidence is the gateway's score for the retrieved set.
	// Meaningless when RetrievalSkipped is true.
	RetrievalConfidence float64

	// RetrievalSkipped is true when retrieval never ran this turn
	// (emergency override, clarification, small talk).
	RetrievalSkipped bool

	// GenerationConfidence is the generation collaborator's self-reported
	// score for its draft.
	GenerationConfidence float64

	// Verdict is this turn's risk verdict.
	Verdict datatypes.RiskVerdict
}

// Fuser applies the fusion rule with configured thresholds.
type Fuser struct {
	advisoryThreshold float64
	suppressionFloor  float64
}

// New returns a fuser. Non-positive thresholds fall back to the defaults.
func New(advisoryThreshold, suppressionFloor float64) *Fuser {
	if advisoryThreshold <= 0 {
		advisoryThreshold = DefaultAdvisoryThreshold
	}
	if suppressionFloor <= 0 {
		suppressionFloor = DefaultSuppressionFloor
	}
	return &Fuser{
		advisoryThreshold: advisoryThreshold,
		suppressionFloor:  suppressionFloor,
	}
}

// Fuse computes the confidence record for one turn.
//
// Emergency turns: retrieval was never called, the final score is the
// generation confidence, and the record is tagged emergency_override.
// Citation content is withheld regardless of the numeric score.
//
// Non-emergency with retrieval: final = min(retrieval, generation).
// Non-emergency without retrieval: final = generation confidence.
func (f *Fuser) Fuse(in Input) datatypes.ConfidenceRecord {
	rec := datatypes.ConfidenceRecord{
		GenerationConfidence: in.GenerationConfidence,
	}

	if in.Verdict.Emergency() {
		rec.FinalConfidence = in.GenerationConfidence
		rec.SuppressionReason = datatypes.SuppressionEmergencyOverride
		return rec
	}

	if in.RetrievalSkipped {
		rec.FinalConfidence = in.GenerationConfidence
		return rec
	}

	rec.RetrievalConfidence = in.RetrievalConfidence
	rec.FinalConfidence = min(in.RetrievalConfidence, in.GenerationConfidence)
	return rec
}

// LowConfidence reports whether the fused score requires the outward
// low-confidence advisory.
func (f *Fuser) LowConfidence(rec datatypes.ConfidenceRecord) bool {
	return rec.FinalConfidence < f.advisoryThreshold
}

// SuppressCitations reports whether retrieval scored below the floor at
// which its chunks may be cited.
func (f *Fuser) SuppressCitations(retrievalConfidence float64) bool {
	return retrievalConfidence < f.suppressionFloor
}

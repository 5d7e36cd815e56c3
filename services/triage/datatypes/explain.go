// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Suppression Reasons
// =============================================================================

// Suppression reason values recorded on a ConfidenceRecord when citation
// detail is withheld from the outward reply. An empty reason means citations
// were allowed.
const (
	// SuppressionEmergencyOverride: the turn hit the emergency path; retrieval
	// never ran and no source detail may be disclosed.
	SuppressionEmergencyOverride = "emergency_override"

	// SuppressionLowRetrievalConfidence: retrieval ran but scored below the
	// configured floor, so its chunks are not trustworthy enough to cite.
	SuppressionLowRetrievalConfidence = "low_retrieval_confidence"

	// SuppressionClarificationRequired: the turn produced a deterministic
	// clarification question; no retrieval or generation happened.
	SuppressionClarificationRequired = "clarification_required"

	// SuppressionNoSources: retrieval returned nothing usable.
	SuppressionNoSources = "no_high_confidence_sources"

	// SuppressionAmbiguousSymptoms: a vague symptom statement without an
	// explicit condition; citing literature would imply false precision.
	SuppressionAmbiguousSymptoms = "ambiguous_symptoms"

	// Non-medical small talk prefixed reasons. These turns never touch
	// retrieval or generation.
	SuppressionGreeting   = "non_medical_greeting"
	SuppressionThanks     = "non_medical_thanks"
	SuppressionGoodbye    = "non_medical_goodbye"
	SuppressionCapability = "non_medical_capability"
)

// =============================================================================
// Model Modes
// =============================================================================

// Model modes recorded on explainability records.
const (
	ModelModeOnline  = "online"
	ModelModeOffline = "offline"
)

// =============================================================================
// Confidence Record
// =============================================================================

// ConfidenceRecord is the fused trust score for one assistant turn.
//
// FinalConfidence is a function of retrieval confidence, generation
// confidence, and the risk verdict. It is never a plain average: a
// confident-sounding generation over weak evidence must not read as
// confident, so when both inputs exist the final score is their minimum.
type ConfidenceRecord struct {
	RetrievalConfidence  float64 `json:"retrieval_confidence"`
	GenerationConfidence float64 `json:"generation_confidence"`
	FinalConfidence      float64 `json:"final_confidence"`
	SuppressionReason    string  `json:"suppression_reason,omitempty"`
}

// Suppressed reports whether citation detail was withheld.
func (c ConfidenceRecord) Suppressed() bool {
	return c.SuppressionReason != ""
}

// =============================================================================
// Domain Routing
// =============================================================================

// DomainMatch is one matched medical domain with its keyword evidence.
type DomainMatch struct {
	Domain          string   `json:"domain"`
	Score           int      `json:"score"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

// RoutingDecision is the deterministic domain inference for one message.
type RoutingDecision struct {
	PrimaryDomain string        `json:"primary_domain"`
	Reason        string        `json:"reason"`
	Matches       []DomainMatch `json:"matches,omitempty"`
}

// =============================================================================
// Explainability Record
// =============================================================================

// ExplainabilityRecord ties one assistant message back to every input that
// produced it. Exactly one record exists per assistant message; it is written
// atomically with the message and immutable afterwards.
type ExplainabilityRecord struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`

	Verdict    RiskVerdict     `json:"risk_verdict"`
	Routing    RoutingDecision `json:"routing"`
	Confidence ConfidenceRecord `json:"confidence"`

	Phase     Phase             `json:"phase"`
	Slots     map[string]string `json:"slots_collected,omitempty"`
	ModelMode string            `json:"model_mode"`

	// ReasoningSummary is a deterministic explanation assembled from the
	// record's own fields. It is never an LLM output.
	ReasoningSummary string `json:"reasoning_summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// Escalation
// =============================================================================

// Escalation is a durable request for human clinical follow-up.
//
// Resolved transitions false -> true exactly once; there is no un-resolving.
type Escalation struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Reason         string     `json:"reason"`
	Notes          string     `json:"notes,omitempty"`
	Resolved       bool       `json:"resolved"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the shared data model for the triage service.
//
// This file contains the conversation and message types. Messages are
// append-only: once written they are never mutated. The conversation record
// carries the mutable per-conversation state (phase, collected slots,
// clarification counters) that the assembler updates once per turn while
// holding the conversation lock.
package datatypes

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// =============================================================================
// Conversation Phase
// =============================================================================

// Phase is the conversation's current stage in the triage lifecycle.
//
// The phase is mutated only by the phase tracker, exactly once per turn.
// PhaseEscalated is terminal for chat input: only resolving the escalation
// (a human action) moves the conversation out of it.
type Phase string

const (
	PhaseOpening        Phase = "opening"
	PhaseRiskAssessment Phase = "risk_assessment"
	PhaseInfoGathering  Phase = "info_gathering"
	PhaseClarification  Phase = "clarification"
	PhaseAnswering      Phase = "answering"
	PhaseEscalated      Phase = "escalated"
	PhaseClosed         Phase = "closed"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseOpening, PhaseRiskAssessment, PhaseInfoGathering,
		PhaseClarification, PhaseAnswering, PhaseEscalated, PhaseClosed:
		return true
	}
	return false
}

// =============================================================================
// Risk Verdict
// =============================================================================

// RiskLevel is the classifier's per-message safety tier.
type RiskLevel string

const (
	RiskLow       RiskLevel = "low"
	RiskHigh      RiskLevel = "high"
	RiskEmergency RiskLevel = "emergency"
)

// RiskVerdict is the deterministic safety conclusion for a single message.
//
// Verdicts are message-scoped: a verdict is computed fresh for every inbound
// message and never carried over from a previous turn. Trigger holds the
// matched pattern when one fired; Family names the pattern family for the
// audit trail.
type RiskVerdict struct {
	Level   RiskLevel `json:"level"`
	Trigger string    `json:"trigger,omitempty"`
	Family  string    `json:"family,omitempty"`
	Reason  string    `json:"reason"`
}

// Emergency reports whether the verdict requires the emergency path.
func (v RiskVerdict) Emergency() bool {
	return v.Level == RiskEmergency
}

// =============================================================================
// Messages
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single immutable chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewMessage mints a message with a fresh UUID and the current timestamp.
func NewMessage(conversationID string, role Role, content string) Message {
	return Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}

// =============================================================================
// Conversations
// =============================================================================

// Conversation owns an ordered sequence of messages plus the per-conversation
// state the turn pipeline needs across turns.
//
// Slots and ClarificationTurns exist so the clarification loop can merge
// evidence across turns and stay bounded; PrimaryDomain keeps the first
// established medical domain sticky for vague follow-ups. None of these feed
// back into risk classification, which remains a pure function of the
// current message.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Phase     Phase     `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// PrimaryDomain is the sticky medical domain established by the first
	// non-general routing decision. Empty until established.
	PrimaryDomain string `json:"primary_domain,omitempty"`

	// Slots holds the clarification evidence collected so far
	// (symptom, duration, severity, plus best-effort extras).
	Slots map[string]string `json:"slots,omitempty"`

	// ClarificationTurns counts consecutive unresolved clarification turns.
	// The tracker forces PhaseAnswering once the configured bound is hit.
	ClarificationTurns int `json:"clarification_turns"`
}

// NewConversation mints a conversation in the opening phase.
func NewConversation() Conversation {
	now := time.Now().UTC()
	return Conversation{
		ID:        uuid.NewString(),
		Phase:     PhaseOpening,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// titleWords is the number of leading words used for a derived title.
const titleWords = 6

// DeriveTitle builds a conversation title from the first words of text.
func DeriveTitle(text string) string {
	words := strings.Fields(strings.TrimSpace(text))
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	title := strings.Join(words, " ")
	if title == "" {
		return title
	}
	r, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(r)) + title[size:]
}

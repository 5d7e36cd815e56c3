// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package phase implements the conversation phase state machine.
//
// The transition function is total: every combination of current phase, risk
// verdict, and extracted intent maps to exactly one next phase. The emergency
// rule is enforced ahead of all other transition logic so no path can skip
// the escalated phase while an emergency verdict is present on the current
// turn.
package phase

import (
	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
)

// DefaultMaxClarificationTurns bounds the clarification loop. After this many
// unresolved clarification turns the tracker forces answering with
// best-effort data rather than looping forever.
const DefaultMaxClarificationTurns = 2

// Input is everything the transition function may observe for one turn.
type Input struct {
	// Current is the conversation's phase before this turn.
	Current datatypes.Phase

	// Verdict is the risk classifier's conclusion for this turn's message.
	Verdict datatypes.RiskVerdict

	// SlotsMissing reports whether any required clarification slot
	// (symptom, duration, severity) is still unfilled after merging this
	// message's extractions.
	SlotsMissing bool

	// Substantive reports whether the message carries medical content
	// (greetings and other small talk are not substantive).
	Substantive bool

	// FollowUp reports whether the message is a follow-up that requires a
	// fresh retrieval pass.
	FollowUp bool

	// ClarificationTurns counts consecutive unresolved clarification turns
	// so far, before this one.
	ClarificationTurns int
}

// Tracker advances the conversation phase once per turn.
type Tracker struct {
	maxClarificationTurns int
}

// New returns a tracker with the given clarification bound. Non-positive
// values fall back to DefaultMaxClarificationTurns.
func New(maxClarificationTurns int) *Tracker {
	if maxClarificationTurns <= 0 {
		maxClarificationTurns = DefaultMaxClarificationTurns
	}
	return &Tracker{maxClarificationTurns: maxClarificationTurns}
}

// Next returns the phase after this turn.
//
// The emergency check runs first and wins from every phase, including
// closed. The escalated phase is terminal for chat input: nothing but an
// explicit human close moves a conversation out of it.
func (t *Tracker) Next(in Input) datatypes.Phase {
	if in.Verdict.Emergency() {
		return datatypes.PhaseEscalated
	}
	if in.Current == datatypes.PhaseEscalated {
		return datatypes.PhaseEscalated
	}

	switch in.Current {
	case datatypes.PhaseOpening:
		if !in.Substantive {
			return datatypes.PhaseOpening
		}
		return datatypes.PhaseRiskAssessment

	case datatypes.PhaseRiskAssessment:
		if in.SlotsMissing {
			return datatypes.PhaseClarification
		}
		return datatypes.PhaseAnswering

	case datatypes.PhaseClarification:
		if !in.SlotsMissing {
			return datatypes.PhaseAnswering
		}
		if in.ClarificationTurns >= t.maxClarificationTurns {
			// Bounded retries exhausted: answer with best-effort data.
			return datatypes.PhaseAnswering
		}
		return datatypes.PhaseClarification

	case datatypes.PhaseAnswering, datatypes.PhaseInfoGathering:
		if in.FollowUp {
			return datatypes.PhaseInfoGathering
		}
		return datatypes.PhaseAnswering

	case datatypes.PhaseClosed:
		// A new substantive message reopens the consultation.
		if in.Substantive {
			return datatypes.PhaseRiskAssessment
		}
		return datatypes.PhaseClosed
	}

	// Unknown phase degrades to staying put rather than failing the turn.
	return in.Current
}

// Close applies the explicit external close action. It succeeds from any
// non-escalated phase; an escalated conversation stays escalated until its
// escalation is resolved by a human.
func Close(current datatypes.Phase) datatypes.Phase {
	if current == datatypes.PhaseEscalated {
		return datatypes.PhaseEscalated
	}
	return datatypes.PhaseClosed
}

// CloseEscalated is the human resolution path: it closes a conversation
// regardless of phase, including escalated.
func CloseEscalated(current datatypes.Phase) datatypes.Phase {
	_ = current
	return datatypes.PhaseClosed
}

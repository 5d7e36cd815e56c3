// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assembler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
)

// TestSmallTalkReason verifies intent gate classification of non-medical
// messages.
func TestSmallTalkReason(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"Hello!", datatypes.SuppressionGreeting},
		{"good morning", datatypes.SuppressionGreeting},
		{"thanks a lot", datatypes.SuppressionThanks},
		{"Thank you!", datatypes.SuppressionThanks},
		{"bye", datatypes.SuppressionGoodbye},
		{"ok good night", datatypes.SuppressionGoodbye},
		{"what can you do", datatypes.SuppressionCapability},
		{"are you a doctor?", datatypes.SuppressionCapability},
		{"I have a headache", ""},
		{"hi, I have chest pain and feel dizzy", ""},
		{"thanks to the fever I could not sleep at all last night", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, smallTalkReason(tt.message), "message: %q", tt.message)
	}
}

// TestSmallTalkReply verifies every reason renders a non-empty canned reply.
func TestSmallTalkReply(t *testing.T) {
	for _, reason := range []string{
		datatypes.SuppressionGreeting,
		datatypes.SuppressionThanks,
		datatypes.SuppressionGoodbye,
		datatypes.SuppressionCapability,
	} {
		assert.NotEmpty(t, smallTalkReply(reason))
	}
	assert.Empty(t, smallTalkReply("something_else"))
}

// TestIsVagueFollowUp verifies the anaphoric follow-up heuristic.
func TestIsVagueFollowUp(t *testing.T) {
	assert.True(t, isVagueFollowUp("what about children"))
	assert.True(t, isVagueFollowUp("is that dangerous"))
	assert.True(t, isVagueFollowUp("does it spread"))
	assert.False(t, isVagueFollowUp("I have a sharp pain in my lower back"))
	assert.False(t, isVagueFollowUp("my blood pressure reading was 150 over 95 this morning, should I worry"))
}

// TestIsAmbiguousSymptoms verifies vague complaints are flagged unless a
// condition is named.
func TestIsAmbiguousSymptoms(t *testing.T) {
	assert.True(t, isAmbiguousSymptoms("I feel tired all the time"))
	assert.True(t, isAmbiguousSymptoms("just feeling off and a bit weak"))
	assert.False(t, isAmbiguousSymptoms("I feel tired all the time and I have diabetes"))
	assert.False(t, isAmbiguousSymptoms("I have a sharp pain in my knee"))
}

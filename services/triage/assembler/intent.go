// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assembler

import (
	"strings"

	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
)

// Small-talk gates. These run before retrieval and generation: a greeting or
// a thanks must never trigger a corpus search or an LLM call. Each gate
// requires the message to be short so that "hi, I have chest pain" is never
// treated as a greeting.

const smallTalkMaxWords = 6

var greetingWords = []string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening", "greetings"}
var thanksWords = []string{"thanks", "thank you", "thx", "appreciate it"}
var goodbyeWords = []string{"bye", "goodbye", "see you", "take care", "good night"}
var capabilityPhrases = []string{
	"what can you do", "who are you", "what are you", "how do you work",
	"what do you do", "are you a doctor", "are you a bot", "help me understand what you",
}

func normalizeIntent(message string) string {
	msg := strings.ToLower(strings.TrimSpace(message))
	msg = strings.Trim(msg, ".!?,")
	return strings.Join(strings.Fields(msg), " ")
}

func shortEnough(msg string) bool {
	return len(strings.Fields(msg)) <= smallTalkMaxWords
}

func isGreeting(message string) bool {
	msg := normalizeIntent(message)
	if !shortEnough(msg) {
		return false
	}
	for _, w := range greetingWords {
		if msg == w || strings.HasPrefix(msg, w+" ") {
			return true
		}
	}
	return false
}

func isThanks(message string) bool {
	msg := normalizeIntent(message)
	if !shortEnough(msg) {
		return false
	}
	for _, w := range thanksWords {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

func isGoodbye(message string) bool {
	msg := normalizeIntent(message)
	if !shortEnough(msg) {
		return false
	}
	for _, w := range goodbyeWords {
		if msg == w || strings.HasPrefix(msg, w+" ") || strings.HasSuffix(msg, " "+w) {
			return true
		}
	}
	return false
}

func isCapability(message string) bool {
	msg := normalizeIntent(message)
	for _, p := range capabilityPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// smallTalkReason returns the suppression reason for a small-talk message,
// or "" when the message is substantive.
func smallTalkReason(message string) string {
	switch {
	case isGreeting(message):
		return datatypes.SuppressionGreeting
	case isThanks(message):
		return datatypes.SuppressionThanks
	case isGoodbye(message):
		return datatypes.SuppressionGoodbye
	case isCapability(message):
		return datatypes.SuppressionCapability
	}
	return ""
}

// smallTalkReply renders the canned reply for a small-talk turn.
func smallTalkReply(reason string) string {
	switch reason {
	case datatypes.SuppressionGreeting:
		return "Hello! I'm a medical information assistant. Tell me about a symptom or a health question and I'll do my best to help. I don't replace a doctor."
	case datatypes.SuppressionThanks:
		return "You're welcome. If anything else comes up, I'm here."
	case datatypes.SuppressionGoodbye:
		return "Take care. If your symptoms change or get worse, please seek medical attention."
	case datatypes.SuppressionCapability:
		return "I can answer general medical questions, help you describe symptoms, and point out warning signs that need urgent care. I'm not a doctor and I don't diagnose or prescribe."
	}
	return ""
}

// Follow-up and ambiguity heuristics feeding the phase tracker and citation
// suppression.

var followUpStarters = []string{
	"what about", "and what", "is that", "does that", "can that", "why",
	"how about", "what if", "also", "and ",
}

// isVagueFollowUp reports a short anaphoric message that leans on prior
// context rather than naming a new complaint.
func isVagueFollowUp(message string) bool {
	msg := normalizeIntent(message)
	if len(strings.Fields(msg)) > 8 {
		return false
	}
	for _, s := range followUpStarters {
		if strings.HasPrefix(msg, s) {
			return true
		}
	}
	return strings.Contains(msg, " it ") || strings.HasSuffix(msg, " it") ||
		strings.Contains(msg, " that ") || strings.HasSuffix(msg, " that")
}

// conditionMarkers indicate the user named an actual condition or disease
// rather than a bare sensation.
var conditionMarkers = []string{
	"diabetes", "hypertension", "asthma", "cancer", "stroke", "migraine",
	"arthritis", "thyroid", "anemia", "ulcer", "pneumonia", "epilep",
	"infection", "covid", "influenza", "allergy", "eczema", "psoriasis",
	"depression", "anxiety", "disease", "syndrome", "disorder",
}

// vagueSymptomWords are bare sensations that, alone, are too ambiguous to
// ground in literature.
var vagueSymptomWords = []string{
	"tired", "fatigue", "weak", "unwell", "not feeling well", "feel bad",
	"feeling off", "dizzy", "ache all over",
}

func hasExplicitCondition(message string) bool {
	msg := strings.ToLower(message)
	for _, m := range conditionMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// isAmbiguousSymptoms reports a vague complaint without a named condition.
// Citing literature for "I feel tired" implies precision the evidence does
// not have.
func isAmbiguousSymptoms(message string) bool {
	if hasExplicitCondition(message) {
		return false
	}
	msg := strings.ToLower(message)
	for _, w := range vagueSymptomWords {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

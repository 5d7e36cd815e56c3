// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package clarify extracts evidence slots from user messages and picks the
// clarification question for whatever is still missing.
//
// Extraction is heuristic and best-effort: a slot is marked "mentioned" when
// the message contains wording that usually carries that information. Slots
// merge across turns; the phase tracker bounds how long the service keeps
// asking before answering with partial data.
package clarify

import (
	"regexp"
	"strings"
)

// Required slots, in the order clarification questions are asked.
const (
	SlotSymptom  = "symptom"
	SlotDuration = "duration"
	SlotSeverity = "severity"
)

// Optional slots captured opportunistically; never asked for.
const (
	SlotAge         = "age"
	SlotProgression = "progression"
)

// RequiredSlots is the ordered list of slots a consultation needs before the
// service answers without clarifying first.
var RequiredSlots = []string{SlotSymptom, SlotDuration, SlotSeverity}

var (
	ageRe = regexp.MustCompile(`\b(\d{1,3}\s*(years?|yrs?|yo)|years? old)\b`)

	durationWords    = []string{"minute", "hour", "day", "week", "month", "since yesterday", "since this morning"}
	severityWords    = []string{"mild", "moderate", "severe", "worst", "unbearable", "slight"}
	progressionWords = []string{"worse", "worsening", "better", "improving", "spreading"}

	// symptomWords marks that the user has described an actual complaint.
	symptomWords = []string{
		"pain", "ache", "fever", "cough", "headache", "nausea", "vomit",
		"dizzy", "dizziness", "rash", "swelling", "bleeding", "fatigue",
		"tired", "sore", "itch", "cramp", "numb", "tingling", "diarrhea",
		"constipation", "chills", "sweating", "short of breath",
	}
)

// Extract returns the slots this message fills, each mapped to "mentioned".
func Extract(message string) map[string]string {
	msg := strings.ToLower(message)
	slots := make(map[string]string)

	if containsAny(msg, symptomWords) {
		slots[SlotSymptom] = "mentioned"
	}
	if containsAny(msg, durationWords) {
		slots[SlotDuration] = "mentioned"
	}
	if containsAny(msg, severityWords) {
		slots[SlotSeverity] = "mentioned"
	}
	if containsAny(msg, progressionWords) {
		slots[SlotProgression] = "mentioned"
	}
	if ageRe.MatchString(msg) {
		slots[SlotAge] = "mentioned"
	}
	return slots
}

// Merge folds newly extracted slots into the collected set, returning a new
// map. Neither input is mutated.
func Merge(collected, extracted map[string]string) map[string]string {
	merged := make(map[string]string, len(collected)+len(extracted))
	for k, v := range collected {
		merged[k] = v
	}
	for k, v := range extracted {
		merged[k] = v
	}
	return merged
}

// Missing returns the required slots not yet collected, in asking order.
func Missing(collected map[string]string) []string {
	var missing []string
	for _, s := range RequiredSlots {
		if collected[s] == "" {
			missing = append(missing, s)
		}
	}
	return missing
}

// Question returns a single high-value clarification question for the first
// missing slot. The domain hint is accepted for future specialization but
// the questions are currently domain-neutral.
func Question(missing []string, primaryDomain string) string {
	_ = primaryDomain
	for _, slot := range missing {
		switch slot {
		case SlotSymptom:
			return "Can you describe the main symptom in a bit more detail?"
		case SlotDuration:
			return "How long have you been experiencing this? (for example: minutes, hours, days, weeks)"
		case SlotSeverity:
			return "How severe is it right now? (mild, moderate, or severe)"
		}
	}
	return "Can you share a bit more detail so I can assess this more accurately?"
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

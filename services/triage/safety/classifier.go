// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import (
	"strings"

	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
)

// informationalQualifiers mark educational phrasing. A message that matches
// a downgradable family AND one of these qualifiers is downgraded to low so
// that questions about a condition do not trigger false emergencies.
var informationalQualifiers = []string{
	"what are", "what is", "what causes", "warning signs of", "symptoms of",
	"signs of", "causes of", "how does", "how do i know", "explain",
	"tell me about", "is it dangerous", "is that dangerous",
}

// punctReplacer strips punctuation noise while keeping apostrophes, which
// carry meaning in patterns like "can't breathe".
var punctReplacer = strings.NewReplacer(
	".", " ", ",", " ", "!", " ", "?", " ", ";", " ", ":", " ",
	"(", " ", ")", " ", "\"", " ",
	"’", "'", "‘", "'", "“", " ", "”", " ",
)

// Normalize lowercases text, maps smart quotes to ASCII apostrophes, strips
// punctuation noise, and collapses whitespace.
func Normalize(text string) string {
	t := strings.ToLower(text)
	t = punctReplacer.Replace(t)
	return strings.Join(strings.Fields(t), " ")
}

// IsInformational reports whether the message reads as an educational
// question rather than an active symptom report.
func IsInformational(text string) bool {
	norm := Normalize(text)
	for _, q := range informationalQualifiers {
		if strings.Contains(norm, q) {
			return true
		}
	}
	return false
}

// Classify assesses the medical risk of a single message.
//
// Classify is a pure function of the message text: no conversation memory,
// no model calls, no error paths. Families are evaluated in priority order;
// the first match wins. A downgradable match combined with an informational
// qualifier yields a low verdict that names the downgraded family. Unmatched
// text always yields low with no trigger.
func Classify(text string) datatypes.RiskVerdict {
	norm := Normalize(text)
	informational := false
	for _, q := range informationalQualifiers {
		if strings.Contains(norm, q) {
			informational = true
			break
		}
	}

	for _, spec := range families {
		trigger, ok := matchFamily(norm, spec)
		if !ok {
			continue
		}
		if informational && spec.Downgradable {
			return datatypes.RiskVerdict{
				Level:  datatypes.RiskLow,
				Family: spec.Family.String(),
				Reason: "Informational query about " + spec.Family.String() + " downgraded",
			}
		}
		return datatypes.RiskVerdict{
			Level:   spec.Level,
			Trigger: trigger,
			Family:  spec.Family.String(),
			Reason:  spec.Reason,
		}
	}

	if informational {
		return datatypes.RiskVerdict{
			Level:  datatypes.RiskLow,
			Reason: "Informational medical query",
		}
	}
	return datatypes.RiskVerdict{
		Level:  datatypes.RiskLow,
		Reason: "No emergency indicators detected",
	}
}

// matchFamily returns the matched pattern when the family fires on the
// normalized text. Context-gated families require a context keyword too.
func matchFamily(norm string, spec familySpec) (string, bool) {
	if len(spec.Context) > 0 {
		found := false
		for _, c := range spec.Context {
			if strings.Contains(norm, c) {
				found = true
				break
			}
		}
		if !found {
			return "", false
		}
	}
	for _, p := range spec.Patterns {
		if strings.Contains(norm, p) {
			return p, true
		}
	}
	return "", false
}

// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package safety implements the deterministic risk classifier.
//
// The rule set is a closed enumeration of pattern families evaluated in a
// fixed priority order. Each family is tagged with the risk level it emits
// and whether an informational qualifier ("what are the symptoms of ...")
// may downgrade it. Adding a family means adding an entry to the families
// table and a case to PatternFamily.String; tests iterate the table, so a
// missing case is a test-time gap rather than a silent fallthrough.
package safety

import "github.com/MedgateAI/MedgateLocal/services/triage/datatypes"

// PatternFamily identifies one group of related risk patterns.
type PatternFamily int

const (
	// FamilySelfHarm covers self-harm intent. Always emergency; the
	// informational downgrade never applies to this family.
	FamilySelfHarm PatternFamily = iota

	// FamilyPregnancyRedFlag covers red-flag symptoms in a pregnancy
	// context. Both a context keyword and a red-flag phrase must match.
	FamilyPregnancyRedFlag

	// FamilyPediatricRedFlag covers red-flag symptoms in an infant context.
	FamilyPediatricRedFlag

	// FamilyCardiacRespiratory covers active cardiac and breathing
	// emergencies (chest pain, can't breathe).
	FamilyCardiacRespiratory

	// FamilyNeurological covers active neurological emergencies
	// (unconsciousness, seizure, stroke signs).
	FamilyNeurological

	// FamilyBleeding covers active severe bleeding.
	FamilyBleeding

	// FamilyAnaphylaxis covers severe allergic reaction signs.
	FamilyAnaphylaxis

	// FamilyPoisoning covers poisoning and overdose reports.
	FamilyPoisoning

	// FamilySeverePain covers unqualified severe pain. Deliberately kept
	// even though it can over-trigger.
	FamilySeverePain

	// FamilyHighSeverityTopic covers mentions of dangerous conditions
	// (stroke, heart attack) that are serious topics but not necessarily an
	// active emergency. Emits high rather than emergency.
	FamilyHighSeverityTopic
)

// String returns the family's wire name for explainability records.
func (f PatternFamily) String() string {
	switch f {
	case FamilySelfHarm:
		return "self_harm"
	case FamilyPregnancyRedFlag:
		return "pregnancy_red_flag"
	case FamilyPediatricRedFlag:
		return "pediatric_red_flag"
	case FamilyCardiacRespiratory:
		return "cardiac_respiratory"
	case FamilyNeurological:
		return "neurological"
	case FamilyBleeding:
		return "bleeding"
	case FamilyAnaphylaxis:
		return "anaphylaxis"
	case FamilyPoisoning:
		return "poisoning"
	case FamilySeverePain:
		return "severe_pain"
	case FamilyHighSeverityTopic:
		return "high_severity_topic"
	}
	return "unknown"
}

// familySpec is one entry in the ordered rule table.
//
// When Context is non-empty, a context keyword AND a pattern must both be
// present for the family to fire.
type familySpec struct {
	Family       PatternFamily
	Level        datatypes.RiskLevel
	Downgradable bool
	Reason       string
	Context      []string
	Patterns     []string
}

// families is the prioritized rule table. Order matters: the first matching
// family wins, so self-harm and context rules sit ahead of the generic
// symptom families, and the topic family comes last.
var families = []familySpec{
	{
		Family: FamilySelfHarm,
		Level:  datatypes.RiskEmergency,
		Reason: "Self-harm risk detected",
		Patterns: []string{
			"suicidal", "suicide", "kill myself", "self harm", "self-harm",
			"hurt myself", "end my life",
		},
	},
	{
		Family:       FamilyPregnancyRedFlag,
		Level:        datatypes.RiskEmergency,
		Downgradable: true,
		Reason:       "Pregnancy red-flag symptom detected",
		Context:      []string{"pregnant", "pregnancy"},
		Patterns: []string{
			"heavy bleeding", "bleeding heavily", "severe abdominal pain",
			"severe pain",
		},
	},
	{
		Family:       FamilyPediatricRedFlag,
		Level:        datatypes.RiskEmergency,
		Downgradable: true,
		Reason:       "Pediatric red-flag symptom detected",
		Context:      []string{"baby", "infant", "newborn", "month old", "month-old"},
		Patterns: []string{
			"not feeding", "not eating", "very sleepy", "lethargic", "high fever",
		},
	},
	{
		Family:       FamilyCardiacRespiratory,
		Level:        datatypes.RiskEmergency,
		Downgradable: true,
		Reason:       "Emergency symptom detected",
		Patterns: []string{
			"chest pain", "chest tightness", "chest pressure",
			"difficulty breathing", "trouble breathing",
			"can't breathe", "cannot breathe", "cant breathe",
			"shortness of breath", "breathing problem",
		},
	},
	{
		Family:       FamilyNeurological,
		Level:        datatypes.RiskEmergency,
		Downgradable: true,
		Reason:       "Emergency symptom detected",
		Patterns: []string{
			"unconscious", "loss of consciousness", "fainted", "fainting",
			"seizure", "slurred speech", "face droop", "face drooping",
			"one-sided weakness", "weakness on one side", "sudden weakness",
		},
	},
	{
		Family:       FamilyBleeding,
		Level:        datatypes.RiskEmergency,
		Downgradable: true,
		Reason:       "Emergency symptom detected",
		Patterns: []string{
			"bleeding heavily", "severe bleeding", "heavy bleeding",
			"bleeding a lot", "vomiting blood", "throwing up blood",
			"blood in vomit", "black stools", "tarry stools",
		},
	},
	{
		Family:       FamilyAnaphylaxis,
		Level:        datatypes.RiskEmergency,
		Downgradable: true,
		Reason:       "Emergency symptom detected",
		Patterns: []string{
			"throat swelling", "swollen throat", "throat is closing",
			"lip swelling", "lips swelling", "face swelling",
		},
	},
	{
		Family:       FamilyPoisoning,
		Level:        datatypes.RiskEmergency,
		Downgradable: true,
		Reason:       "Emergency symptom detected",
		Patterns: []string{
			"overdose", "overdosed", "took too much", "poisoning", "poisoned",
		},
	},
	{
		Family:       FamilySeverePain,
		Level:        datatypes.RiskEmergency,
		Downgradable: true,
		Reason:       "Emergency symptom detected",
		Patterns: []string{
			"severe pain", "worst pain", "crushing pain", "unbearable pain",
		},
	},
	{
		Family:       FamilyHighSeverityTopic,
		Level:        datatypes.RiskHigh,
		Downgradable: true,
		Reason:       "High-severity topic mentioned in a non-informational context",
		Patterns: []string{
			"stroke", "heart attack", "myocardial infarction",
			"pulmonary embolism", "blood clot", "aneurysm",
		},
	},
}

// Families returns the ordered pattern families for exhaustive testing.
func Families() []PatternFamily {
	out := make([]PatternFamily, 0, len(families))
	for _, f := range families {
		out = append(out, f.Family)
	}
	return out
}

// FamilyPatterns returns the raw patterns of a family, or nil if the family
// is unknown. Used by tests to enumerate both directions per family.
func FamilyPatterns(f PatternFamily) []string {
	for _, spec := range families {
		if spec.Family == f {
			return append([]string(nil), spec.Patterns...)
		}
	}
	return nil
}

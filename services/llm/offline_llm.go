// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Self-reported confidence for offline drafts.
const (
	// EmergencyConfidence is fixed and high: the emergency template is a
	// deterministic safety instruction, not a generated guess.
	EmergencyConfidence = 0.95

	offlineTemplateConfidence = 0.75
	offlineGroundedConfidence = 0.75
	offlineBareConfidence     = 0.5
)

// OfflineGenerator is the deterministic fallback backend. It never touches
// the network and never fails, which is what makes it a safe last resort
// when the online collaborator is unavailable or times out.
type OfflineGenerator struct{}

// Compile-time interface implementation check.
var _ Generator = (*OfflineGenerator)(nil)

// NewOfflineGenerator returns the deterministic backend.
func NewOfflineGenerator() *OfflineGenerator {
	return &OfflineGenerator{}
}

// EmergencyDraft renders the safety-first emergency reply. The trigger, when
// known, personalizes the opening line.
func (g *OfflineGenerator) EmergencyDraft(trigger string) *Draft {
	subject := strings.TrimSpace(trigger)
	if subject == "" {
		subject = "these symptoms"
	}
	text := fmt.Sprintf(
		"%s can be a medical emergency.\n\n"+
			"Please get urgent medical help now:\n"+
			"- Call your local emergency number immediately\n"+
			"- If possible, do NOT drive yourself - ask someone to help you get care\n\n"+
			"Quick check (reply with yes/no):\n"+
			"1) Trouble breathing or severe shortness of breath?\n"+
			"2) Fainting, severe dizziness, or confusion?\n"+
			"3) Sweating, nausea/vomiting, or feeling very weak?\n"+
			"4) Pain spreading to arm/jaw/back OR sudden weakness on one side?\n"+
			"5) Did it start suddenly or get worse quickly?\n\n"+
			"If any answer is YES, treat this as urgent right now.",
		capitalize(subject))
	return &Draft{
		Text:             text,
		Confidence:       EmergencyConfidence,
		Mode:             "offline",
		ReasoningSummary: "Emergency override rule triggered by safety detection.",
	}
}

// Generate produces a deterministic draft without any network dependency.
//
// Path selection, in order: informational high-severity template (stroke
// FAST card), grounded summary over retrieved context, generic guidance
// fallback. Generate never returns an error.
func (g *OfflineGenerator) Generate(ctx context.Context, req *Request) (*Draft, error) {
	_ = ctx

	if isInfoHighSeverity(req.Message) {
		return &Draft{
			Text:             infoHighSeverityReply(req.Message),
			Confidence:       offlineTemplateConfidence,
			Mode:             "offline",
			ReasoningSummary: "High-severity informational template used.",
		}, nil
	}

	if hasContent(req.Context) {
		return g.groundedDraft(req), nil
	}

	return &Draft{
		Text: "I understand your concern. I can't provide a diagnosis, but I can share general guidance.\n\n" +
			"If your symptoms are severe, worsening, or you have red-flag signs (fainting, chest pain, " +
			"confusion, weakness, trouble breathing), seek urgent medical care.\n\n" +
			"To help, tell me:\n" +
			"- Your age\n" +
			"- How long this has been happening\n" +
			"- Fever, vomiting, or dehydration?\n" +
			"- Any medicines taken recently",
		Confidence:       offlineBareConfidence,
		Mode:             "offline",
		ReasoningSummary: "No online model available; deterministic fallback response used.",
	}, nil
}

// groundedDraft summarizes retrieved context into short sourced bullets.
func (g *OfflineGenerator) groundedDraft(req *Request) *Draft {
	var bullets []string
	for _, raw := range req.Context {
		cleaned := cleanCorpusText(raw)
		if cleaned == "" {
			continue
		}
		bullets = append(bullets, firstSentences(cleaned, 2))
		if len(bullets) == 6 {
			break
		}
	}
	bullets = dedupeSentences(bullets)

	if len(bullets) == 0 {
		return &Draft{
			Text: "Based on trusted medical sources, I found some relevant information, " +
				"but it may not directly answer your question.\n\n" +
				"If symptoms are severe or worsening, seek medical care.",
			Confidence:       offlineBareConfidence,
			Mode:             "offline",
			ReasoningSummary: "Offline mode: retrieved context was present but unusable.",
		}
	}
	if len(bullets) > 5 {
		bullets = bullets[:5]
	}

	var b strings.Builder
	if isMedicationQuery(req.Message) {
		b.WriteString("Medication safety information from trusted sources:\n\n")
		for _, s := range bullets {
			b.WriteString("- " + s + "\n\n")
		}
		b.WriteString("If this is about interactions or bleeding risk, confirm with your doctor/pharmacist.")
	} else {
		b.WriteString("Here's what trusted medical sources say:\n\n")
		for _, s := range bullets {
			b.WriteString("- " + s + "\n\n")
		}
		b.WriteString("If symptoms are severe or worsening, seek medical care.")
	}

	return &Draft{
		Text:             b.String(),
		Confidence:       offlineGroundedConfidence,
		Mode:             "offline",
		ReasoningSummary: "Offline mode: grounded response generated from retrieved medical context.",
	}
}

// =============================================================================
// Informational high-severity templates
// =============================================================================

var infoPhrases = []string{"warning signs", "signs of", "symptoms of", "what are the symptoms"}
var infoTopics = []string{"stroke", "heart attack", "seizure"}

func isInfoHighSeverity(message string) bool {
	t := strings.ToLower(message)
	phrase := false
	for _, p := range infoPhrases {
		if strings.Contains(t, p) {
			phrase = true
			break
		}
	}
	if !phrase {
		return false
	}
	for _, topic := range infoTopics {
		if strings.Contains(t, topic) {
			return true
		}
	}
	return false
}

func infoHighSeverityReply(message string) string {
	if strings.Contains(strings.ToLower(message), "stroke") {
		return "Warning signs of stroke (act FAST):\n\n" +
			"FAST:\n" +
			"- F: Face drooping\n" +
			"- A: Arm weakness (one side)\n" +
			"- S: Speech difficulty (slurred / unable to speak)\n" +
			"- T: Time to call emergency services immediately\n\n" +
			"Other possible warning signs:\n" +
			"- Sudden numbness or weakness (especially one side)\n" +
			"- Sudden confusion or trouble understanding\n" +
			"- Sudden trouble seeing in one or both eyes\n" +
			"- Sudden severe headache (worst headache) with no known cause\n" +
			"- Sudden trouble walking, dizziness, loss of balance/coordination\n\n" +
			"What to do right now:\n" +
			"- Call emergency services immediately\n" +
			"- Note the time symptoms started (or last known well)\n" +
			"- Do not wait for symptoms to improve"
	}
	return "Here are important warning signs to watch for:\n\n" +
		"- Sudden or severe symptoms\n" +
		"- Trouble breathing\n" +
		"- Fainting or severe dizziness\n" +
		"- New chest pain or pressure\n" +
		"- Confusion, severe weakness, or one-sided symptoms\n\n" +
		"If these happen, seek urgent medical care immediately."
}

// =============================================================================
// Text helpers
// =============================================================================

var medicationMarkers = []string{
	"can i take", "together", "interaction", "side effect", "side effects",
	"dose", "dosage", "medicine", "medication", "drug", "tablet", "pill",
	"antibiotic", "antibiotics", "warfarin", "ibuprofen", "paracetamol",
	"acetaminophen", "metformin", "insulin",
}

// hasContent reports whether any context entry carries non-whitespace text.
func hasContent(chunks []string) bool {
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}

func isMedicationQuery(message string) bool {
	t := strings.ToLower(message)
	for _, m := range medicationMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

var qaPrefixRe = regexp.MustCompile(`(?is)^question:\s.*?\nanswer:\s*`)
var wsRe = regexp.MustCompile(`\s+`)

// cleanCorpusText strips Q/A scaffolding carried by some corpus chunks and
// collapses whitespace.
func cleanCorpusText(text string) string {
	text = strings.TrimSpace(text)
	text = qaPrefixRe.ReplaceAllString(text, "")
	return strings.TrimSpace(wsRe.ReplaceAllString(text, " "))
}

// firstSentences takes the leading n sentences, ensuring a trailing period.
func firstSentences(text string, n int) string {
	parts := strings.Split(strings.ReplaceAll(text, "\n", " "), ".")
	var kept []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kept = append(kept, p)
		if len(kept) == n {
			break
		}
	}
	s := strings.Join(kept, ". ")
	if s != "" && !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}

// dedupeSentences removes near-duplicate bullets, preserving order.
func dedupeSentences(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	var out []string
	for _, s := range lines {
		key := strings.ToLower(strings.TrimSpace(wsRe.ReplaceAllString(s, " ")))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package domains routes a message to medical domains by deterministic
// keyword matching. The routing decision feeds the explainability record and
// the retrieval domain filter; it carries no safety weight.
package domains

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
)

// DomainGeneral is the fallback when no domain keywords match.
const DomainGeneral = "general"

// maxMatchedKeywords bounds the keyword evidence stored per match.
const maxMatchedKeywords = 10

// domainRules maps each medical domain to its keyword set. Substring matching
// against normalized text; stems like "myocard" intentionally match the
// inflected forms.
var domainRules = map[string][]string{
	"cardiology": {
		"heart", "cardiac", "myocard", "arrhythm", "angina", "stroke",
		"hypertension", "blood pressure", "cholesterol", "artery", "aorta",
		"atrial", "ventric", "tachy", "brady",
	},
	"endocrinology": {
		"diabetes", "insulin", "glucose", "blood sugar", "thyroid", "tsh",
		"hypothy", "hyperthy", "adrenal", "cortisol", "hormone", "pituitary",
	},
	"neurology": {
		"brain", "neuro", "seizure", "epilep", "parkinson", "alzheimer",
		"migraine", "stroke", "nerve", "spinal cord", "multiple sclerosis",
		"dementia",
	},
	"gastroenterology": {
		"stomach", "gastric", "liver", "hepat", "pancreas", "pancreatic",
		"colon", "bowel", "intestin", "ulcer", "crohn", "colitis",
		"diarrhea", "constipation", "ibs", "reflux", "gerd",
	},
	"dermatology": {
		"skin", "rash", "eczema", "psoriasis", "acne", "itch", "hives",
		"dermatitis", "lesion", "melanoma",
	},
	"orthopedics": {
		"bone", "joint", "fracture", "arthritis", "osteoporosis", "spine",
		"knee", "hip", "shoulder", "sprain", "ligament", "tendon",
	},
	"pulmonology": {
		"lung", "asthma", "copd", "bronch", "pneumonia", "breath",
		"respirat", "cough", "oxygen", "tuberculosis",
	},
	"nephrology": {
		"kidney", "renal", "nephro", "dialysis", "creatinine", "urea",
		"proteinuria", "hematuria", "glomerul",
	},
	"hematology": {
		"anemia", "hemoglobin", "platelet", "bleeding", "clot", "leukemia",
		"lymphoma", "blood disorder", "sickle", "thalassemia",
	},
	"oncology": {
		"cancer", "tumor", "carcinoma", "chemotherapy", "radiation",
		"metast", "malignant", "oncolog",
	},
	"infectious_disease": {
		"infection", "virus", "viral", "bacterial", "fever", "sepsis",
		"hiv", "aids", "influenza", "covid", "malaria", "dengue",
	},
	"obstetrics_gynecology": {
		"pregnan", "menstrual", "period", "uterus", "ovary", "ovarian",
		"cervix", "cervical", "vaginal", "gyne", "labor", "delivery",
	},
	"urology": {
		"urine", "urinary", "bladder", "prostate", "kidney stone",
		"erectile", "incontinence", "uti ",
	},
	"ophthalmology": {
		"eye", "vision", "retina", "glaucoma", "cataract", "blind",
		"ocular", "macular",
	},
	"ent": {
		"ear", "nose", "throat", "sinus", "hearing", "tonsil", "larynx",
		"vertigo",
	},
	"psychiatry": {
		"depression", "anxiety", "bipolar", "schizophrenia", "panic",
		"ptsd", "suicide", "mental health", "adhd",
	},
	"pediatrics": {
		"child", "children", "infant", "newborn", "pediatric", "toddler",
	},
	"immunology_allergy": {
		"allergy", "allergic", "immune", "autoimmune", "lupus",
		"rheumatoid", "anaphylaxis",
	},
	"rheumatology": {
		"rheumatoid", "lupus", "vasculitis", "gout", "fibromyalgia",
		"scleroderma", "sjogren",
	},
}

// endocrinePriority keywords hard-route to endocrinology ahead of scoring, so
// diabetes never lands in neurology on an incidental keyword overlap.
var endocrinePriority = []string{"diabetes", "insulin", "glucose", "blood sugar"}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Matches returns all matched domains sorted by descending keyword score.
// Ties break alphabetically so routing stays deterministic.
func Matches(text string) []datatypes.DomainMatch {
	norm := normalize(text)

	var out []datatypes.DomainMatch
	for domain, keywords := range domainRules {
		var matched []string
		for _, kw := range keywords {
			if strings.Contains(norm, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		sort.Strings(matched)
		score := len(matched)
		if len(matched) > maxMatchedKeywords {
			matched = matched[:maxMatchedKeywords]
		}
		out = append(out, datatypes.DomainMatch{
			Domain:          domain,
			Score:           score,
			MatchedKeywords: matched,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// Route infers the primary medical domain for a message.
//
// The endocrine priority override runs first; otherwise the highest-scoring
// match wins and unmatched text routes to DomainGeneral.
func Route(text string) datatypes.RoutingDecision {
	norm := normalize(text)

	for _, t := range endocrinePriority {
		if strings.Contains(norm, t) {
			return datatypes.RoutingDecision{
				PrimaryDomain: "endocrinology",
				Reason:        "Priority rule: diabetes/endocrine keywords detected",
				Matches:       Matches(text),
			}
		}
	}

	matches := Matches(text)
	if len(matches) == 0 {
		return datatypes.RoutingDecision{
			PrimaryDomain: DomainGeneral,
			Reason:        "No keywords matched; defaulted to general",
		}
	}

	top := matches[0]
	return datatypes.RoutingDecision{
		PrimaryDomain: top.Domain,
		Reason:        fmt.Sprintf("Matched keywords: %v", top.MatchedKeywords),
		Matches:       matches,
	}
}

// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package domains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRouteEndocrinePriority verifies diabetes keywords hard-route to
// endocrinology regardless of other matches.
func TestRouteEndocrinePriority(t *testing.T) {
	d := Route("does diabetes affect the nerves in my feet?")
	assert.Equal(t, "endocrinology", d.PrimaryDomain)
	assert.Contains(t, d.Reason, "Priority rule")
}

// TestRouteByKeywords spot-checks routing across domains.
func TestRouteByKeywords(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{"my blood pressure has been high and my heart races", "cardiology"},
		{"I get migraines and my mother has parkinson disease", "neurology"},
		{"constant acid reflux and stomach ulcer pain", "gastroenterology"},
		{"itchy rash and eczema on my arm skin", "dermatology"},
		{"asthma makes it hard to breathe when I jog", "pulmonology"},
		{"my kidney function and creatinine are abnormal", "nephrology"},
		{"is this mole a melanoma?", "dermatology"},
		{"pediatric checkup for my toddler and newborn", "pediatrics"},
	}
	for _, tc := range cases {
		d := Route(tc.msg)
		assert.Equal(t, tc.want, d.PrimaryDomain, "message %q", tc.msg)
		assert.NotEmpty(t, d.Matches, "message %q", tc.msg)
	}
}

// TestRouteGeneralFallback verifies unmatched text routes to general with no
// match evidence.
func TestRouteGeneralFallback(t *testing.T) {
	d := Route("how much sleep should I get?")
	assert.Equal(t, DomainGeneral, d.PrimaryDomain)
	assert.Empty(t, d.Matches)
}

// TestMatchesOrdering verifies matches sort by score descending with an
// alphabetical tiebreak.
func TestMatchesOrdering(t *testing.T) {
	matches := Matches("my heart and my skin both bother me, plus heart palpitations near my artery")
	require.NotEmpty(t, matches)
	for i := 1; i < len(matches); i++ {
		prev, cur := matches[i-1], matches[i]
		ok := prev.Score > cur.Score || (prev.Score == cur.Score && prev.Domain < cur.Domain)
		assert.True(t, ok, "ordering violated at %d: %+v then %+v", i, prev, cur)
	}
}

// TestRouteDeterministic verifies repeated routing yields identical results.
func TestRouteDeterministic(t *testing.T) {
	msg := "chest discomfort, shortness of breath and a cough"
	first := Route(msg)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Route(msg))
	}
}

// TestMatchedKeywordsBounded verifies the per-match keyword evidence is
// capped.
func TestMatchedKeywordsBounded(t *testing.T) {
	msg := "heart cardiac myocardial arrhythmia angina stroke hypertension " +
		"blood pressure cholesterol artery aorta atrial ventricular tachycardia bradycardia"
	matches := Matches(msg)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.LessOrEqual(t, len(m.MatchedKeywords), 10)
		assert.GreaterOrEqual(t, m.Score, len(m.MatchedKeywords))
	}
}

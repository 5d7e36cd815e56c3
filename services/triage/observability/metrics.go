// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the service's Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// turnTotal counts completed turns by risk level and model mode.
	turnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_turn_total",
		Help: "Total completed turns by risk level and model mode",
	}, []string{"risk_level", "model_mode"})

	// turnDuration tracks end-to-end turn latency by risk level.
	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triage_turn_duration_seconds",
		Help:    "Turn pipeline duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"risk_level"})

	// suppressionTotal counts citation suppressions by reason.
	suppressionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_citation_suppression_total",
		Help: "Total citation suppressions by reason",
	}, []string{"reason"})

	// escalationTotal counts escalation lifecycle events.
	escalationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_escalation_total",
		Help: "Total escalation events by type",
	}, []string{"event"})

	// generatorFallbackTotal counts online-to-offline generation fallbacks.
	generatorFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_generator_fallback_total",
		Help: "Total generation fallbacks from online to offline",
	})

	// retrievalConfidence tracks the gateway confidence distribution.
	retrievalConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triage_retrieval_confidence",
		Help:    "Retrieval gateway confidence per turn",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
)

// RecordTurn records one completed turn.
func RecordTurn(riskLevel, modelMode string, elapsed time.Duration) {
	turnTotal.WithLabelValues(riskLevel, modelMode).Inc()
	turnDuration.WithLabelValues(riskLevel).Observe(elapsed.Seconds())
}

// RecordSuppression records a citation suppression.
func RecordSuppression(reason string) {
	if reason == "" {
		return
	}
	suppressionTotal.WithLabelValues(reason).Inc()
}

// RecordEscalation records an escalation lifecycle event
// ("created", "resolved").
func RecordEscalation(event string) {
	escalationTotal.WithLabelValues(event).Inc()
}

// RecordGeneratorFallback records an online-to-offline generation fallback.
func RecordGeneratorFallback() {
	generatorFallbackTotal.Inc()
}

// RecordRetrievalConfidence records the gateway confidence for one turn.
func RecordRetrievalConfidence(confidence float64) {
	retrievalConfidence.Observe(confidence)
}

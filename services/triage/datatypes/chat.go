// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the shared data model for the triage service.
//
// This file contains the request and response shapes for the turn endpoint
// and their validation. Validation errors wrap ErrValidation so handlers can
// map them to a 400 without leaking validator internals.
package datatypes

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrValidation marks malformed caller input. No state is mutated when a
// request fails validation.
var ErrValidation = errors.New("validation failed")

// MaxMessageContentBytes is the maximum size of a single user message.
// Checked in bytes, not runes, to bound memory on hostile payloads.
const MaxMessageContentBytes = 16 * 1024 // 16KB

// turnValidate is the validator instance for turn datatypes.
var turnValidate *validator.Validate

func init() {
	turnValidate = validator.New()
	_ = turnValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxMessageContentBytes on string fields.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Turn Request / Response
// =============================================================================

// TurnRequest is one inbound user message. ConversationID is optional; when
// empty a new conversation is created.
type TurnRequest struct {
	ConversationID string `json:"conversation_id" validate:"omitempty,uuid4"`
	Message        string `json:"message" validate:"required,maxbytes"`
}

// Validate checks the request shape. The returned error wraps ErrValidation.
func (r *TurnRequest) Validate() error {
	if err := turnValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// TurnResponse is the outward payload for one completed turn.
//
// Citations is always empty on emergency turns even though confidence was
// computed internally. PriorEmergency is a derived, read-only hint that an
// earlier turn in this conversation hit the emergency path; it is never an
// input to safety logic.
type TurnResponse struct {
	ConversationID    string     `json:"conversation_id"`
	MessageID         string     `json:"message_id"`
	Reply             string     `json:"reply"`
	Citations         []Citation `json:"citations"`
	RiskLevel         RiskLevel  `json:"risk_level"`
	EmergencyDetected bool       `json:"emergency_detected"`
	PriorEmergency    bool       `json:"prior_emergency,omitempty"`
	ConfidenceScore   float64    `json:"confidence_score"`
	LowConfidence     bool       `json:"low_confidence_advisory,omitempty"`
	ModelMode         string     `json:"model_mode"`
	Phase             Phase      `json:"phase"`
}

// =============================================================================
// Escalation Requests
// =============================================================================

// EscalateRequest asks for a manual escalation of the conversation that owns
// the given message.
type EscalateRequest struct {
	MessageID string `json:"message_id" validate:"required,uuid4"`
	Notes     string `json:"notes" validate:"omitempty,maxbytes"`
}

// Validate checks the request shape. The returned error wraps ErrValidation.
func (r *EscalateRequest) Validate() error {
	if err := turnValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

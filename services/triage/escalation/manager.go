// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package escalation tracks handoffs to a human reviewer. Escalations are
// created automatically on emergency turns and manually on operator request;
// they resolve exactly once.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
	"github.com/MedgateAI/MedgateLocal/services/triage/store"
)

var tracer = otel.Tracer("medgate.triage.escalation")

// ErrConversationNotFound is returned when an escalation targets a
// conversation that does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrEscalationNotFound is returned when resolving or fetching an unknown
// escalation.
var ErrEscalationNotFound = errors.New("escalation not found")

// Manager creates, resolves, and lists escalations.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the store.
type Manager struct {
	store store.Store
}

// NewManager wires a manager to the persistence layer.
func NewManager(s store.Store) *Manager {
	return &Manager{store: s}
}

// Create opens a new escalation for a conversation.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - conversationID: Target conversation. Must exist.
//   - reason: Machine-readable reason, e.g. "emergency_detected" or
//     "manual_review".
//   - notes: Optional operator notes.
//
// # Errors
//
//   - ErrConversationNotFound: The conversation does not exist.
func (m *Manager) Create(ctx context.Context, conversationID, reason, notes string) (*datatypes.Escalation, error) {
	ctx, span := tracer.Start(ctx, "CreateEscalation")
	defer span.End()
	span.SetAttributes(
		attribute.String("escalation.conversation_id", conversationID),
		attribute.String("escalation.reason", reason),
	)

	if _, err := m.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}

	esc := &datatypes.Escalation{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Reason:         reason,
		Notes:          notes,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.store.CreateEscalation(ctx, esc); err != nil {
		return nil, fmt.Errorf("persist escalation: %w", err)
	}

	slog.Info("Escalation created",
		"escalation_id", esc.ID,
		"conversation_id", conversationID,
		"reason", reason)
	return esc, nil
}

// Resolve marks an escalation resolved. Resolving twice is a no-op; the
// stored record is returned either way.
func (m *Manager) Resolve(ctx context.Context, id string) (*datatypes.Escalation, error) {
	ctx, span := tracer.Start(ctx, "ResolveEscalation")
	defer span.End()
	span.SetAttributes(attribute.String("escalation.id", id))

	esc, err := m.store.ResolveEscalation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrEscalationNotFound
		}
		return nil, fmt.Errorf("resolve escalation: %w", err)
	}

	slog.Info("Escalation resolved",
		"escalation_id", esc.ID,
		"conversation_id", esc.ConversationID)
	return esc, nil
}

// List returns escalations newest first, optionally scoped to one
// conversation.
func (m *Manager) List(ctx context.Context, conversationID string) ([]datatypes.Escalation, error) {
	escs, err := m.store.ListEscalations(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	return escs, nil
}

// HasOpen reports whether the conversation has an unresolved escalation.
func (m *Manager) HasOpen(ctx context.Context, conversationID string) (bool, error) {
	escs, err := m.store.ListEscalations(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("list escalations: %w", err)
	}
	for _, e := range escs {
		if !e.Resolved {
			return true, nil
		}
	}
	return false, nil
}

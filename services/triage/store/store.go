// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists conversations, messages, explainability records,
// and escalations in local embedded storage.
//
// Every assistant turn is written atomically with its explainability record.
// A safety decision that cannot be audited is treated as a decision that did
// not happen, so a partial write aborts the whole turn.
package store

import (
	"context"
	"errors"

	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrPersistence marks a storage-layer failure. The assembler maps it to an
// aborted turn rather than an unaudited reply.
var ErrPersistence = errors.New("persistence failure")

// AssistantTurn bundles everything written atomically when the assistant
// replies: the message, its explainability record, the retrieval evidence
// (nil when retrieval was skipped), and the updated conversation state.
type AssistantTurn struct {
	Message      *datatypes.Message
	Explain      *datatypes.ExplainabilityRecord
	Retrieval    *datatypes.RetrievalResult
	Conversation *datatypes.Conversation
}

// Store is the persistence contract for the triage service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateConversation persists a new conversation.
	CreateConversation(ctx context.Context, conv *datatypes.Conversation) error

	// GetConversation returns a conversation by ID, or ErrNotFound.
	GetConversation(ctx context.Context, id string) (*datatypes.Conversation, error)

	// UpdateConversation overwrites an existing conversation's state.
	UpdateConversation(ctx context.Context, conv *datatypes.Conversation) error

	// AppendMessage persists one message in a conversation.
	AppendMessage(ctx context.Context, conversationID string, msg *datatypes.Message) error

	// AppendAssistantTurn atomically persists an assistant turn. Either all
	// parts land or none do.
	AppendAssistantTurn(ctx context.Context, turn *AssistantTurn) error

	// ListMessages returns a conversation's messages in chronological order.
	// A non-positive limit returns all; otherwise the most recent limit
	// messages are returned.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]datatypes.Message, error)

	// GetMessage returns a message by its ID, or ErrNotFound.
	GetMessage(ctx context.Context, messageID string) (*datatypes.Message, error)

	// GetExplainability returns the explainability record for an assistant
	// message, or ErrNotFound.
	GetExplainability(ctx context.Context, messageID string) (*datatypes.ExplainabilityRecord, error)

	// GetRetrieval returns the retrieval evidence for an assistant message,
	// or ErrNotFound when the turn skipped retrieval.
	GetRetrieval(ctx context.Context, messageID string) (*datatypes.RetrievalResult, error)

	// HasPriorEmergency reports whether any earlier turn of the conversation
	// was classified as an emergency.
	HasPriorEmergency(ctx context.Context, conversationID string) (bool, error)

	// CreateEscalation persists a new escalation.
	CreateEscalation(ctx context.Context, esc *datatypes.Escalation) error

	// GetEscalation returns an escalation by ID, or ErrNotFound.
	GetEscalation(ctx context.Context, id string) (*datatypes.Escalation, error)

	// ResolveEscalation marks an escalation resolved. Resolving an already
	// resolved escalation is a no-op that returns the stored record.
	ResolveEscalation(ctx context.Context, id string) (*datatypes.Escalation, error)

	// ListEscalations returns escalations newest first. An empty
	// conversationID lists across all conversations.
	ListEscalations(ctx context.Context, conversationID string) ([]datatypes.Escalation, error)

	// Close releases underlying resources.
	Close() error
}

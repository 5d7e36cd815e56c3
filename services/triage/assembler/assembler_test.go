// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assembler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MedgateAI/MedgateLocal/services/llm"
	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
	"github.com/MedgateAI/MedgateLocal/services/triage/escalation"
	"github.com/MedgateAI/MedgateLocal/services/triage/retrieval"
	"github.com/MedgateAI/MedgateLocal/services/triage/store"
)

// stubSearch serves canned chunks and records how it was called.
type stubSearch struct {
	mu        sync.Mutex
	chunks    []datatypes.Chunk
	calls     int
	lastQuery string
}

func (s *stubSearch) Search(ctx context.Context, query string, k int, domain string) ([]datatypes.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastQuery = query
	return s.chunks, nil
}

func (s *stubSearch) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubSearch) lastQueryText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

// stubGenerator returns a fixed draft and records the last request.
type stubGenerator struct {
	mu    sync.Mutex
	draft llm.Draft
	calls int
	last  *llm.Request
}

func (g *stubGenerator) Generate(ctx context.Context, req *llm.Request) (*llm.Draft, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.last = req
	d := g.draft
	return &d, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fixture struct {
	assembler *Assembler
	store     *store.BadgerStore
	search    *stubSearch
	generator *stubGenerator
}

func goodChunks() []datatypes.Chunk {
	return []datatypes.Chunk{
		{ChunkID: "c1", DocumentID: "d1", Title: "Guide A", Source: "handbook", Similarity: 0.9, Content: "First passage."},
		{ChunkID: "c2", DocumentID: "d2", Title: "Guide B", Source: "handbook", Similarity: 0.85, Content: "Second passage."},
		{ChunkID: "c3", DocumentID: "d3", Title: "Guide C", Source: "handbook", Similarity: 0.8, Content: "Third passage."},
		{ChunkID: "c4", DocumentID: "d4", Title: "Guide D", Source: "handbook", Similarity: 0.75, Content: "Fourth passage."},
	}
}

func newFixture(t *testing.T, chunks []datatypes.Chunk) *fixture {
	t.Helper()
	s, err := store.OpenBadger(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	search := &stubSearch{chunks: chunks}
	gwCfg := retrieval.DefaultConfig()
	gwCfg.RetryBackoff = time.Millisecond
	gateway := retrieval.NewGateway(search, gwCfg)

	gen := &stubGenerator{draft: llm.Draft{
		Text:             "Here is some general guidance.",
		Confidence:       0.8,
		Mode:             datatypes.ModelModeOnline,
		ReasoningSummary: "stub draft",
	}}

	a := New(s, gateway, gen, escalation.NewManager(s), DefaultConfig())
	return &fixture{assembler: a, store: s, search: search, generator: gen}
}

func respond(t *testing.T, f *fixture, conversationID, message string) *datatypes.TurnResponse {
	t.Helper()
	resp, err := f.assembler.Respond(context.Background(), &datatypes.TurnRequest{
		ConversationID: conversationID,
		Message:        message,
	})
	require.NoError(t, err)
	return resp
}

// TestRespondEmergency verifies the emergency path: fixed reply, escalated
// phase, no retrieval, no generation, and an escalation on record.
func TestRespondEmergency(t *testing.T) {
	f := newFixture(t, goodChunks())

	resp := respond(t, f, "", "I have chest pain and my left arm feels numb")

	assert.True(t, resp.EmergencyDetected)
	assert.False(t, resp.PriorEmergency)
	assert.Equal(t, datatypes.RiskEmergency, resp.RiskLevel)
	assert.Equal(t, datatypes.PhaseEscalated, resp.Phase)
	assert.Contains(t, resp.Reply, "emergency")
	assert.Empty(t, resp.Citations)
	assert.Equal(t, datatypes.ModelModeOffline, resp.ModelMode)
	assert.InDelta(t, llm.EmergencyConfidence, resp.ConfidenceScore, 1e-9)

	assert.Zero(t, f.search.callCount())
	assert.Zero(t, f.generator.callCount())

	escs, err := f.assembler.ListEscalations(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, escs, 1)
	assert.Equal(t, ReasonEmergencyDetected, escs[0].Reason)
	assert.False(t, escs[0].Resolved)

	rec, err := f.assembler.Explain(context.Background(), resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "cardiac_respiratory", rec.Verdict.Family)
	assert.Equal(t, datatypes.SuppressionEmergencyOverride, rec.Confidence.SuppressionReason)
}

// TestRespondPriorEmergencyFlag verifies later turns in an escalated
// conversation carry the prior-emergency flag.
func TestRespondPriorEmergencyFlag(t *testing.T) {
	f := newFixture(t, goodChunks())

	first := respond(t, f, "", "I have severe chest pain right now")
	require.True(t, first.EmergencyDetected)

	second := respond(t, f, first.ConversationID, "what are the symptoms of the flu")
	assert.False(t, second.EmergencyDetected)
	assert.True(t, second.PriorEmergency)
	assert.Equal(t, datatypes.PhaseEscalated, second.Phase)
}

// TestRespondAnsweringWithCitations verifies the grounded answering path
// returns citations and fuses confidence as the minimum of the two scores.
func TestRespondAnsweringWithCitations(t *testing.T) {
	f := newFixture(t, goodChunks())

	resp := respond(t, f, "", "I have had a mild headache since yesterday, what could cause it")

	assert.Equal(t, datatypes.RiskLow, resp.RiskLevel)
	assert.False(t, resp.EmergencyDetected)
	assert.False(t, resp.LowConfidence)
	assert.Len(t, resp.Citations, 4)
	assert.Equal(t, "Here is some general guidance.", resp.Reply)
	// Generation confidence is below retrieval confidence here.
	assert.InDelta(t, 0.8, resp.ConfidenceScore, 1e-9)
	assert.Equal(t, datatypes.ModelModeOnline, resp.ModelMode)

	require.Equal(t, 1, f.generator.callCount())
	assert.NotEmpty(t, f.generator.last.Context)
	assert.Empty(t, f.generator.last.History)

	rec, err := f.assembler.Explain(context.Background(), resp.MessageID)
	require.NoError(t, err)
	assert.Empty(t, rec.Confidence.SuppressionReason)

	res, err := f.assembler.ExplainRetrieval(context.Background(), resp.MessageID)
	require.NoError(t, err)
	assert.Len(t, res.Chunks, 4)
}

// TestRespondLowRetrievalConfidence verifies citation suppression and the
// low-confidence advisory when retrieval scores below the floor.
func TestRespondLowRetrievalConfidence(t *testing.T) {
	f := newFixture(t, []datatypes.Chunk{
		{ChunkID: "c1", DocumentID: "d1", Similarity: 0.3, Content: "weak match"},
	})

	resp := respond(t, f, "", "I have had a mild headache since yesterday, what could cause it")

	assert.True(t, resp.LowConfidence)
	assert.Empty(t, resp.Citations)
	assert.Contains(t, resp.Reply, "limited high-confidence information")

	rec, err := f.assembler.Explain(context.Background(), resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.SuppressionLowRetrievalConfidence, rec.Confidence.SuppressionReason)
}

// TestRespondNoSources verifies an empty retrieval set answers ungrounded
// with the no-sources suppression reason, at generation confidence.
func TestRespondNoSources(t *testing.T) {
	f := newFixture(t, nil)

	resp := respond(t, f, "", "I have had a mild headache since yesterday, what could cause it")

	assert.Empty(t, resp.Citations)
	assert.InDelta(t, 0.8, resp.ConfidenceScore, 1e-9)
	assert.False(t, resp.LowConfidence)

	rec, err := f.assembler.Explain(context.Background(), resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.SuppressionNoSources, rec.Confidence.SuppressionReason)

	res, err := f.assembler.ExplainRetrieval(context.Background(), resp.MessageID)
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
}

// TestRespondAmbiguousSymptoms verifies vague complaints skip retrieval and
// suppress citations.
func TestRespondAmbiguousSymptoms(t *testing.T) {
	f := newFixture(t, goodChunks())

	resp := respond(t, f, "", "I have been feeling tired for two days, it is mild")

	assert.Empty(t, resp.Citations)
	assert.Zero(t, f.search.callCount())
	require.Equal(t, 1, f.generator.callCount())
	assert.Empty(t, f.generator.last.Context)

	rec, err := f.assembler.Explain(context.Background(), resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.SuppressionAmbiguousSymptoms, rec.Confidence.SuppressionReason)
}

// TestRespondSmallTalk verifies a greeting gets a canned reply without
// touching retrieval or generation.
func TestRespondSmallTalk(t *testing.T) {
	f := newFixture(t, goodChunks())

	resp := respond(t, f, "", "Hello!")

	assert.Contains(t, resp.Reply, "medical information assistant")
	assert.Equal(t, datatypes.PhaseOpening, resp.Phase)
	assert.Equal(t, datatypes.RiskLow, resp.RiskLevel)
	assert.Empty(t, resp.Citations)
	assert.Zero(t, f.search.callCount())
	assert.Zero(t, f.generator.callCount())

	rec, err := f.assembler.Explain(context.Background(), resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.SuppressionGreeting, rec.Confidence.SuppressionReason)

	conv, err := f.store.GetConversation(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	assert.Empty(t, conv.Title)
}

// TestRespondClarificationLoop verifies the bounded clarification loop: the
// service asks for missing details twice, then answers with what it has.
func TestRespondClarificationLoop(t *testing.T) {
	f := newFixture(t, goodChunks())

	first := respond(t, f, "", "I have a headache")
	convID := first.ConversationID
	assert.Equal(t, datatypes.PhaseRiskAssessment, first.Phase)

	second := respond(t, f, convID, "it started out of nowhere")
	assert.Equal(t, datatypes.PhaseClarification, second.Phase)
	assert.Contains(t, second.Reply, "How long")

	third := respond(t, f, convID, "not sure really")
	assert.Equal(t, datatypes.PhaseClarification, third.Phase)
	assert.Contains(t, third.Reply, "How long")

	fourth := respond(t, f, convID, "maybe you can still help")
	assert.Equal(t, datatypes.PhaseAnswering, fourth.Phase)
	assert.Equal(t, "Here is some general guidance.", fourth.Reply)

	rec, err := f.assembler.Explain(context.Background(), second.MessageID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.SuppressionClarificationRequired, rec.Confidence.SuppressionReason)
}

// TestRespondClarificationResolved verifies supplying the missing details
// moves the conversation straight to answering.
func TestRespondClarificationResolved(t *testing.T) {
	f := newFixture(t, goodChunks())

	first := respond(t, f, "", "I have a headache")
	convID := first.ConversationID

	second := respond(t, f, convID, "it started out of nowhere")
	require.Equal(t, datatypes.PhaseClarification, second.Phase)

	third := respond(t, f, convID, "it has been two days and it is mild")
	assert.Equal(t, datatypes.PhaseAnswering, third.Phase)
	assert.Equal(t, "Here is some general guidance.", third.Reply)
}

// TestRespondFollowUpReusesContext verifies an anaphoric follow-up folds the
// previous user message into the retrieval query instead of searching for the
// bare follow-up text.
func TestRespondFollowUpReusesContext(t *testing.T) {
	f := newFixture(t, goodChunks())

	first := respond(t, f, "", "I have had a mild headache since yesterday, what could cause it")
	second := respond(t, f, first.ConversationID, "what about that")

	assert.Equal(t, datatypes.PhaseAnswering, second.Phase)
	query := f.search.lastQueryText()
	assert.Contains(t, query, "mild headache since yesterday")
	assert.Contains(t, query, "Follow-up question: what about that")

	// History still reaches the generator on the follow-up turn.
	require.Equal(t, 2, f.generator.callCount())
	assert.NotEmpty(t, f.generator.last.History)
}

// abortingStore cancels the request context once the user message lands,
// simulating a client that disconnects mid-turn.
type abortingStore struct {
	store.Store
	cancel context.CancelFunc
}

func (s *abortingStore) AppendMessage(ctx context.Context, conversationID string, msg *datatypes.Message) error {
	err := s.Store.AppendMessage(ctx, conversationID, msg)
	s.cancel()
	return err
}

// TestRespondEmergencyClientAbort verifies an emergency turn finishes its
// audit trail, escalation included, when the client disconnects right after
// the user message is written.
func TestRespondEmergencyClientAbort(t *testing.T) {
	s, err := store.OpenBadger(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	aborting := &abortingStore{Store: s, cancel: cancel}

	gateway := retrieval.NewGateway(&stubSearch{}, retrieval.DefaultConfig())
	a := New(aborting, gateway, &stubGenerator{}, escalation.NewManager(aborting), DefaultConfig())

	resp, err := a.Respond(ctx, &datatypes.TurnRequest{
		Message: "I have crushing chest pain and my left arm is numb",
	})
	require.NoError(t, err)
	require.True(t, resp.EmergencyDetected)

	escs, err := a.ListEscalations(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, escs, 1)
	assert.Equal(t, ReasonEmergencyDetected, escs[0].Reason)

	rec, err := a.Explain(context.Background(), resp.MessageID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.SuppressionEmergencyOverride, rec.Confidence.SuppressionReason)
}

// TestRespondUnknownConversation verifies a valid but unknown conversation ID
// is rejected.
func TestRespondUnknownConversation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.assembler.Respond(context.Background(), &datatypes.TurnRequest{
		ConversationID: uuid.NewString(),
		Message:        "hello",
	})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

// TestRespondValidation verifies malformed requests fail without persisting
// anything.
func TestRespondValidation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.assembler.Respond(context.Background(), &datatypes.TurnRequest{Message: ""})
	assert.ErrorIs(t, err, datatypes.ErrValidation)

	_, err = f.assembler.Respond(context.Background(), &datatypes.TurnRequest{
		ConversationID: "not-a-uuid",
		Message:        "hello",
	})
	assert.ErrorIs(t, err, datatypes.ErrValidation)
}

// TestRespondHistoryWindow verifies prior turns reach the generator and the
// current message is excluded.
func TestRespondHistoryWindow(t *testing.T) {
	f := newFixture(t, goodChunks())

	first := respond(t, f, "", "I have had a mild headache since yesterday, what could cause it")
	respond(t, f, first.ConversationID, "could dehydration be a factor in this headache")

	require.Equal(t, 2, f.generator.callCount())
	history := f.generator.last.History
	// First user message, first assistant reply.
	require.Len(t, history, 2)
	assert.Equal(t, string(datatypes.RoleUser), history[0].Role)
	assert.Equal(t, string(datatypes.RoleAssistant), history[1].Role)
	assert.Contains(t, history[0].Content, "mild headache")
}

// TestRespondDeriveTitle verifies the first substantive message names the
// conversation.
func TestRespondDeriveTitle(t *testing.T) {
	f := newFixture(t, goodChunks())

	resp := respond(t, f, "", "I have had a mild headache since yesterday")
	conv, err := f.store.GetConversation(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "I have had a mild headache", conv.Title)
}

// TestManualEscalateAndResolve verifies the operator escalation round trip
// moves the conversation to escalated and closes it on resolution.
func TestManualEscalateAndResolve(t *testing.T) {
	f := newFixture(t, goodChunks())
	ctx := context.Background()

	resp := respond(t, f, "", "I have had a mild headache since yesterday")

	esc, err := f.assembler.ManualEscalate(ctx, &datatypes.EscalateRequest{
		MessageID: resp.MessageID,
		Notes:     "patient asked for a human",
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonManualReview, esc.Reason)

	conv, err := f.store.GetConversation(ctx, resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.PhaseEscalated, conv.Phase)

	resolved, err := f.assembler.ResolveEscalation(ctx, esc.ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)

	conv, err = f.store.GetConversation(ctx, resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.PhaseClosed, conv.Phase)
}

// TestResolveKeepsEscalatedWhileOthersOpen verifies the conversation stays
// escalated until every escalation is resolved.
func TestResolveKeepsEscalatedWhileOthersOpen(t *testing.T) {
	f := newFixture(t, goodChunks())
	ctx := context.Background()

	resp := respond(t, f, "", "I have had a mild headache since yesterday")

	escA, err := f.assembler.ManualEscalate(ctx, &datatypes.EscalateRequest{MessageID: resp.MessageID})
	require.NoError(t, err)
	escB, err := f.assembler.ManualEscalate(ctx, &datatypes.EscalateRequest{MessageID: resp.MessageID})
	require.NoError(t, err)

	_, err = f.assembler.ResolveEscalation(ctx, escA.ID)
	require.NoError(t, err)
	conv, err := f.store.GetConversation(ctx, resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.PhaseEscalated, conv.Phase)

	_, err = f.assembler.ResolveEscalation(ctx, escB.ID)
	require.NoError(t, err)
	conv, err = f.store.GetConversation(ctx, resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.PhaseClosed, conv.Phase)
}

// TestManualEscalateUnknownMessage verifies an unknown message ID is
// rejected.
func TestManualEscalateUnknownMessage(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.assembler.ManualEscalate(context.Background(), &datatypes.EscalateRequest{
		MessageID: uuid.NewString(),
	})
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

// TestExplainUnknownMessage verifies explainability lookups on unknown
// messages are rejected.
func TestExplainUnknownMessage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.assembler.Explain(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = f.assembler.ExplainRetrieval(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

// TestRespondInformationalNotEscalated verifies educational questions about
// dangerous conditions do not trip the emergency path.
func TestRespondInformationalNotEscalated(t *testing.T) {
	f := newFixture(t, goodChunks())

	resp := respond(t, f, "", "What are the warning signs of a stroke?")

	assert.False(t, resp.EmergencyDetected)
	assert.Equal(t, datatypes.RiskLow, resp.RiskLevel)
	assert.NotEqual(t, datatypes.PhaseEscalated, resp.Phase)

	escs, err := f.assembler.ListEscalations(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	assert.Empty(t, escs)
}

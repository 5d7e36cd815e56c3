// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assembler runs the turn pipeline: classify, route, track phase,
// retrieve, generate, fuse, and persist, in that order, one turn at a time
// per conversation.
//
// The safety-critical ordering lives here and only here. Risk classification
// runs before anything else can spend money or time on the message, the
// emergency override preempts every downstream stage, and nothing is returned
// to the caller until the assistant turn and its explainability record have
// been durably written.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MedgateAI/MedgateLocal/services/llm"
	"github.com/MedgateAI/MedgateLocal/services/triage/clarify"
	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
	"github.com/MedgateAI/MedgateLocal/services/triage/domains"
	"github.com/MedgateAI/MedgateLocal/services/triage/escalation"
	"github.com/MedgateAI/MedgateLocal/services/triage/fusion"
	"github.com/MedgateAI/MedgateLocal/services/triage/observability"
	"github.com/MedgateAI/MedgateLocal/services/triage/phase"
	"github.com/MedgateAI/MedgateLocal/services/triage/retrieval"
	"github.com/MedgateAI/MedgateLocal/services/triage/safety"
	"github.com/MedgateAI/MedgateLocal/services/triage/store"
)

var tracer = otel.Tracer("medgate.triage.assembler")

// ErrConversationNotFound is returned when the request names a conversation
// that does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrMessageNotFound is returned when an explainability or escalation lookup
// names an unknown message.
var ErrMessageNotFound = errors.New("message not found")

// Confidence assigned to deterministic replies (clarification questions,
// small-talk responses). High because the reply is rule-produced, not
// generated.
const deterministicReplyConfidence = 0.9

// lowConfidenceAdvisory is appended to replies whose fused confidence falls
// below the advisory threshold.
const lowConfidenceAdvisory = "\n\nNote: I found limited high-confidence information on this topic. Please treat this as general guidance and consult a licensed clinician."

// Escalation reasons.
const (
	ReasonEmergencyDetected = "emergency_detected"
	ReasonManualReview      = "manual_review"
)

// Config tunes the assembler.
type Config struct {
	// MaxClarificationTurns bounds the clarification loop.
	MaxClarificationTurns int

	// AdvisoryThreshold and SuppressionFloor feed the confidence fuser.
	AdvisoryThreshold float64
	SuppressionFloor  float64

	// HistoryWindow is the number of recent messages supplied to the
	// generator as conversation history.
	HistoryWindow int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxClarificationTurns: phase.DefaultMaxClarificationTurns,
		AdvisoryThreshold:     fusion.DefaultAdvisoryThreshold,
		SuppressionFloor:      fusion.DefaultSuppressionFloor,
		HistoryWindow:         12,
	}
}

// Assembler owns the turn pipeline.
//
// # Thread Safety
//
// Safe for concurrent use. Turns for the same conversation are serialized by
// a per-conversation lock; different conversations proceed in parallel.
type Assembler struct {
	store       store.Store
	gateway     *retrieval.Gateway
	generator   llm.Generator
	offline     *llm.OfflineGenerator
	escalations *escalation.Manager
	tracker     *phase.Tracker
	fuser       *fusion.Fuser
	locks       *conversationLocks

	historyWindow int
}

// New wires the assembler to its collaborators.
func New(s store.Store, gateway *retrieval.Gateway, generator llm.Generator, escalations *escalation.Manager, cfg Config) *Assembler {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultConfig().HistoryWindow
	}
	return &Assembler{
		store:         s,
		gateway:       gateway,
		generator:     generator,
		offline:       llm.NewOfflineGenerator(),
		escalations:   escalations,
		tracker:       phase.New(cfg.MaxClarificationTurns),
		fuser:         fusion.New(cfg.AdvisoryThreshold, cfg.SuppressionFloor),
		locks:         newConversationLocks(),
		historyWindow: cfg.HistoryWindow,
	}
}

// turnOutcome is the internal result of one pipeline branch before assembly.
type turnOutcome struct {
	reply            string
	retrieval        *datatypes.RetrievalResult
	confidence       datatypes.ConfidenceRecord
	modelMode        string
	reasoningSummary string
	citations        []datatypes.Citation
	lowConfidence    bool
}

// Respond processes one user message end to end.
//
// # Errors
//
//   - datatypes.ErrValidation: Malformed request; nothing was persisted.
//   - ErrConversationNotFound: Unknown conversation ID.
//   - store.ErrPersistence: The turn could not be durably recorded and was
//     aborted.
func (a *Assembler) Respond(ctx context.Context, req *datatypes.TurnRequest) (*datatypes.TurnResponse, error) {
	started := time.Now()

	ctx, span := tracer.Start(ctx, "Respond")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	conv, created, err := a.loadOrCreateConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID))

	unlock := a.locks.Lock(conv.ID)
	defer unlock()

	if !created {
		// Re-read under the lock; a concurrent turn may have advanced state.
		conv, err = a.store.GetConversation(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("reload conversation: %w", err)
		}
	}

	// Audit writes survive a client disconnect. Once classification has run,
	// the record of it must land even if nobody is waiting for the reply.
	persistCtx := context.WithoutCancel(ctx)

	priorEmergency, err := a.store.HasPriorEmergency(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("prior emergency lookup: %w", err)
	}

	userMsg := datatypes.NewMessage(conv.ID, datatypes.RoleUser, req.Message)
	if err := a.store.AppendMessage(persistCtx, conv.ID, &userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	// Classification first. Nothing may observe the message before the
	// safety verdict exists.
	verdict := safety.Classify(req.Message)
	span.SetAttributes(attribute.String("risk.level", string(verdict.Level)))

	routing := domains.Route(req.Message)
	if conv.PrimaryDomain == "" && routing.PrimaryDomain != domains.DomainGeneral {
		conv.PrimaryDomain = routing.PrimaryDomain
	}
	effectiveDomain := routing.PrimaryDomain
	if effectiveDomain == domains.DomainGeneral && conv.PrimaryDomain != "" {
		effectiveDomain = conv.PrimaryDomain
	}

	slots := clarify.Merge(conv.Slots, clarify.Extract(req.Message))
	missing := clarify.Missing(slots)
	symptomReport := slots[clarify.SlotSymptom] != "" && !safety.IsInformational(req.Message)

	smallTalk := ""
	if !verdict.Emergency() {
		smallTalk = smallTalkReason(req.Message)
	}
	followUp := isVagueFollowUp(req.Message)

	next := a.tracker.Next(phase.Input{
		Current:            conv.Phase,
		Verdict:            verdict,
		SlotsMissing:       symptomReport && len(missing) > 0,
		Substantive:        smallTalk == "",
		FollowUp:           followUp,
		ClarificationTurns: conv.ClarificationTurns,
	})

	var outcome *turnOutcome
	switch {
	case verdict.Emergency():
		// The escalation must land even if the client has gone away.
		outcome, err = a.emergencyTurn(persistCtx, conv, verdict)
	case smallTalk != "":
		outcome = a.smallTalkTurn(smallTalk, verdict)
	case next == datatypes.PhaseClarification:
		outcome = a.clarificationTurn(verdict, missing, effectiveDomain)
	default:
		outcome, err = a.answeringTurn(ctx, conv, req.Message, verdict, effectiveDomain, followUp)
	}
	if err != nil {
		return nil, err
	}

	if next == datatypes.PhaseClarification && !verdict.Emergency() && smallTalk == "" {
		conv.ClarificationTurns++
	} else {
		conv.ClarificationTurns = 0
	}

	conv.Phase = next
	conv.Slots = slots
	conv.UpdatedAt = time.Now().UTC()
	if conv.Title == "" && smallTalk == "" {
		conv.Title = datatypes.DeriveTitle(req.Message)
	}

	assistantMsg := datatypes.NewMessage(conv.ID, datatypes.RoleAssistant, outcome.reply)
	explain := &datatypes.ExplainabilityRecord{
		MessageID:        assistantMsg.ID,
		ConversationID:   conv.ID,
		Verdict:          verdict,
		Routing:          routing,
		Confidence:       outcome.confidence,
		Phase:            next,
		Slots:            slots,
		ModelMode:        outcome.modelMode,
		ReasoningSummary: outcome.reasoningSummary,
		CreatedAt:        time.Now().UTC(),
	}

	err = a.store.AppendAssistantTurn(persistCtx, &store.AssistantTurn{
		Message:      &assistantMsg,
		Explain:      explain,
		Retrieval:    outcome.retrieval,
		Conversation: conv,
	})
	if err != nil {
		slog.Error("Turn aborted: could not persist assistant turn",
			"conversation_id", conv.ID,
			"error", err)
		return nil, err
	}

	observability.RecordTurn(string(verdict.Level), outcome.modelMode, time.Since(started))
	observability.RecordSuppression(outcome.confidence.SuppressionReason)

	slog.Info("Turn completed",
		"conversation_id", conv.ID,
		"message_id", assistantMsg.ID,
		"risk_level", verdict.Level,
		"phase", next,
		"model_mode", outcome.modelMode,
		"final_confidence", outcome.confidence.FinalConfidence,
		"suppression", outcome.confidence.SuppressionReason,
		"elapsed", time.Since(started))

	citations := outcome.citations
	if citations == nil {
		citations = []datatypes.Citation{}
	}
	return &datatypes.TurnResponse{
		ConversationID:    conv.ID,
		MessageID:         assistantMsg.ID,
		Reply:             outcome.reply,
		Citations:         citations,
		RiskLevel:         verdict.Level,
		EmergencyDetected: verdict.Emergency(),
		PriorEmergency:    priorEmergency,
		ConfidenceScore:   outcome.confidence.FinalConfidence,
		LowConfidence:     outcome.lowConfidence,
		ModelMode:         outcome.modelMode,
		Phase:             next,
	}, nil
}

func (a *Assembler) loadOrCreateConversation(ctx context.Context, id string) (*datatypes.Conversation, bool, error) {
	if id == "" {
		conv := datatypes.NewConversation()
		if err := a.store.CreateConversation(ctx, &conv); err != nil {
			return nil, false, fmt.Errorf("create conversation: %w", err)
		}
		return &conv, true, nil
	}
	conv, err := a.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, ErrConversationNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("load conversation: %w", err)
	}
	return conv, false, nil
}

// emergencyTurn renders the fixed emergency response and opens an escalation.
// Retrieval and online generation never run on this path.
func (a *Assembler) emergencyTurn(ctx context.Context, conv *datatypes.Conversation, verdict datatypes.RiskVerdict) (*turnOutcome, error) {
	esc, err := a.escalations.Create(ctx, conv.ID, ReasonEmergencyDetected, verdict.Reason)
	if err != nil {
		return nil, fmt.Errorf("open emergency escalation: %w", err)
	}
	observability.RecordEscalation("created")
	slog.Warn("Emergency detected",
		"conversation_id", conv.ID,
		"escalation_id", esc.ID,
		"family", verdict.Family,
		"trigger", verdict.Trigger)

	draft := a.offline.EmergencyDraft(verdict.Trigger)
	rec := a.fuser.Fuse(fusion.Input{
		RetrievalSkipped:     true,
		GenerationConfidence: draft.Confidence,
		Verdict:              verdict,
	})
	return &turnOutcome{
		reply:            draft.Text,
		confidence:       rec,
		modelMode:        draft.Mode,
		reasoningSummary: draft.ReasoningSummary,
	}, nil
}

// smallTalkTurn renders the canned small-talk reply. Cheap by construction:
// no retrieval, no generation.
func (a *Assembler) smallTalkTurn(reason string, verdict datatypes.RiskVerdict) *turnOutcome {
	rec := a.fuser.Fuse(fusion.Input{
		RetrievalSkipped:     true,
		GenerationConfidence: deterministicReplyConfidence,
		Verdict:              verdict,
	})
	rec.SuppressionReason = reason
	return &turnOutcome{
		reply:            smallTalkReply(reason),
		confidence:       rec,
		modelMode:        datatypes.ModelModeOffline,
		reasoningSummary: "Non-medical message handled by intent gate (" + reason + ").",
	}
}

// clarificationTurn asks the single highest-value question for the first
// missing required slot.
func (a *Assembler) clarificationTurn(verdict datatypes.RiskVerdict, missing []string, domain string) *turnOutcome {
	rec := a.fuser.Fuse(fusion.Input{
		RetrievalSkipped:     true,
		GenerationConfidence: deterministicReplyConfidence,
		Verdict:              verdict,
	})
	rec.SuppressionReason = datatypes.SuppressionClarificationRequired
	return &turnOutcome{
		reply:            clarify.Question(missing, domain),
		confidence:       rec,
		modelMode:        datatypes.ModelModeOffline,
		reasoningSummary: fmt.Sprintf("Clarification question for missing slots %v.", missing),
	}
}

// answeringTurn is the full path: history and retrieval in parallel, then
// generation, fusion, and citation gating.
func (a *Assembler) answeringTurn(ctx context.Context, conv *datatypes.Conversation, message string, verdict datatypes.RiskVerdict, domain string, followUp bool) (*turnOutcome, error) {
	ctx, span := tracer.Start(ctx, "AnsweringTurn")
	defer span.End()

	ambiguous := isAmbiguousSymptoms(message)

	var (
		history []datatypes.Message
		result  *datatypes.RetrievalResult
	)

	// An anaphoric follow-up ("what about that?") is a useless retrieval query
	// on its own, so the previous user message is folded into it. That needs
	// history before retrieval; other turns fetch the two in parallel.
	query := message
	if followUp {
		msgs, err := a.store.ListMessages(ctx, conv.ID, a.historyWindow)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		history = msgs
		if prev := lastPriorUserMessage(msgs); prev != "" {
			query = prev + "\n\nFollow-up question: " + message
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if !followUp {
		g.Go(func() error {
			msgs, err := a.store.ListMessages(gctx, conv.ID, a.historyWindow)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			history = msgs
			return nil
		})
	}
	if !ambiguous {
		g.Go(func() error {
			res, err := a.gateway.Retrieve(gctx, query, domain)
			if errors.Is(err, retrieval.ErrUnavailable) {
				// Degrade to an ungrounded turn rather than failing it.
				slog.Warn("Retrieval unavailable, answering ungrounded",
					"conversation_id", conv.ID, "error", err)
				return nil
			}
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}
			result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if result != nil {
		observability.RecordRetrievalConfidence(result.Confidence)
	}

	draft, err := a.generator.Generate(ctx, &llm.Request{
		Message:    message,
		History:    historyTurns(history),
		Context:    result.ContextStrings(),
		DomainHint: domain,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	// An empty retrieval set carries no evidence either way: fusing its zero
	// confidence would floor every ungrounded turn, so it fuses as skipped
	// and the citation gate records the missing sources instead.
	var retrievalConf float64
	if result != nil {
		retrievalConf = result.Confidence
	}
	rec := a.fuser.Fuse(fusion.Input{
		RetrievalConfidence:  retrievalConf,
		RetrievalSkipped:     result.Empty(),
		GenerationConfidence: draft.Confidence,
		Verdict:              verdict,
	})

	var citations []datatypes.Citation
	switch {
	case ambiguous:
		rec.SuppressionReason = datatypes.SuppressionAmbiguousSymptoms
	case result.Empty():
		rec.SuppressionReason = datatypes.SuppressionNoSources
	case a.fuser.SuppressCitations(result.Confidence):
		rec.SuppressionReason = datatypes.SuppressionLowRetrievalConfidence
	default:
		citations = result.Citations()
	}

	reply := draft.Text
	low := a.fuser.LowConfidence(rec)
	if low {
		reply += lowConfidenceAdvisory
	}

	return &turnOutcome{
		reply:            reply,
		retrieval:        result,
		confidence:       rec,
		modelMode:        draft.Mode,
		reasoningSummary: draft.ReasoningSummary,
		citations:        citations,
		lowConfidence:    low,
	}, nil
}

// lastPriorUserMessage returns the most recent user message before the one
// just written, or "" when the conversation has no earlier user turn.
func lastPriorUserMessage(msgs []datatypes.Message) string {
	for i := len(msgs) - 2; i >= 0; i-- {
		if msgs[i].Role == datatypes.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// historyTurns projects stored messages to the generator's history shape,
// excluding the just-written current user message.
func historyTurns(msgs []datatypes.Message) []llm.Turn {
	if len(msgs) > 0 {
		msgs = msgs[:len(msgs)-1]
	}
	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, llm.Turn{Role: string(m.Role), Content: m.Content})
	}
	return turns
}

// ===== Explainability =====

// Explain returns the explainability record for an assistant message.
func (a *Assembler) Explain(ctx context.Context, messageID string) (*datatypes.ExplainabilityRecord, error) {
	rec, err := a.store.GetExplainability(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ExplainRetrieval returns the retrieval evidence for an assistant message.
// Turns that skipped retrieval return an empty result, not an error, as long
// as the message itself exists.
func (a *Assembler) ExplainRetrieval(ctx context.Context, messageID string) (*datatypes.RetrievalResult, error) {
	res, err := a.store.GetRetrieval(ctx, messageID)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if _, eerr := a.store.GetExplainability(ctx, messageID); eerr != nil {
		return nil, ErrMessageNotFound
	}
	return &datatypes.RetrievalResult{Chunks: []datatypes.Chunk{}}, nil
}

// ===== Escalation operations =====

// ManualEscalate opens a human-review escalation for the conversation that
// owns the given message and moves the conversation to the escalated phase.
func (a *Assembler) ManualEscalate(ctx context.Context, req *datatypes.EscalateRequest) (*datatypes.Escalation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	msg, err := a.store.GetMessage(ctx, req.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	unlock := a.locks.Lock(msg.ConversationID)
	defer unlock()

	esc, err := a.escalations.Create(ctx, msg.ConversationID, ReasonManualReview, req.Notes)
	if err != nil {
		return nil, err
	}
	observability.RecordEscalation("created")

	conv, err := a.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	conv.Phase = datatypes.PhaseEscalated
	conv.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateConversation(context.WithoutCancel(ctx), conv); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return esc, nil
}

// ResolveEscalation resolves an escalation. When the owning conversation is
// escalated and no other escalation remains open, the conversation closes.
func (a *Assembler) ResolveEscalation(ctx context.Context, id string) (*datatypes.Escalation, error) {
	esc, err := a.escalations.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	observability.RecordEscalation("resolved")

	unlock := a.locks.Lock(esc.ConversationID)
	defer unlock()

	open, err := a.escalations.HasOpen(ctx, esc.ConversationID)
	if err != nil {
		return nil, err
	}
	if open {
		return esc, nil
	}

	conv, err := a.store.GetConversation(ctx, esc.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv.Phase == datatypes.PhaseEscalated {
		conv.Phase = phase.CloseEscalated(conv.Phase)
		conv.UpdatedAt = time.Now().UTC()
		if err := a.store.UpdateConversation(context.WithoutCancel(ctx), conv); err != nil {
			return nil, fmt.Errorf("update conversation: %w", err)
		}
	}
	return esc, nil
}

// ListEscalations lists escalations newest first, optionally scoped to one
// conversation.
func (a *Assembler) ListEscalations(ctx context.Context, conversationID string) ([]datatypes.Escalation, error) {
	return a.escalations.List(ctx, conversationID)
}

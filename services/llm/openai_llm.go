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
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// systemPrompt is the non-negotiable persona for online generation. The
// grounding rules keep the model inside the retrieved evidence.
const systemPrompt = `You are an AI medical assistant.
You are NOT a doctor.

Rules:
- Never give a diagnosis
- Never prescribe medication
- Never claim certainty
- Always recommend consulting a licensed doctor
- Escalate emergencies immediately

Grounding rules:
- If medical context is provided, answer using ONLY that context.
- If the context does not contain the answer, say you don't have enough reliable information.
- Do NOT invent causes, treatments, or statistics.
- Keep it short, practical, and safety-first.`

// structuredFormatRules shape replies into a fixed safety-first layout.
const structuredFormatRules = `Output format (strict):
1) **What this could mean (general):**
- ...
2) **What you can do now (safe steps):**
- ...
3) **Red flags - seek urgent care now if:**
- ...
4) **To help me guide you, reply with:**
- ...`

// emptyReplyFallback is used when the model returns an empty completion.
const emptyReplyFallback = "I don't have enough reliable information to answer that safely. Please consult a licensed doctor."

// Generation window limits.
const (
	maxHistoryTurns  = 6
	maxContextChunks = 4
)

// Self-reported confidence for online drafts. Grounded drafts score higher
// because the model was constrained to retrieved evidence.
const (
	onlineGroundedConfidence   = 0.85
	onlineUngroundedConfidence = 0.6
)

// OpenAIGenerator is the online generation backend.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// Compile-time interface implementation check.
var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator builds the online backend from the environment.
//
// The API key comes from OPENAI_API_KEY or, failing that, the container
// secrets path. The model defaults to gpt-4o-mini.
func NewOpenAIGenerator() (*OpenAIGenerator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI generator", "model", model)
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Generate produces an online draft grounded in the request context.
//
// Failures wrap ErrUnavailable so the caller can fall back offline without
// inspecting provider error details.
func (o *OpenAIGenerator) Generate(ctx context.Context, req *Request) (*Draft, error) {
	slog.Debug("Generating draft via OpenAI", "model", o.model, "context_chunks", len(req.Context))

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt + "\n\n" + structuredFormatRules},
	}

	grounded := false
	if ctxBlock := buildContextBlock(req.Context); ctxBlock != "" {
		grounded = true
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "AUTHORITATIVE MEDICAL CONTEXT (use only this):\n\n" + ctxBlock,
		})
	}

	history := req.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	for _, t := range history {
		role := strings.ToLower(t.Role)
		if role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			continue
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("%w: openai: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, fmt.Errorf("%w: openai returned no choices", ErrUnavailable)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		text = emptyReplyFallback
	}

	confidence := onlineUngroundedConfidence
	if grounded {
		confidence = onlineGroundedConfidence
	}
	return &Draft{
		Text:             text,
		Confidence:       confidence,
		Mode:             "online",
		ReasoningSummary: fmt.Sprintf("Response generated with OpenAI (model=%s) under strict grounding rules.", o.model),
	}, nil
}

// buildContextBlock joins up to maxContextChunks non-empty chunks.
func buildContextBlock(chunks []string) string {
	var kept []string
	for _, c := range chunks {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		kept = append(kept, c)
		if len(kept) == maxContextChunks {
			break
		}
	}
	return strings.Join(kept, "\n\n---\n\n")
}

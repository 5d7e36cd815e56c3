// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the HTTP handlers for the triage service.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/MedgateAI/MedgateLocal/services/triage/assembler"
	"github.com/MedgateAI/MedgateLocal/services/triage/datatypes"
	"github.com/MedgateAI/MedgateLocal/services/triage/escalation"
	"github.com/MedgateAI/MedgateLocal/services/triage/store"
)

var triageTracer = otel.Tracer("medgate.triage.handlers")

// writeError maps pipeline errors to HTTP status codes. Internal error
// details never reach the client.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, datatypes.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, assembler.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, assembler.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, escalation.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, escalation.ErrEscalationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "escalation not found"})
	case errors.Is(err, store.ErrPersistence):
		slog.Error("Persistence failure", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "the request could not be completed"})
	default:
		slog.Error("Unhandled handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// HandleTurn processes one user message through the full triage pipeline.
func HandleTurn(a *assembler.Assembler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := triageTracer.Start(c.Request.Context(), "HandleTurn")
		defer span.End()

		var req datatypes.TurnRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		resp, err := a.Respond(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// GetExplanation returns the explainability record for an assistant message.
func GetExplanation(a *assembler.Assembler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := triageTracer.Start(c.Request.Context(), "GetExplanation")
		defer span.End()

		rec, err := a.Explain(ctx, c.Param("id"))
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// GetRetrievalEvidence returns the retrieval evidence for an assistant
// message. Turns that skipped retrieval return an empty chunk list.
func GetRetrievalEvidence(a *assembler.Assembler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := triageTracer.Start(c.Request.Context(), "GetRetrievalEvidence")
		defer span.End()

		res, err := a.ExplainRetrieval(ctx, c.Param("id"))
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// CreateEscalation opens a manual human-review escalation.
func CreateEscalation(a *assembler.Assembler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := triageTracer.Start(c.Request.Context(), "CreateEscalation")
		defer span.End()

		var req datatypes.EscalateRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		esc, err := a.ManualEscalate(ctx, &req)
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, esc)
	}
}

// ResolveEscalation marks an escalation resolved. Resolving twice returns the
// stored record unchanged.
func ResolveEscalation(a *assembler.Assembler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := triageTracer.Start(c.Request.Context(), "ResolveEscalation")
		defer span.End()

		esc, err := a.ResolveEscalation(ctx, c.Param("id"))
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, esc)
	}
}

// ListEscalations lists escalations newest first, optionally filtered by
// conversation.
func ListEscalations(a *assembler.Assembler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := triageTracer.Start(c.Request.Context(), "ListEscalations")
		defer span.End()

		escs, err := a.ListEscalations(ctx, c.Query("conversation_id"))
		if err != nil {
			span.RecordError(err)
			writeError(c, err)
			return
		}
		if escs == nil {
			escs = []datatypes.Escalation{}
		}
		c.JSON(http.StatusOK, gin.H{"escalations": escs})
	}
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MedgateAI/MedgateLocal/services/triage/assembler"
	"github.com/MedgateAI/MedgateLocal/services/triage/handlers"
	"github.com/MedgateAI/MedgateLocal/services/triage/middleware"
)

// SetupRoutes registers the triage API surface on the router.
func SetupRoutes(router *gin.Engine, a *assembler.Assembler, rps float64, burst int) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(rps, burst, 10*time.Minute)

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(limiter.Middleware())
	{
		v1.POST("/turn", handlers.HandleTurn(a))

		messages := v1.Group("/messages")
		{
			messages.GET("/:id/explain", handlers.GetExplanation(a))
			messages.GET("/:id/retrieval", handlers.GetRetrievalEvidence(a))
		}

		escalations := v1.Group("/escalations")
		{
			escalations.POST("", handlers.CreateEscalation(a))
			escalations.GET("", handlers.ListEscalations(a))
			escalations.PATCH("/:id/resolve", handlers.ResolveEscalation(a))
		}
	}
}

// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers holds the gin handlers of the coordinator's HTTP
// surface. Each handler is a thin adapter: bind, call the component,
// map errors to status codes. Domain logic lives in the components.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/router"
)

var handlersTracer = otel.Tracer("kodiak.coordinator.handlers")

// HandleAugment serves POST /v1/augment: retrieve context, assemble
// the augmented prompt, decide routing, and record the interaction.
func HandleAugment(rt *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlersTracer.Start(c.Request.Context(), "HandleAugment")
		defer span.End()

		var request datatypes.AugmentRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind augment request JSON", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		span.SetAttributes(
			attribute.Int("query_bytes", len(request.Query)),
			attribute.String("agent_type", request.AgentType),
		)

		response, err := rt.Augment(ctx, request)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, router.ErrInvalidInput) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("Augment pipeline failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to augment query"})
			return
		}

		span.SetAttributes(
			attribute.String("decision", string(response.Decision)),
			attribute.Int("context_hits", len(response.ContextHits)),
		)
		c.JSON(http.StatusOK, response)
	}
}

// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/router"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/telemetry"
)

// HandleRecordInteraction serves POST /v1/interactions for callers
// that answered a query themselves and only want it scored and stored.
func HandleRecordInteraction(rt *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlersTracer.Start(c.Request.Context(), "HandleRecordInteraction")
		defer span.End()

		var request datatypes.RecordInteractionRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind interaction request JSON", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		event, err := rt.RecordInteraction(ctx, request)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, router.ErrInvalidInput) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("Failed to record interaction", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record interaction"})
			return
		}

		span.SetAttributes(attribute.String("event_id", event.ID))
		c.JSON(http.StatusCreated, event)
	}
}

// HandleOutcomeUpdate serves POST /v1/interactions/:id/outcome.
func HandleOutcomeUpdate(rt *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlersTracer.Start(c.Request.Context(), "HandleOutcomeUpdate")
		defer span.End()

		eventID := c.Param("id")
		span.SetAttributes(attribute.String("event_id", eventID))

		var request datatypes.OutcomeUpdateRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		if err := rt.UpdateOutcome(ctx, eventID, request.Outcome); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			switch {
			case errors.Is(err, router.ErrInvalidInput):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, telemetry.ErrEventNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
			default:
				slog.Error("Failed to update outcome", "event_id", eventID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update outcome"})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"event_id": eventID, "outcome": request.Outcome})
	}
}

// HandleGetEvent serves GET /v1/events/:id.
func HandleGetEvent(store telemetry.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlersTracer.Start(c.Request.Context(), "HandleGetEvent")
		defer span.End()

		eventID := c.Param("id")
		event, err := store.GetEvent(ctx, eventID)
		if err != nil {
			span.RecordError(err)
			if errors.Is(err, telemetry.ErrEventNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
				return
			}
			slog.Error("Failed to fetch event", "event_id", eventID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch event"})
			return
		}

		c.JSON(http.StatusOK, event)
	}
}

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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/telemetry"
)

const defaultPatternLimit = 50

// HandleListPatterns serves GET /v1/patterns, newest first. The limit
// query parameter bounds the page; invalid values fall back to the
// default rather than erroring.
func HandleListPatterns(store telemetry.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlersTracer.Start(c.Request.Context(), "HandleListPatterns")
		defer span.End()

		limit := defaultPatternLimit
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		span.SetAttributes(attribute.Int("limit", limit))

		patterns, err := store.ListPatterns(ctx, limit)
		if err != nil {
			span.RecordError(err)
			slog.Error("Failed to list patterns", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list patterns"})
			return
		}
		if patterns == nil {
			patterns = []datatypes.Pattern{}
		}

		c.JSON(http.StatusOK, gin.H{"patterns": patterns, "count": len(patterns)})
	}
}

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
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
)

// ReadinessProbe reports whether a dependency is reachable. Satisfied
// by the telemetry store and the context store client.
type ReadinessProbe interface {
	Ready(ctx context.Context) error
}

// HealthSnapshotter exposes the supervisor's per-service records for
// the detailed health view.
type HealthSnapshotter interface {
	Snapshot() []datatypes.ServiceHealthRecord
}

// HandleLiveness serves GET /health/live: the process is up.
func HandleLiveness() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	}
}

// HandleReadiness serves GET /health/ready. Every configured
// dependency must answer its probe; a nil context store probe means
// lightweight mode and reports "disabled" without failing readiness.
func HandleReadiness(store ReadinessProbe, contextStore ReadinessProbe) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlersTracer.Start(c.Request.Context(), "HandleReadiness")
		defer span.End()

		deps := gin.H{}
		ready := true

		if store != nil {
			if err := store.Ready(ctx); err != nil {
				span.RecordError(err)
				deps["telemetry"] = err.Error()
				ready = false
			} else {
				deps["telemetry"] = "ok"
			}
		}
		if contextStore != nil {
			if err := contextStore.Ready(ctx); err != nil {
				span.RecordError(err)
				deps["context_store"] = err.Error()
				ready = false
			} else {
				deps["context_store"] = "ok"
			}
		} else {
			deps["context_store"] = "disabled"
		}

		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "dependencies": deps})
	}
}

// HandleDetailedHealth serves GET /health/detailed: the supervisor's
// full view of every managed service. Returns 503 when any service is
// unhealthy so load balancers can act on it directly.
func HandleDetailedHealth(supervisor HealthSnapshotter) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := handlersTracer.Start(c.Request.Context(), "HandleDetailedHealth")
		defer span.End()

		if supervisor == nil {
			c.JSON(http.StatusOK, gin.H{
				"status":   "unsupervised",
				"services": []datatypes.ServiceHealthRecord{},
			})
			return
		}

		records := supervisor.Snapshot()
		overall := "healthy"
		status := http.StatusOK
		for _, rec := range records {
			switch rec.Status {
			case datatypes.StatusUnhealthy:
				overall = "unhealthy"
				status = http.StatusServiceUnavailable
			case datatypes.StatusDegraded, datatypes.StatusUnknown:
				if overall == "healthy" {
					overall = "degraded"
				}
			}
		}

		c.JSON(status, gin.H{"status": overall, "services": records})
	}
}

// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the coordinator's HTTP surface onto a gin
// engine.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/handlers"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/router"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/telemetry"
)

// Dependencies carries everything the route table needs. ContextStore
// and Supervisor may be nil; the affected endpoints degrade instead of
// disappearing.
type Dependencies struct {
	Router       *router.Router
	Store        telemetry.Store
	ContextStore handlers.ReadinessProbe
	Supervisor   handlers.HealthSnapshotter
}

// Setup registers every endpoint on engine.
func Setup(engine *gin.Engine, deps Dependencies) {
	v1 := engine.Group("/v1")
	{
		v1.POST("/augment", handlers.HandleAugment(deps.Router))
		v1.POST("/interactions", handlers.HandleRecordInteraction(deps.Router))
		v1.POST("/interactions/:id/outcome", handlers.HandleOutcomeUpdate(deps.Router))
		v1.GET("/patterns", handlers.HandleListPatterns(deps.Store))
		v1.GET("/events/:id", handlers.HandleGetEvent(deps.Store))
	}

	health := engine.Group("/health")
	{
		health.GET("/live", handlers.HandleLiveness())
		health.GET("/ready", handlers.HandleReadiness(storeProbe(deps.Store), deps.ContextStore))
		health.GET("/detailed", handlers.HandleDetailedHealth(deps.Supervisor))
	}

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// storeProbe narrows a possibly-nil Store to the readiness interface
// without tripping the typed-nil pitfall.
func storeProbe(store telemetry.Store) handlers.ReadinessProbe {
	if store == nil {
		return nil
	}
	return store
}

// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package supervisor is the self-healing loop of the coordinator. It
// probes every managed service on a fixed tick, drives a per-service
// state machine (UNKNOWN -> HEALTHY <-> DEGRADED <-> UNHEALTHY), and
// applies cooldown-gated, escalating recovery actions on entry into
// UNHEALTHY. Every transition and recovery attempt is appended to the
// telemetry store as an auditable trail.
//
// The supervisor is a parallel safety net: query serving never depends
// on it for correctness. Its only outbound surface besides recovery is
// the read-only Snapshot used by the health endpoints and the
// LocalEngineReady signal consumed by the router's policy.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/observability"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/telemetry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Recovery action names recorded in telemetry and metrics.
const (
	ActionRestart       = "restart"
	ActionForceRecreate = "force_recreate"
	ActionAlert         = "alert"
)

// =============================================================================
// Configuration
// =============================================================================

// ManagedService describes one service under supervision.
type ManagedService struct {
	// Name identifies the service in records, telemetry, and the
	// process controller.
	Name string `yaml:"name"`

	// ProbeURL is the HTTP health endpoint polled each tick.
	ProbeURL string `yaml:"probe_url"`
}

// Config holds supervisor tunables. Zero values get defaults.
type Config struct {
	// Services under supervision.
	Services []ManagedService

	// Interval between probe ticks. Default: 30s.
	Interval time.Duration

	// ProbeTimeout bounds each individual probe. Default: 4s.
	ProbeTimeout time.Duration

	// SlowThreshold separates ok from slow responses. Default: 1s.
	SlowThreshold time.Duration

	// FailureThreshold is the consecutive non-ok count that moves
	// DEGRADED to UNHEALTHY. Default: 3.
	FailureThreshold int

	// Cooldown is the minimum gap between recovery actions for the
	// same service. Default: 60s.
	Cooldown time.Duration

	// EscalationWindow is the rolling window in which repeated
	// recoveries escalate. Default: 10m.
	EscalationWindow time.Duration

	// MaxAttempts caps recovery attempts within the escalation
	// window; beyond it the service enters a persistent alert state.
	// Default: 3.
	MaxAttempts int

	// ActionTimeout bounds each recovery action. Default: 30s.
	ActionTimeout time.Duration

	// LocalEngineService names the managed service whose health
	// gates local routing. Empty disables the signal.
	LocalEngineService string
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 4 * time.Second
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.EscalationWindow <= 0 {
		cfg.EscalationWindow = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	return cfg
}

// =============================================================================
// Supervisor
// =============================================================================

// serviceState is the supervisor-private state for one service.
type serviceState struct {
	record datatypes.ServiceHealthRecord

	// attempts holds recovery attempt times inside the escalation
	// window; pruned on every new attempt.
	attempts []time.Time
}

// Supervisor polls managed services and applies bounded recovery.
// Snapshot and LocalEngineReady are safe for concurrent use; all
// mutation happens on the probe loop.
type Supervisor struct {
	config     Config
	prober     Prober
	controller Controller
	store      telemetry.Store
	metrics    *observability.Metrics

	mu       sync.RWMutex
	services map[string]*serviceState

	// now is injected for deterministic cooldown tests.
	now func() time.Time
}

// New creates a Supervisor. store, metrics, and controller may be nil;
// a nil controller disables both the missing refinement and recovery.
func New(prober Prober, controller Controller, store telemetry.Store,
	metrics *observability.Metrics, cfg Config) *Supervisor {
	cfg = applyConfigDefaults(cfg)

	services := make(map[string]*serviceState, len(cfg.Services))
	for _, svc := range cfg.Services {
		services[svc.Name] = &serviceState{
			record: datatypes.ServiceHealthRecord{
				Name:   svc.Name,
				Status: datatypes.StatusUnknown,
			},
		}
	}

	return &Supervisor{
		config:     cfg,
		prober:     prober,
		controller: controller,
		store:      store,
		metrics:    metrics,
		services:   services,
		now:        time.Now,
	}
}

// Run probes all services on the configured tick until ctx is
// cancelled. A fault in one tick is logged and the schedule continues.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	slog.Info("Health supervisor started",
		"services", len(s.config.Services), "interval", s.config.Interval.String())

	for {
		select {
		case <-ctx.Done():
			slog.Info("Health supervisor stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick probes all managed services concurrently. A slow or hanging
// probe for one service never delays the others; each probe carries
// its own timeout.
func (s *Supervisor) Tick(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	for _, svc := range s.config.Services {
		g.Go(func() error {
			s.probeOne(gctx, svc)
			return nil
		})
	}
	// Probes never return errors; they record outcomes instead.
	_ = g.Wait()
}

func (s *Supervisor) probeOne(ctx context.Context, svc ManagedService) {
	probeCtx, cancel := context.WithTimeout(ctx, s.config.ProbeTimeout)
	defer cancel()

	outcome, elapsed := s.prober.Probe(probeCtx, svc.ProbeURL)
	if s.metrics != nil {
		s.metrics.ProbeDuration.WithLabelValues(svc.Name).Observe(elapsed.Seconds())
	}

	// Refine fail into missing: a dead process is handled the same by
	// the state machine but recorded distinctly for the audit trail.
	if outcome == datatypes.ProbeFail && s.controller != nil {
		if running, err := s.controller.Running(ctx, svc.Name); err == nil && !running {
			outcome = datatypes.ProbeMissing
		}
	}

	s.Observe(ctx, svc.Name, outcome)
}

// recoveryDecision is planned under the lock and executed after it is
// released, so a slow or hanging action for one service never stalls
// probes for the others or the read surface.
type recoveryDecision struct {
	action  string
	force   bool
	attempt int
}

// Observe feeds one probe outcome into the state machine and applies
// recovery when the service enters UNHEALTHY. Exposed for the probe
// loop and for deterministic tests; callers outside this package
// should not invent outcomes.
func (s *Supervisor) Observe(ctx context.Context, service string, outcome datatypes.ProbeOutcome) {
	decision := s.applyOutcome(ctx, service, outcome)
	if decision == nil {
		return
	}
	if decision.action == ActionAlert {
		s.recordRecovery(ctx, service, ActionAlert,
			"escalation cap reached, operator intervention required")
		return
	}
	s.runRecovery(ctx, service, decision)
}

// applyOutcome advances the state machine under the lock. The returned
// decision, if any, is acted on by Observe with the lock released.
func (s *Supervisor) applyOutcome(ctx context.Context, service string, outcome datatypes.ProbeOutcome) *recoveryDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.services[service]
	if !ok {
		return nil
	}

	now := s.now()
	state.record.LastCheck = now

	if outcome == datatypes.ProbeOK {
		state.record.ConsecutiveFailures = 0
	} else {
		state.record.ConsecutiveFailures++
	}

	prev := state.record.Status
	next := NextState(prev, state.record.ConsecutiveFailures, outcome, s.config.FailureThreshold)

	if next != prev {
		state.record.Status = next
		s.recordTransition(ctx, service, prev, next, outcome)
		slog.Info("Service health transition",
			"service", service, "from", prev, "to", next, "probe", outcome)
	}
	if s.metrics != nil {
		s.metrics.ServiceHealthState.WithLabelValues(service).
			Set(observability.HealthStateValue(string(next)))
	}

	// Recovery on healthy again: clear the alert latch so a future
	// incident starts a fresh escalation.
	if next == datatypes.StatusHealthy {
		state.record.AlertState = false
		return nil
	}

	// Recovery fires only on entry into UNHEALTHY.
	if next == datatypes.StatusUnhealthy && prev != datatypes.StatusUnhealthy {
		return s.planRecovery(service, state, now)
	}
	return nil
}

// planRecovery applies the cooldown and escalation rules and commits
// the attempt bookkeeping. Called with s.mu held; the controller is
// never invoked here.
func (s *Supervisor) planRecovery(service string, state *serviceState, now time.Time) *recoveryDecision {
	if state.record.AlertState {
		return nil
	}
	if !state.record.LastRecoveryAction.IsZero() &&
		now.Sub(state.record.LastRecoveryAction) < s.config.Cooldown {
		slog.Info("Recovery suppressed by cooldown",
			"service", service, "last_action", state.record.LastRecoveryAction)
		return nil
	}
	if s.controller == nil {
		return nil
	}

	// Prune attempts that fell out of the escalation window.
	kept := state.attempts[:0]
	for _, t := range state.attempts {
		if now.Sub(t) < s.config.EscalationWindow {
			kept = append(kept, t)
		}
	}
	state.attempts = kept

	attempt := len(state.attempts) + 1
	if attempt > s.config.MaxAttempts {
		state.record.AlertState = true
		state.record.LastAction = ActionAlert
		slog.Error("Recovery escalation cap reached, entering alert state",
			"service", service, "attempts", len(state.attempts))
		return &recoveryDecision{action: ActionAlert}
	}

	action := ActionRestart
	force := false
	if attempt > 1 {
		action = ActionForceRecreate
		force = true
	}

	state.attempts = append(state.attempts, now)
	state.record.LastRecoveryAction = now
	state.record.LastAction = action
	return &recoveryDecision{action: action, force: force, attempt: attempt}
}

// runRecovery issues a planned action. Must not be called with s.mu
// held: the controller can take up to ActionTimeout.
func (s *Supervisor) runRecovery(ctx context.Context, service string, decision *recoveryDecision) {
	actionCtx, cancel := context.WithTimeout(ctx, s.config.ActionTimeout)
	defer cancel()

	detail := ""
	if err := s.controller.Restart(actionCtx, service, decision.force); err != nil {
		detail = err.Error()
		slog.Error("Recovery action failed",
			"service", service, "action", decision.action, "error", err)
	} else {
		slog.Info("Recovery action issued",
			"service", service, "action", decision.action, "attempt", decision.attempt)
	}
	s.recordRecovery(ctx, service, decision.action, detail)
}

// =============================================================================
// Telemetry
// =============================================================================

func (s *Supervisor) recordTransition(ctx context.Context, service string,
	from, to datatypes.ServiceStatus, outcome datatypes.ProbeOutcome) {
	if s.store == nil {
		return
	}
	event := datatypes.HealthEvent{
		ID:        uuid.New().String(),
		Timestamp: s.now().UTC(),
		Service:   service,
		Kind:      "transition",
		From:      from,
		To:        to,
		Detail:    string(outcome),
	}
	if err := s.store.AppendHealthEvent(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("Failed to record health transition", "service", service, "error", err)
	}
}

func (s *Supervisor) recordRecovery(ctx context.Context, service, action, detail string) {
	if s.metrics != nil {
		s.metrics.RecoveryActions.WithLabelValues(service, action).Inc()
	}
	if s.store == nil {
		return
	}
	event := datatypes.HealthEvent{
		ID:        uuid.New().String(),
		Timestamp: s.now().UTC(),
		Service:   service,
		Kind:      "recovery",
		Action:    action,
		Detail:    detail,
	}
	if err := s.store.AppendHealthEvent(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("Failed to record recovery action", "service", service, "error", err)
	}
}

// =============================================================================
// Read Surface
// =============================================================================

// Snapshot returns a copy of every service's health record.
func (s *Supervisor) Snapshot() []datatypes.ServiceHealthRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]datatypes.ServiceHealthRecord, 0, len(s.config.Services))
	for _, svc := range s.config.Services {
		records = append(records, s.services[svc.Name].record)
	}
	return records
}

// LocalEngineReady reports whether the configured local inference
// service is currently healthy. Consumed by the router's policy.
func (s *Supervisor) LocalEngineReady() bool {
	if s.config.LocalEngineService == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.services[s.config.LocalEngineService]
	if !ok {
		return false
	}
	return state.record.Status == datatypes.StatusHealthy
}

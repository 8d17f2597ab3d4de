// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"context"
	"net/http"
	"time"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
)

// Prober checks whether a managed service responds. The supervisor
// refines a fail result into missing by asking the process controller
// whether the service is running at all.
type Prober interface {
	Probe(ctx context.Context, url string) (datatypes.ProbeOutcome, time.Duration)
}

// HTTPProber probes a service's health endpoint over HTTP.
//
// A 2xx response within the slow threshold is ok; a 2xx response above
// it is slow; anything else (non-2xx, transport error, timeout) is
// fail. The caller bounds the probe with a context deadline.
type HTTPProber struct {
	client        *http.Client
	slowThreshold time.Duration
}

// NewHTTPProber creates a prober. slowThreshold separates ok from
// slow; a zero value defaults to 1 second.
func NewHTTPProber(slowThreshold time.Duration) *HTTPProber {
	if slowThreshold <= 0 {
		slowThreshold = time.Second
	}
	return &HTTPProber{
		// Per-probe timeouts come from the caller's context; the
		// client timeout is only a backstop.
		client:        &http.Client{Timeout: 30 * time.Second},
		slowThreshold: slowThreshold,
	}
}

// Probe issues one GET against url.
func (p *HTTPProber) Probe(ctx context.Context, url string) (datatypes.ProbeOutcome, time.Duration) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return datatypes.ProbeFail, time.Since(start)
	}

	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return datatypes.ProbeFail, elapsed
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return datatypes.ProbeFail, elapsed
	}
	if elapsed > p.slowThreshold {
		return datatypes.ProbeSlow, elapsed
	}
	return datatypes.ProbeOK, elapsed
}

var _ Prober = (*HTTPProber)(nil)

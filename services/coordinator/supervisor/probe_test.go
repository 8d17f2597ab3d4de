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
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/stretchr/testify/assert"
)

func TestHTTPProberOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	prober := NewHTTPProber(time.Second)
	outcome, elapsed := prober.Probe(context.Background(), server.URL)

	assert.Equal(t, datatypes.ProbeOK, outcome)
	assert.Less(t, elapsed, time.Second)
}

func TestHTTPProberSlow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	prober := NewHTTPProber(10 * time.Millisecond)
	outcome, _ := prober.Probe(context.Background(), server.URL)

	assert.Equal(t, datatypes.ProbeSlow, outcome)
}

func TestHTTPProberFailOnStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	prober := NewHTTPProber(time.Second)
	outcome, _ := prober.Probe(context.Background(), server.URL)

	assert.Equal(t, datatypes.ProbeFail, outcome)
}

func TestHTTPProberFailOnConnectionRefused(t *testing.T) {
	prober := NewHTTPProber(time.Second)
	outcome, _ := prober.Probe(context.Background(), "http://127.0.0.1:1/health")

	assert.Equal(t, datatypes.ProbeFail, outcome)
}

func TestHTTPProberFailOnTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	prober := NewHTTPProber(time.Second)
	outcome, _ := prober.Probe(ctx, server.URL)

	assert.Equal(t, datatypes.ProbeFail, outcome)
}

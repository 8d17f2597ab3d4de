// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
)

// RoutedTo values reported in the augment response. They explain the
// decision, not just the destination.
const (
	RoutedLocal          = "local"
	RoutedRemote         = "remote"
	RoutedExplicit       = "explicit"
	RoutedRemoteFallback = "remote_fallback"
)

// Policy is the typed routing policy. Pure data; the decision function
// below is the only consumer.
type Policy struct {
	// ConfidenceThreshold is the mean context-hit score above which
	// local inference is trusted. Default: 0.6.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// DefaultPolicy returns the default routing policy.
func DefaultPolicy() Policy {
	return Policy{ConfidenceThreshold: 0.6}
}

// Decide picks local or remote for one query. Pure function, no I/O.
//
// An explicitly requested agent type always wins. Otherwise the query
// routes local when the mean context-hit score clears the confidence
// threshold and the local engine is ready; when the context suggested
// local but the engine was not ready, the routed_to value is
// "remote_fallback" so callers can tell the degradation apart from a
// plain remote decision.
func Decide(requested datatypes.Origin, hits []datatypes.Snippet, localReady bool, p Policy) (datatypes.Origin, string) {
	switch requested {
	case datatypes.OriginLocal, datatypes.OriginRemote:
		return requested, RoutedExplicit
	}

	if len(hits) == 0 {
		return datatypes.OriginRemote, RoutedRemote
	}

	if meanScore(hits) >= p.ConfidenceThreshold {
		if localReady {
			return datatypes.OriginLocal, RoutedLocal
		}
		return datatypes.OriginRemote, RoutedRemoteFallback
	}
	return datatypes.OriginRemote, RoutedRemote
}

func meanScore(hits []datatypes.Snippet) float64 {
	if len(hits) == 0 {
		return 0
	}
	var sum float64
	for _, hit := range hits {
		sum += hit.Score
	}
	return sum / float64(len(hits))
}

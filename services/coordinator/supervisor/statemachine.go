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
	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
)

// NextState computes the next health state for a service. Pure
// function, no I/O; the supervisor loop feeds it probe outcomes and a
// consecutive non-ok count that already includes the current outcome.
//
// Transitions:
//
//	any state     -> HEALTHY    on one ok (fast recovery acknowledgment)
//	HEALTHY       -> DEGRADED   after one slow/fail/missing
//	UNKNOWN       -> DEGRADED   same rule: the first observation counts
//	DEGRADED      -> UNHEALTHY  after failureThreshold consecutive non-ok
//	UNHEALTHY     -> UNHEALTHY  while non-ok results continue
func NextState(current datatypes.ServiceStatus, consecutiveFailures int,
	outcome datatypes.ProbeOutcome, failureThreshold int) datatypes.ServiceStatus {

	if outcome == datatypes.ProbeOK {
		return datatypes.StatusHealthy
	}

	switch current {
	case datatypes.StatusUnhealthy:
		return datatypes.StatusUnhealthy
	default:
		if consecutiveFailures >= failureThreshold {
			return datatypes.StatusUnhealthy
		}
		return datatypes.StatusDegraded
	}
}

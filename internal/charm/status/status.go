// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package status aggregates the unit's readiness sources into the single
// workload status surfaced to the orchestrator.
package status

import (
	"fmt"

	corestatus "github.com/juju/webapp-operator/core/status"
	"github.com/juju/webapp-operator/internal/charm/relation"
)

// Supervisor is the read-only view of the container supervisor the
// aggregator needs. Nothing here mutates supervisor state.
type Supervisor interface {
	ServiceRunning(name string) (bool, error)
}

// Inputs are the sources evaluated for unit status. They are gathered
// fresh for each status-collection event.
type Inputs struct {
	// ConfigError is the failure from validating the charm configuration,
	// or nil when it validated cleanly.
	ConfigError error

	// Supervisor reports the managed service's run state.
	Supervisor Supervisor

	// ServiceName is the managed service's name in the supervisor plan.
	ServiceName string

	// Bindings are the resolved dependencies, in declared order.
	Bindings []relation.Binding
}

// Evaluate returns the unit's workload status. The scan is first-match:
// the surfaced condition is the one closest to the operator's required
// action (fix config, then attach the relation, then wait for data, then
// wait for startup), never a downstream symptom. Evaluation is read-only
// and independent of whether a reconcile has run.
func Evaluate(in Inputs) corestatus.StatusInfo {
	if in.ConfigError != nil {
		return corestatus.StatusInfo{
			Status:  corestatus.Blocked,
			Message: in.ConfigError.Error(),
		}
	}

	running, err := in.Supervisor.ServiceRunning(in.ServiceName)
	if err != nil {
		return corestatus.StatusInfo{
			Status:  corestatus.Maintenance,
			Message: "waiting for Pebble in workload container",
		}
	}

	for _, binding := range in.Bindings {
		if !binding.Present {
			return corestatus.StatusInfo{
				Status:  corestatus.Blocked,
				Message: fmt.Sprintf("missing required relation %q: integrate the application to proceed", binding.Relation),
			}
		}
		if !binding.DataAvailable() {
			return corestatus.StatusInfo{
				Status:  corestatus.Waiting,
				Message: fmt.Sprintf("waiting for data on the %q relation", binding.Relation),
			}
		}
	}

	if !running {
		return corestatus.StatusInfo{
			Status:  corestatus.Maintenance,
			Message: fmt.Sprintf("waiting for service %q to start", in.ServiceName),
		}
	}
	return corestatus.StatusInfo{Status: corestatus.Active}
}

// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package reconciler applies the desired service layer to the supervisor,
// if and only if it differs from what is currently running.
package reconciler

import (
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/webapp-operator/internal/charm/layer"
)

var logger = loggo.GetLogger("webapp-operator.reconciler")

// Supervisor is the subset of the container supervisor API the reconciler
// drives. The supervisor owns the currently applied descriptor; the
// reconciler's apply step is the only thing here that mutates it.
type Supervisor interface {
	CurrentPlan() ([]byte, error)
	AddLayer(label string, layerData []byte) error
	Replan() error
	Restart(name string) error
}

// Trigger describes what provoked a reconcile.
type Trigger string

const (
	// TriggerSupervisorReady means the supervisor has just become
	// reachable and has no prior plan worth diffing against.
	TriggerSupervisorReady Trigger = "supervisor-ready"

	// TriggerChange is any other provocation, e.g. configuration or
	// dependency changes while the workload is already running.
	TriggerChange Trigger = "change"
)

// Action is what the reconciler did.
type Action string

const (
	// NoOp means current and desired matched, so nothing was touched.
	// Repeated reconciles with unchanged inputs always land here.
	NoOp Action = "no-op"

	// Replanned means the new layer was applied and the supervisor
	// re-planned from scratch.
	Replanned Action = "replanned"

	// Restarted means the new layer was applied and the managed service
	// was restarted in place.
	Restarted Action = "restarted"
)

// Reconcile compares desired against the supervisor's current plan and
// conditionally applies it. On any supervisor fault the current state is
// left untouched and an error satisfying SupervisorUnavailable is
// returned; the orchestrator re-delivers the provoking event, so no retry
// happens here.
func Reconcile(supervisor Supervisor, desired *layer.ServiceDescriptor, trigger Trigger) (Action, error) {
	planData, err := supervisor.CurrentPlan()
	if err != nil {
		return NoOp, errors.Trace(err)
	}
	current, err := layer.FromPlan(planData)
	if err != nil {
		return NoOp, errors.Trace(err)
	}
	if desired.Equal(current) {
		logger.Debugf("service %q already up to date", desired.Name)
		return NoOp, nil
	}

	layerData, err := desired.Data()
	if err != nil {
		return NoOp, errors.Trace(err)
	}
	if err := supervisor.AddLayer(layer.Label, layerData); err != nil {
		return NoOp, errors.Trace(err)
	}
	logger.Infof("added updated layer %q to the plan", layer.Label)

	if trigger == TriggerSupervisorReady {
		if err := supervisor.Replan(); err != nil {
			return NoOp, errors.Trace(err)
		}
		return Replanned, nil
	}
	if err := supervisor.Restart(desired.Name); err != nil {
		return NoOp, errors.Trace(err)
	}
	logger.Infof("restarted service %q", desired.Name)
	return Restarted, nil
}

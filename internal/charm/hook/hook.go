// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hook provides types that define the lifecycle events the
// orchestrator delivers to the charm.
package hook

import (
	"github.com/juju/errors"
)

// Kind enumerates the hook kinds known to the charm.
type Kind string

const (
	Install       Kind = "install"
	Start         Kind = "start"
	ConfigChanged Kind = "config-changed"

	// PebbleReady is delivered when the workload container's supervisor
	// becomes reachable for the first time.
	PebbleReady Kind = "pebble-ready"

	RelationCreated Kind = "relation-created"
	RelationChanged Kind = "relation-changed"
	RelationBroken  Kind = "relation-broken"

	// CollectStatus asks the charm to evaluate and surface unit status.
	CollectStatus Kind = "collect-status"

	// Action invokes a named operator action.
	Action Kind = "action"
)

// IsRelation returns whether the Kind is a relation hook.
func (k Kind) IsRelation() bool {
	switch k {
	case RelationCreated, RelationChanged, RelationBroken:
		return true
	}
	return false
}

// Info holds details required to dispatch a hook. Not all fields are
// relevant to all Kind values.
type Info struct {
	Kind Kind `yaml:"kind"`

	// RelationName identifies the relation associated with the hook. It is
	// only set when Kind indicates a relation hook.
	RelationName string `yaml:"relation-name,omitempty"`

	// ActionName is the operator action to run. It is only set when Kind
	// is Action.
	ActionName string `yaml:"action-name,omitempty"`

	// ActionParams holds the action's parameter set. It is only set when
	// Kind is Action.
	ActionParams map[string]string `yaml:"action-params,omitempty"`
}

// Validate returns an error if the info is not valid.
func (hi Info) Validate() error {
	switch hi.Kind {
	case RelationCreated, RelationChanged, RelationBroken:
		if hi.RelationName == "" {
			return errors.Errorf("%q hook requires a relation name", hi.Kind)
		}
		return nil
	case Action:
		if hi.ActionName == "" {
			return errors.Errorf("%q hook requires an action name", hi.Kind)
		}
		return nil
	case Install, Start, ConfigChanged, PebbleReady, CollectStatus:
		return nil
	}
	return errors.Errorf("unknown hook kind %q", hi.Kind)
}

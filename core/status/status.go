// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status

import (
	"time"
)

// Status represents the workload status of a unit as surfaced to the
// orchestrator's dashboard. Exactly one status value is visible at a time.
type Status string

// String returns a string representation of the Status.
func (s Status) String() string {
	return string(s)
}

const (
	// Error means the unit requires human intervention
	// in order to operate correctly.
	Error Status = "error"

	// Blocked is set when:
	// The unit needs manual intervention to get back to the Running state.
	Blocked Status = "blocked"

	// Maintenance is set when:
	// The unit is not yet providing services, but is actively doing stuff
	// in preparation for providing those services.
	// This is a "spinning" state, not an error state.
	// It reflects activity on the unit itself, not on peers or related units.
	Maintenance Status = "maintenance"

	// Waiting is set when:
	// The unit is unable to progress to an active state because an
	// application to which it is related is not yet providing the data the
	// unit needs.
	Waiting Status = "waiting"

	// Active is set when:
	// The unit believes it is correctly offering all the services it has
	// been asked to offer.
	Active Status = "active"

	// Unknown is set when:
	// The unit has started but no status has been computed for it yet.
	Unknown Status = "unknown"
)

// KnownWorkloadStatus returns true if status has a known value for a
// workload.
func (s Status) KnownWorkloadStatus() bool {
	switch s {
	case Error, Blocked, Maintenance, Waiting, Active, Unknown:
		return true
	}
	return false
}

// StatusInfo holds a Status and associated information.
type StatusInfo struct {
	Status  Status
	Message string
	Data    map[string]interface{}
	Since   *time.Time
}

// StatusSetter represents a type whose status can be set.
type StatusSetter interface {
	SetStatus(StatusInfo) error
}

// StatusGetter represents a type whose status can be read.
type StatusGetter interface {
	Status() (StatusInfo, error)
}

// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import "github.com/juju/errors"

const (
	// ConfigInvalid is raised when a declared config option is missing,
	// empty or malformed, or a secret-typed option does not resolve to an
	// actual secret payload. It is surfaced as blocked status, never as a
	// fatal fault.
	ConfigInvalid = errors.ConstError("config invalid")

	// DependencyUnresolved is raised when a required dependency's relation
	// is absent or its data has not yet propagated. Callers treat it as
	// "no change", not as an error to surface loudly.
	DependencyUnresolved = errors.ConstError("dependency unresolved")

	// SupervisorUnavailable is raised on any connectivity or API fault
	// talking to the container supervisor. The encountering handler leaves
	// current state untouched; the orchestrator re-delivers the event.
	SupervisorUnavailable = errors.ConstError("supervisor unavailable")

	// ActionFailed is raised when a requested operator action's subprocess
	// exited non-zero or the supervisor refused to run it. It is surfaced
	// only as that action's own result, never as unit status.
	ActionFailed = errors.ConstError("action failed")
)

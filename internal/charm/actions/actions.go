// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package actions implements the charm's named operator actions. Action
// failures are surfaced only in the action's own result and never affect
// unit status.
package actions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	charmerrors "github.com/juju/webapp-operator/internal/charm/errors"
	"github.com/juju/webapp-operator/internal/charm/layer"
)

var logger = loggo.GetLogger("webapp-operator.actions")

const (
	// MigrateDatabase runs the application's schema migrations.
	MigrateDatabase = "migrate-database"

	// FetchAuditLogs retrieves the tail of the workload's audit log.
	FetchAuditLogs = "fetch-audit-logs"

	auditLogPath     = "/var/log/webapp/audit.log"
	defaultLogLines  = 100
	migrationDefault = "head"
)

// Supervisor is what actions need from the container supervisor.
type Supervisor interface {
	Exec(command []string, env map[string]string, workingDir string) (stdout, stderr string, err error)
	Pull(path string) ([]byte, error)
}

// Names returns the action names the charm responds to.
func Names() []string {
	return []string{MigrateDatabase, FetchAuditLogs}
}

// Run dispatches the named action and returns its result mapping. On
// failure the returned error satisfies ActionFailed and the result holds
// any partial output captured before the failure.
func Run(supervisor Supervisor, desired *layer.ServiceDescriptor, name string, params map[string]string) (map[string]string, error) {
	switch name {
	case MigrateDatabase:
		return runMigrateDatabase(supervisor, desired, params)
	case FetchAuditLogs:
		return runFetchAuditLogs(supervisor, params)
	}
	return nil, fmt.Errorf("unknown action %q%w", name, errors.Hide(charmerrors.ActionFailed))
}

func runMigrateDatabase(supervisor Supervisor, desired *layer.ServiceDescriptor, params map[string]string) (map[string]string, error) {
	if desired == nil {
		return nil, fmt.Errorf("service descriptor not available, cannot run migrations%w",
			errors.Hide(charmerrors.ActionFailed))
	}
	target := params["target"]
	if target == "" {
		target = migrationDefault
	}
	command := []string{"alembic", "upgrade", target}
	logger.Infof("running database migration to %q", target)
	stdout, stderr, err := supervisor.Exec(command, desired.Environment, desired.WorkingDir)
	result := map[string]string{
		"stdout": stdout,
		"stderr": stderr,
	}
	if err != nil {
		return result, fmt.Errorf("migration to %q failed: %v%w",
			target, err, errors.Hide(charmerrors.ActionFailed))
	}
	result["target"] = target
	return result, nil
}

func runFetchAuditLogs(supervisor Supervisor, params map[string]string) (map[string]string, error) {
	lines := defaultLogLines
	if raw := params["lines"]; raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid lines parameter %q%w",
				raw, errors.Hide(charmerrors.ActionFailed))
		}
		lines = parsed
	}
	content, err := supervisor.Pull(auditLogPath)
	if err != nil {
		return nil, fmt.Errorf("fetching audit logs: %v%w", err, errors.Hide(charmerrors.ActionFailed))
	}
	tail := lastLines(string(content), lines)
	return map[string]string{
		"content": tail,
		"lines":   strconv.Itoa(strings.Count(tail, "\n")),
	}, nil
}

// lastLines returns at most n trailing lines of text, newline terminated.
func lastLines(text string, n int) string {
	trimmed := strings.TrimRight(text, "\n")
	if trimmed == "" {
		return ""
	}
	all := strings.Split(trimmed, "\n")
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return strings.Join(all, "\n") + "\n"
}

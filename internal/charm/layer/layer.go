// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package layer builds the desired Pebble service layer for the webapp
// workload from configuration, resolved dependencies and proxy settings.
package layer

import (
	"fmt"

	"github.com/canonical/pebble/internals/plan"
	"github.com/juju/errors"
	"github.com/juju/proxy"
	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"github.com/juju/webapp-operator/internal/charm/config"
	charmerrors "github.com/juju/webapp-operator/internal/charm/errors"
	"github.com/juju/webapp-operator/internal/charm/relation"
	"github.com/juju/webapp-operator/internal/charm/secrets"
)

const (
	// ServiceName is the Pebble service the charm manages.
	ServiceName = "app"

	// Label is the label of the charm's Pebble layer.
	Label = "webapp"

	workingDir  = "app"
	entrypoint  = "src/main.py"
	runtimePath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

	// The three health checks, all pointed at the workload's local
	// health endpoint.
	reachabilityCheck = "test"
	readinessCheck    = "online"
	livenessCheck     = "up"
)

// HealthCheck is one HTTP health check in the service layer.
type HealthCheck struct {
	Name  string
	Level plan.CheckLevel
	URL   string
}

// ServiceDescriptor is the desired state of the managed service. It is an
// immutable value object, rebuilt from scratch on every reconcile; equality
// is structural.
type ServiceDescriptor struct {
	Name        string
	Command     []string
	WorkingDir  string
	Environment map[string]string
	Checks      map[string]HealthCheck

	// OnCheckFailure maps check names to the service action taken when
	// the check fails.
	OnCheckFailure map[string]plan.ServiceAction
}

// Build produces the desired service descriptor, or fails with
// ConfigInvalid / DependencyUnresolved when its inputs are not ready.
// It is a pure function of its arguments.
func Build(
	cfg *config.Config,
	payload *secrets.Payload,
	bindings []relation.Binding,
	proxySettings proxy.Settings,
) (*ServiceDescriptor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not validated%w",
			errors.Hide(charmerrors.ConfigInvalid))
	}
	if payload == nil {
		return nil, fmt.Errorf("option %q does not resolve to a secret payload%w",
			config.AppSecretIDKey, errors.Hide(charmerrors.ConfigInvalid))
	}
	if err := relation.FirstUnresolved(bindings); err != nil {
		return nil, errors.Trace(err)
	}

	// Later entries override earlier ones on key collision.
	env := make(map[string]string)
	for k, v := range cfg.EnvironmentVariables() {
		env[k] = v
	}
	for k, v := range payload.EnvironmentVariables() {
		env[k] = v
	}
	for _, binding := range bindings {
		for k, v := range binding.EnvironmentVariables() {
			env[k] = v
		}
	}
	for k, v := range proxyEnvironment(cfg.ProxyOverrides(), proxySettings) {
		env[k] = v
	}
	env["PATH"] = runtimePath

	port := cfg.Port()
	healthURL := fmt.Sprintf("http://localhost:%d/healthz", port)
	return &ServiceDescriptor{
		Name: ServiceName,
		Command: []string{
			"fastapi", "run",
			"--host=0.0.0.0",
			fmt.Sprintf("--port=%d", port),
			entrypoint,
		},
		WorkingDir:  workingDir,
		Environment: env,
		Checks: map[string]HealthCheck{
			reachabilityCheck: {Name: reachabilityCheck, Level: plan.UnsetLevel, URL: healthURL},
			readinessCheck:    {Name: readinessCheck, Level: plan.ReadyLevel, URL: healthURL},
			livenessCheck:     {Name: livenessCheck, Level: plan.AliveLevel, URL: healthURL},
		},
		OnCheckFailure: map[string]plan.ServiceAction{
			livenessCheck: plan.ActionRestart,
		},
	}, nil
}

// proxyEnvironment merges config-set proxy values over the orchestrator's
// proxy settings and maps them to the workload's environment. Emission is
// all or nothing: when every effective value is empty no proxy variables
// are emitted at all; otherwise all three are, empties included.
func proxyEnvironment(overrides, ambient proxy.Settings) map[string]string {
	pick := func(override, fallback string) string {
		if override != "" {
			return override
		}
		return fallback
	}
	effective := proxy.Settings{
		Http:    pick(overrides.Http, ambient.Http),
		Https:   pick(overrides.Https, ambient.Https),
		NoProxy: pick(overrides.NoProxy, ambient.NoProxy),
	}
	if effective.Http == "" && effective.Https == "" && effective.NoProxy == "" {
		return nil
	}
	return map[string]string{
		"http_proxy":  effective.Http,
		"https_proxy": effective.Https,
		"no_proxy":    effective.NoProxy,
	}
}

// Equal reports structural equality with other. The environment is
// compared as a set of pairs and checks by name.
func (d *ServiceDescriptor) Equal(other *ServiceDescriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.Name != other.Name || d.WorkingDir != other.WorkingDir {
		return false
	}
	if len(d.Command) != len(other.Command) {
		return false
	}
	for i, tok := range d.Command {
		if other.Command[i] != tok {
			return false
		}
	}
	if !stringMapsEqual(d.Environment, other.Environment) {
		return false
	}
	if len(d.OnCheckFailure) != len(other.OnCheckFailure) {
		return false
	}
	for name, action := range d.OnCheckFailure {
		if other.OnCheckFailure[name] != action {
			return false
		}
	}
	if len(d.Checks) != len(other.Checks) {
		return false
	}
	for name, check := range d.Checks {
		if other.Checks[name] != check {
			return false
		}
	}
	return true
}

func stringMapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || bv != v {
			return false
		}
	}
	return true
}

// Layer renders the descriptor as a Pebble layer.
func (d *ServiceDescriptor) Layer() *plan.Layer {
	service := &plan.Service{
		Name:           d.Name,
		Summary:        "webapp service",
		Override:       plan.ReplaceOverride,
		Startup:        plan.StartupEnabled,
		Command:        shellquote.Join(d.Command...),
		WorkingDir:     d.WorkingDir,
		Environment:    copyStringMap(d.Environment),
		OnCheckFailure: copyActionMap(d.OnCheckFailure),
	}
	checks := make(map[string]*plan.Check, len(d.Checks))
	for name, check := range d.Checks {
		checks[name] = &plan.Check{
			Name:     name,
			Override: plan.ReplaceOverride,
			Level:    check.Level,
			HTTP:     &plan.HTTPCheck{URL: check.URL},
		}
	}
	return &plan.Layer{
		Label:    Label,
		Summary:  "webapp layer",
		Services: map[string]*plan.Service{d.Name: service},
		Checks:   checks,
	}
}

// Data renders the descriptor as Pebble layer data.
func (d *ServiceDescriptor) Data() ([]byte, error) {
	data, err := yaml.Marshal(d.Layer())
	if err != nil {
		return nil, errors.Annotate(err, "marshalling layer")
	}
	return data, nil
}

// FromPlan extracts the currently applied descriptor for the managed
// service from Pebble plan bytes. It returns nil when the plan has no such
// service, which reconcilers treat as "nothing applied yet". A plan is
// structurally a layer, so it is parsed as one.
func FromPlan(data []byte) (*ServiceDescriptor, error) {
	if len(data) == 0 {
		return nil, nil
	}
	parsed, err := plan.ParseLayer(0, "plan", data)
	if err != nil {
		return nil, errors.Annotate(err, "parsing current plan")
	}
	service, ok := parsed.Services[ServiceName]
	if !ok || service == nil {
		return nil, nil
	}
	command, err := shellquote.Split(service.Command)
	if err != nil {
		return nil, errors.Annotatef(err, "parsing command %q", service.Command)
	}
	checks := make(map[string]HealthCheck)
	for name, check := range parsed.Checks {
		if check == nil || check.HTTP == nil {
			continue
		}
		checks[name] = HealthCheck{Name: name, Level: check.Level, URL: check.HTTP.URL}
	}
	return &ServiceDescriptor{
		Name:           service.Name,
		Command:        command,
		WorkingDir:     service.WorkingDir,
		Environment:    copyStringMap(service.Environment),
		Checks:         checks,
		OnCheckFailure: copyActionMap(service.OnCheckFailure),
	}, nil
}

func copyStringMap(m map[string]string) map[string]string {
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

func copyActionMap(m map[string]plan.ServiceAction) map[string]plan.ServiceAction {
	result := make(map[string]plan.ServiceAction, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

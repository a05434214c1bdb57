// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package charm binds orchestrator lifecycle events to the webapp charm's
// build/reconcile/report logic. Everything is recomputed from the supplied
// snapshot on each event; the only state outliving a dispatch is the
// supervisor's own applied plan.
package charm

import (
	"fmt"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/proxy"

	corestatus "github.com/juju/webapp-operator/core/status"
	"github.com/juju/webapp-operator/internal/charm/actions"
	charmconfig "github.com/juju/webapp-operator/internal/charm/config"
	charmerrors "github.com/juju/webapp-operator/internal/charm/errors"
	"github.com/juju/webapp-operator/internal/charm/hook"
	"github.com/juju/webapp-operator/internal/charm/layer"
	"github.com/juju/webapp-operator/internal/charm/reconciler"
	"github.com/juju/webapp-operator/internal/charm/relation"
	"github.com/juju/webapp-operator/internal/charm/secrets"
	charmstatus "github.com/juju/webapp-operator/internal/charm/status"
)

var logger = loggo.GetLogger("webapp-operator.charm")

// Supervisor is the full container supervisor surface the charm drives.
type Supervisor interface {
	reconciler.Supervisor
	charmstatus.Supervisor
	actions.Supervisor
}

// UnitStateSetter reports unit state back to the orchestrator.
type UnitStateSetter interface {
	SetUnitStatus(corestatus.StatusInfo) error
	SetUnitPorts(ports ...int) error
}

// Snapshot is the orchestrator-supplied view of unit state for a single
// event. It is threaded through as an explicit argument; the charm holds
// no ambient copy of any of it.
type Snapshot struct {
	// Config holds the raw charm configuration attributes.
	Config map[string]interface{} `yaml:"config"`

	// Relations maps relation name to resolved field data. A relation
	// that exists but has published no data yet appears with an empty
	// map; an absent relation has no key at all.
	Relations map[string]map[string]string `yaml:"relations"`

	// Secrets maps secret ID to content.
	Secrets map[string]map[string]string `yaml:"secrets"`

	// Proxy carries the orchestrator's proxy settings for the charm.
	Proxy proxy.Settings `yaml:"proxy"`
}

// RelationData implements relation.Store.
func (s Snapshot) RelationData(name string) (map[string]string, bool, error) {
	data, ok := s.Relations[name]
	return data, ok, nil
}

// SecretContent returns the content of the identified secret, or nil if
// no such secret has been granted to the charm.
func (s Snapshot) SecretContent(id string) map[string]string {
	return s.Secrets[id]
}

// ActionResult is the outcome of one operator action dispatch.
type ActionResult struct {
	// Results holds the action's result mapping, including any partial
	// output captured before a failure.
	Results map[string]string

	// Failure is the human-readable failure message, empty on success.
	Failure string
}

// Result is what a dispatch hands back to the orchestrator.
type Result struct {
	// Status is set for collect-status dispatches.
	Status *corestatus.StatusInfo

	// Action is set for action dispatches.
	Action *ActionResult
}

// Config holds the charm's collaborators.
type Config struct {
	Supervisor Supervisor
	Unit       UnitStateSetter
	Clock      clock.Clock
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Supervisor == nil {
		return errors.NotValidf("missing Supervisor")
	}
	if c.Unit == nil {
		return errors.NotValidf("missing Unit")
	}
	if c.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	return nil
}

// Charm reconciles the workload against declared state and reports unit
// health. It is driven one event at a time; nothing here is safe for
// concurrent use and nothing needs to be.
type Charm struct {
	supervisor Supervisor
	unit       UnitStateSetter
	clock      clock.Clock
}

// New returns a Charm ready to dispatch events.
func New(config Config) (*Charm, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Charm{
		supervisor: config.Supervisor,
		unit:       config.Unit,
		clock:      config.Clock,
	}, nil
}

// Dispatch runs the handler for the given hook against the given
// snapshot. All expected failure kinds (invalid config, unresolved
// dependencies, unavailable supervisor, failed actions) are handled here
// and converted to status or result values; an error return means the
// orchestrator itself misbehaved (malformed hook, broken store data).
func (c *Charm) Dispatch(snap Snapshot, info hook.Info) (Result, error) {
	logger.Debugf("dispatching %q", info.Kind)
	switch info.Kind {
	case hook.Install, hook.Start:
		// Nothing to do until the supervisor reports ready.
		return Result{}, nil
	case hook.ConfigChanged:
		return Result{}, c.handleConfigChanged(snap)
	case hook.PebbleReady:
		return Result{}, c.reconcile(snap, reconciler.TriggerSupervisorReady)
	case hook.RelationCreated, hook.RelationChanged, hook.RelationBroken:
		if err := info.Validate(); err != nil {
			return Result{}, errors.Trace(err)
		}
		return Result{}, c.reconcile(snap, reconciler.TriggerChange)
	case hook.CollectStatus:
		return c.collectStatus(snap)
	case hook.Action:
		if err := info.Validate(); err != nil {
			return Result{}, errors.Trace(err)
		}
		return c.runAction(snap, info)
	}
	logger.Warningf("ignoring unknown hook kind %q", info.Kind)
	return Result{}, nil
}

// inputs is everything the builder and aggregator consume, gathered
// fresh from one snapshot.
type inputs struct {
	cfg      *charmconfig.Config
	payload  *secrets.Payload
	bindings []relation.Binding

	// configErr is the ConfigInvalid failure, if any, from validating
	// config and resolving its secret-typed options.
	configErr error
}

func (c *Charm) gather(snap Snapshot) (inputs, error) {
	var in inputs
	in.cfg, in.configErr = charmconfig.New(snap.Config)
	if in.configErr == nil {
		id := in.cfg.SecretID()
		content := snap.SecretContent(id)
		if content == nil {
			in.configErr = fmt.Errorf("secret %q has not been granted to the charm%w",
				id, errors.Hide(charmerrors.ConfigInvalid))
		} else {
			var err error
			in.payload, err = secrets.Parse(content)
			if err != nil {
				in.configErr = fmt.Errorf("secret %q: %v%w",
					id, err, errors.Hide(charmerrors.ConfigInvalid))
			}
		}
	}
	var overrides map[string]map[string]string
	if in.payload != nil {
		overrides = map[string]map[string]string{
			relation.DatabaseRelation: in.payload.DatabaseOverrides(),
		}
	}
	var err error
	in.bindings, err = relation.Resolve(snap, overrides)
	if err != nil {
		return inputs{}, errors.Trace(err)
	}
	return in, nil
}

func (c *Charm) handleConfigChanged(snap Snapshot) error {
	in, err := c.gather(snap)
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.reconcileWith(in, snap, reconciler.TriggerChange); err != nil {
		return errors.Trace(err)
	}
	if in.configErr == nil {
		if err := c.unit.SetUnitPorts(in.cfg.Port()); err != nil {
			return errors.Annotate(err, "setting unit ports")
		}
	}
	return nil
}

func (c *Charm) reconcile(snap Snapshot, trigger reconciler.Trigger) error {
	in, err := c.gather(snap)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.reconcileWith(in, snap, trigger))
}

func (c *Charm) reconcileWith(in inputs, snap Snapshot, trigger reconciler.Trigger) error {
	if in.configErr != nil {
		// Not fatal: collect-status surfaces it as blocked.
		logger.Warningf("not reconciling: %v", in.configErr)
		return nil
	}
	desired, err := layer.Build(in.cfg, in.payload, in.bindings, snap.Proxy)
	if errors.Is(err, charmerrors.DependencyUnresolved) {
		// Expected while relations converge; no change to apply.
		logger.Debugf("not reconciling: %v", err)
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	action, err := reconciler.Reconcile(c.supervisor, desired, trigger)
	if errors.Is(err, charmerrors.SupervisorUnavailable) {
		// Recoverable: the orchestrator re-delivers the event.
		logger.Warningf("supervisor unavailable, deferring: %v", err)
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("reconcile result: %v", action)
	return nil
}

func (c *Charm) collectStatus(snap Snapshot) (Result, error) {
	in, err := c.gather(snap)
	if err != nil {
		return Result{}, errors.Trace(err)
	}
	info := charmstatus.Evaluate(charmstatus.Inputs{
		ConfigError: in.configErr,
		Supervisor:  c.supervisor,
		ServiceName: layer.ServiceName,
		Bindings:    in.bindings,
	})
	now := c.clock.Now()
	info.Since = &now
	if err := c.unit.SetUnitStatus(info); err != nil {
		return Result{}, errors.Annotate(err, "setting unit status")
	}
	return Result{Status: &info}, nil
}

func (c *Charm) runAction(snap Snapshot, info hook.Info) (Result, error) {
	in, err := c.gather(snap)
	if err != nil {
		return Result{}, errors.Trace(err)
	}
	// Actions that exec in the workload use the same environment the
	// service runs with; if it cannot be built the action reports that
	// as its own failure rather than touching unit status.
	var desired *layer.ServiceDescriptor
	if in.configErr == nil {
		desired, err = layer.Build(in.cfg, in.payload, in.bindings, snap.Proxy)
		if err != nil {
			logger.Debugf("action %q running without descriptor: %v", info.ActionName, err)
			desired = nil
		}
	}
	results, err := actions.Run(c.supervisor, desired, info.ActionName, info.ActionParams)
	if err != nil {
		return Result{Action: &ActionResult{
			Results: results,
			Failure: err.Error(),
		}}, nil
	}
	return Result{Action: &ActionResult{Results: results}}, nil
}

// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	corestatus "github.com/juju/webapp-operator/core/status"
	charmconfig "github.com/juju/webapp-operator/internal/charm/config"
	"github.com/juju/webapp-operator/internal/charm/hook"
	"github.com/juju/webapp-operator/internal/charm/layer"
	"github.com/juju/webapp-operator/internal/charm/relation"
	"github.com/juju/webapp-operator/internal/charm/secrets"
)

type charmSuite struct {
	testing.IsolationSuite

	supervisor *fakeSupervisor
	unit       *fakeUnit
	clock      *testclock.Clock
	charm      *Charm
}

var _ = gc.Suite(&charmSuite{})

func (s *charmSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.supervisor = &fakeSupervisor{}
	s.unit = &fakeUnit{}
	s.clock = testclock.NewClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	var err error
	s.charm, err = New(Config{
		Supervisor: s.supervisor,
		Unit:       s.unit,
		Clock:      s.clock,
	})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *charmSuite) TestValidateConfig(c *gc.C) {
	_, err := New(Config{Unit: s.unit, Clock: s.clock})
	c.Assert(err, gc.ErrorMatches, "missing Supervisor not valid")

	_, err = New(Config{Supervisor: s.supervisor, Clock: s.clock})
	c.Assert(err, gc.ErrorMatches, "missing Unit not valid")

	_, err = New(Config{Supervisor: s.supervisor, Unit: s.unit})
	c.Assert(err, gc.ErrorMatches, "missing Clock not valid")
}

func (s *charmSuite) snapshot() Snapshot {
	return Snapshot{
		Config: map[string]interface{}{
			"server-port":   8000,
			"app-name":      "webapp",
			"app-secret-id": "secret:aabbcc",
		},
		Relations: map[string]map[string]string{
			relation.DatabaseRelation: {
				"host":     "db.internal",
				"port":     "5432",
				"name":     "webapp",
				"username": "webapp",
				"password": "hunter2",
			},
			relation.CacheRelation: {
				"host": "cache.internal",
				"port": "6379",
			},
		},
		Secrets: map[string]map[string]string{
			"secret:aabbcc": secretContent(),
		},
	}
}

func secretContent() map[string]string {
	return map[string]string{
		"secret-key":                 "s3cr3t",
		"github-oauth-client-id":     "oauth-id",
		"github-oauth-client-secret": "oauth-secret",
		"github-app-id":              "12345",
		"github-app-private-key":     "pem",
		"github-app-secret":          "app-secret",
		"smtp-host":                  "smtp.internal",
		"smtp-port":                  "587",
		"smtp-username":              "mailer",
		"smtp-password":              "mail-pass",
	}
}

// desiredData renders the layer the snapshot should produce, for seeding
// the fake supervisor's applied plan.
func (s *charmSuite) desiredData(c *gc.C, snap Snapshot) []byte {
	cfg, err := charmconfig.New(snap.Config)
	c.Assert(err, jc.ErrorIsNil)
	payload, err := secrets.Parse(snap.Secrets[cfg.SecretID()])
	c.Assert(err, jc.ErrorIsNil)
	bindings, err := relation.Resolve(snap, nil)
	c.Assert(err, jc.ErrorIsNil)
	desired, err := layer.Build(cfg, payload, bindings, snap.Proxy)
	c.Assert(err, jc.ErrorIsNil)
	data, err := desired.Data()
	c.Assert(err, jc.ErrorIsNil)
	return data
}

func (s *charmSuite) TestConfigChangedAppliesLayer(c *gc.C) {
	snap := s.snapshot()
	result, err := s.charm.Dispatch(snap, hook.Info{Kind: hook.ConfigChanged})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result, gc.DeepEquals, Result{})

	s.supervisor.CheckCallNames(c, "CurrentPlan", "AddLayer", "Restart")
	s.supervisor.CheckCall(c, 2, "Restart", layer.ServiceName)
	s.unit.CheckCalls(c, []testing.StubCall{
		{FuncName: "SetUnitPorts", Args: []interface{}{[]int{8000}}},
	})
}

func (s *charmSuite) TestConfigChangedIdempotent(c *gc.C) {
	snap := s.snapshot()
	s.supervisor.plan = s.desiredData(c, snap)

	_, err := s.charm.Dispatch(snap, hook.Info{Kind: hook.ConfigChanged})
	c.Assert(err, jc.ErrorIsNil)

	// The applied plan already matches, so nothing is mutated but the
	// ports are still declared.
	s.supervisor.CheckCallNames(c, "CurrentPlan")
	s.unit.CheckCallNames(c, "SetUnitPorts")
}

func (s *charmSuite) TestConfigChangedInvalidConfig(c *gc.C) {
	snap := s.snapshot()
	delete(snap.Config, "app-name")

	_, err := s.charm.Dispatch(snap, hook.Info{Kind: hook.ConfigChanged})
	c.Assert(err, jc.ErrorIsNil)

	// Invalid config is not fatal and nothing is applied or declared.
	s.supervisor.CheckCallNames(c)
	s.unit.CheckCallNames(c)
}

func (s *charmSuite) TestConfigChangedMissingSecret(c *gc.C) {
	snap := s.snapshot()
	snap.Secrets = nil

	_, err := s.charm.Dispatch(snap, hook.Info{Kind: hook.ConfigChanged})
	c.Assert(err, jc.ErrorIsNil)
	s.supervisor.CheckCallNames(c)
	s.unit.CheckCallNames(c)
}

func (s *charmSuite) TestRelationChangedUnresolvedDependency(c *gc.C) {
	snap := s.snapshot()
	delete(snap.Relations, relation.CacheRelation)

	_, err := s.charm.Dispatch(snap, hook.Info{
		Kind:         hook.RelationChanged,
		RelationName: relation.DatabaseRelation,
	})
	c.Assert(err, jc.ErrorIsNil)

	// Nothing to apply until every dependency resolves.
	s.supervisor.CheckCallNames(c)
}

func (s *charmSuite) TestRelationChangedAppliesLayer(c *gc.C) {
	snap := s.snapshot()
	_, err := s.charm.Dispatch(snap, hook.Info{
		Kind:         hook.RelationChanged,
		RelationName: relation.CacheRelation,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.supervisor.CheckCallNames(c, "CurrentPlan", "AddLayer", "Restart")
	s.unit.CheckCallNames(c)
}

func (s *charmSuite) TestPebbleReadyReplans(c *gc.C) {
	snap := s.snapshot()
	_, err := s.charm.Dispatch(snap, hook.Info{Kind: hook.PebbleReady})
	c.Assert(err, jc.ErrorIsNil)
	s.supervisor.CheckCallNames(c, "CurrentPlan", "AddLayer", "Replan")
}

func (s *charmSuite) TestSupervisorUnavailableDeferred(c *gc.C) {
	s.supervisor.SetErrors(supervisorDownError("cannot connect to socket"))

	snap := s.snapshot()
	_, err := s.charm.Dispatch(snap, hook.Info{Kind: hook.PebbleReady})
	c.Assert(err, jc.ErrorIsNil)

	// The fetch failed; no mutation was attempted.
	s.supervisor.CheckCallNames(c, "CurrentPlan")
}

func (s *charmSuite) TestInstallAndStartAreNoOps(c *gc.C) {
	for _, kind := range []hook.Kind{hook.Install, hook.Start} {
		_, err := s.charm.Dispatch(s.snapshot(), hook.Info{Kind: kind})
		c.Assert(err, jc.ErrorIsNil)
	}
	s.supervisor.CheckCallNames(c)
	s.unit.CheckCallNames(c)
}

func (s *charmSuite) TestCollectStatusActive(c *gc.C) {
	s.supervisor.running = true

	result, err := s.charm.Dispatch(s.snapshot(), hook.Info{Kind: hook.CollectStatus})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Status, gc.NotNil)
	c.Check(result.Status.Status, gc.Equals, corestatus.Active)
	c.Check(result.Status.Since, gc.NotNil)
	c.Check(*result.Status.Since, gc.Equals, s.clock.Now())

	s.unit.CheckCallNames(c, "SetUnitStatus")
	reported := s.unit.Calls()[0].Args[0].(corestatus.StatusInfo)
	c.Check(reported.Status, gc.Equals, corestatus.Active)
}

func (s *charmSuite) TestCollectStatusBlockedOnConfig(c *gc.C) {
	snap := s.snapshot()
	snap.Config["server-port"] = 0

	result, err := s.charm.Dispatch(snap, hook.Info{Kind: hook.CollectStatus})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Status, gc.NotNil)
	c.Check(result.Status.Status, gc.Equals, corestatus.Blocked)
	c.Check(result.Status.Message, gc.Matches, `option "server-port" out of range: 0`)
}

func (s *charmSuite) TestCollectStatusBlockedOnMissingRelation(c *gc.C) {
	snap := s.snapshot()
	delete(snap.Relations, relation.DatabaseRelation)

	result, err := s.charm.Dispatch(snap, hook.Info{Kind: hook.CollectStatus})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result.Status.Status, gc.Equals, corestatus.Blocked)
	c.Check(result.Status.Message, gc.Equals,
		`missing required relation "database": integrate the application to proceed`)
}

func (s *charmSuite) TestCollectStatusWaitingOnRelationData(c *gc.C) {
	snap := s.snapshot()
	snap.Relations[relation.CacheRelation] = map[string]string{}

	result, err := s.charm.Dispatch(snap, hook.Info{Kind: hook.CollectStatus})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result.Status.Status, gc.Equals, corestatus.Waiting)
	c.Check(result.Status.Message, gc.Equals, `waiting for data on the "cache" relation`)
}

func (s *charmSuite) TestCollectStatusMaintenanceWhileStarting(c *gc.C) {
	s.supervisor.running = false

	result, err := s.charm.Dispatch(s.snapshot(), hook.Info{Kind: hook.CollectStatus})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result.Status.Status, gc.Equals, corestatus.Maintenance)
	c.Check(result.Status.Message, gc.Equals, `waiting for service "app" to start`)
}

func (s *charmSuite) TestActionMigrateDatabase(c *gc.C) {
	s.supervisor.stdout = "upgraded\n"

	result, err := s.charm.Dispatch(s.snapshot(), hook.Info{
		Kind:       hook.Action,
		ActionName: "migrate-database",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Action, gc.NotNil)
	c.Check(result.Action.Failure, gc.Equals, "")
	c.Check(result.Action.Results["target"], gc.Equals, "head")
	c.Check(result.Action.Results["stdout"], gc.Equals, "upgraded\n")

	s.supervisor.CheckCallNames(c, "Exec")
	c.Check(s.supervisor.Calls()[0].Args[0], jc.DeepEquals,
		[]string{"alembic", "upgrade", "head"})
}

func (s *charmSuite) TestActionFailureReportedInResult(c *gc.C) {
	result, err := s.charm.Dispatch(s.snapshot(), hook.Info{
		Kind:       hook.Action,
		ActionName: "no-such-action",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Action, gc.NotNil)
	c.Check(result.Action.Failure, gc.Equals, `unknown action "no-such-action"`)
	c.Check(s.unit.Calls(), gc.HasLen, 0)
}

func (s *charmSuite) TestActionWithoutDescriptor(c *gc.C) {
	snap := s.snapshot()
	delete(snap.Relations, relation.CacheRelation)

	result, err := s.charm.Dispatch(snap, hook.Info{
		Kind:       hook.Action,
		ActionName: "migrate-database",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(result.Action.Failure, gc.Equals,
		"service descriptor not available, cannot run migrations")
	s.supervisor.CheckCallNames(c)
}

func (s *charmSuite) TestUnknownHookIgnored(c *gc.C) {
	_, err := s.charm.Dispatch(s.snapshot(), hook.Info{Kind: hook.Kind("leader-elected")})
	c.Assert(err, jc.ErrorIsNil)
	s.supervisor.CheckCallNames(c)
}

func (s *charmSuite) TestMalformedHookRejected(c *gc.C) {
	_, err := s.charm.Dispatch(s.snapshot(), hook.Info{Kind: hook.RelationChanged})
	c.Assert(err, gc.ErrorMatches, `"relation-changed" hook requires a relation name`)
}

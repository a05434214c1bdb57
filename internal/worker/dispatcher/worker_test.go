// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatcher_test

import (
	"path/filepath"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	corestatus "github.com/juju/webapp-operator/core/status"
	"github.com/juju/webapp-operator/internal/charm"
	"github.com/juju/webapp-operator/internal/charm/hook"
	"github.com/juju/webapp-operator/internal/charm/relation"
	"github.com/juju/webapp-operator/internal/sockets"
	"github.com/juju/webapp-operator/internal/worker/dispatcher"
)

type workerSuite struct {
	testing.IsolationSuite

	supervisor *fakeSupervisor
	socket     sockets.Socket
	clock      *testclock.Clock
}

var _ = gc.Suite(&workerSuite{})

func (s *workerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.supervisor = &fakeSupervisor{running: true}
	s.socket = sockets.Socket{
		Network: "unix",
		Address: filepath.Join(c.MkDir(), "agent.socket"),
	}
	s.clock = testclock.NewClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
}

func (s *workerSuite) newWorker(c *gc.C) *dispatcher.Worker {
	w, err := dispatcher.NewWorker(dispatcher.Config{
		Supervisor: s.supervisor,
		Socket:     s.socket,
		Clock:      s.clock,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) { workertest.CleanKill(c, w) })
	return w
}

func (s *workerSuite) dispatch(c *gc.C, args dispatcher.DispatchArgs) dispatcher.DispatchResult {
	client, err := sockets.Dial(s.socket)
	c.Assert(err, jc.ErrorIsNil)
	defer func() { _ = client.Close() }()

	var result dispatcher.DispatchResult
	err = client.Call(dispatcher.DispatchEndpoint, args, &result)
	c.Assert(err, jc.ErrorIsNil)
	return result
}

func (s *workerSuite) TestValidateConfig(c *gc.C) {
	_, err := dispatcher.NewWorker(dispatcher.Config{
		Socket: s.socket,
		Clock:  s.clock,
	})
	c.Assert(err, gc.ErrorMatches, "missing Supervisor not valid")

	_, err = dispatcher.NewWorker(dispatcher.Config{
		Supervisor: s.supervisor,
		Clock:      s.clock,
	})
	c.Assert(err, gc.ErrorMatches, "control socket: empty address not valid")

	_, err = dispatcher.NewWorker(dispatcher.Config{
		Supervisor: s.supervisor,
		Socket:     s.socket,
	})
	c.Assert(err, gc.ErrorMatches, "missing Clock not valid")
}

func (s *workerSuite) TestCleanKill(c *gc.C) {
	w := s.newWorker(c)
	workertest.CheckAlive(c, w)
}

func (s *workerSuite) TestDispatchConfigChangedReportsPorts(c *gc.C) {
	s.newWorker(c)

	result := s.dispatch(c, dispatcher.DispatchArgs{
		Hook:  hook.Info{Kind: hook.ConfigChanged},
		State: fullSnapshot(),
	})
	c.Check(result.Ports, jc.DeepEquals, []int{8000})
	c.Check(result.Status, gc.IsNil)
	s.supervisor.CheckCallNames(c, "CurrentPlan", "AddLayer", "Restart")
}

func (s *workerSuite) TestDispatchCollectStatus(c *gc.C) {
	s.newWorker(c)

	result := s.dispatch(c, dispatcher.DispatchArgs{
		Hook:  hook.Info{Kind: hook.CollectStatus},
		State: fullSnapshot(),
	})
	c.Assert(result.Status, gc.NotNil)
	c.Check(result.Status.Status, gc.Equals, corestatus.Active)
}

func (s *workerSuite) TestDispatchAction(c *gc.C) {
	s.supervisor.stdout = "done\n"
	s.newWorker(c)

	result := s.dispatch(c, dispatcher.DispatchArgs{
		Hook: hook.Info{
			Kind:       hook.Action,
			ActionName: "migrate-database",
			ActionParams: map[string]string{
				"target": "abc123",
			},
		},
		State: fullSnapshot(),
	})
	c.Check(result.ActionFailure, gc.Equals, "")
	c.Check(result.ActionResults, jc.DeepEquals, map[string]string{
		"stdout": "done\n",
		"stderr": "",
		"target": "abc123",
	})
}

func (s *workerSuite) TestEventsAppliedInOrder(c *gc.C) {
	s.newWorker(c)

	// Apply the layer, then re-dispatch: the second event must observe
	// the plan the first one applied.
	s.dispatch(c, dispatcher.DispatchArgs{
		Hook:  hook.Info{Kind: hook.ConfigChanged},
		State: fullSnapshot(),
	})
	s.dispatch(c, dispatcher.DispatchArgs{
		Hook:  hook.Info{Kind: hook.ConfigChanged},
		State: fullSnapshot(),
	})
	s.supervisor.CheckCallNames(c,
		"CurrentPlan", "AddLayer", "Restart",
		"CurrentPlan",
	)
}

func (s *workerSuite) TestDispatchErrorReturnedToCaller(c *gc.C) {
	s.newWorker(c)

	client, err := sockets.Dial(s.socket)
	c.Assert(err, jc.ErrorIsNil)
	defer func() { _ = client.Close() }()

	var result dispatcher.DispatchResult
	err = client.Call(dispatcher.DispatchEndpoint, dispatcher.DispatchArgs{
		Hook:  hook.Info{Kind: hook.RelationChanged},
		State: fullSnapshot(),
	}, &result)
	c.Assert(err, gc.ErrorMatches, `"relation-changed" hook requires a relation name`)
}

func fullSnapshot() charm.Snapshot {
	return charm.Snapshot{
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
			"secret:aabbcc": {
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
			},
		},
	}
}

type fakeSupervisor struct {
	testing.Stub

	plan    []byte
	running bool
	stdout  string
	stderr  string
	pulled  []byte
}

func (f *fakeSupervisor) CurrentPlan() ([]byte, error) {
	f.AddCall("CurrentPlan")
	return f.plan, f.NextErr()
}

func (f *fakeSupervisor) AddLayer(label string, layerData []byte) error {
	f.AddCall("AddLayer", label, layerData)
	if err := f.NextErr(); err != nil {
		return err
	}
	f.plan = layerData
	return nil
}

func (f *fakeSupervisor) Replan() error {
	f.AddCall("Replan")
	return f.NextErr()
}

func (f *fakeSupervisor) Restart(name string) error {
	f.AddCall("Restart", name)
	return f.NextErr()
}

func (f *fakeSupervisor) ServiceRunning(name string) (bool, error) {
	f.AddCall("ServiceRunning", name)
	return f.running, f.NextErr()
}

func (f *fakeSupervisor) Exec(command []string, env map[string]string, workingDir string) (string, string, error) {
	f.AddCall("Exec", command, env, workingDir)
	return f.stdout, f.stderr, f.NextErr()
}

func (f *fakeSupervisor) Pull(path string) ([]byte, error) {
	f.AddCall("Pull", path)
	return f.pulled, f.NextErr()
}

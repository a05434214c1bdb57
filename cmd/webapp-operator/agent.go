// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/cmd/v4"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/names/v5"
	"github.com/juju/retry"

	"github.com/juju/webapp-operator/internal/pebble"
	"github.com/juju/webapp-operator/internal/sockets"
	"github.com/juju/webapp-operator/internal/worker/dispatcher"
)

var logger = loggo.GetLogger("webapp-operator.cmd")

const (
	defaultAgentSocket  = "/var/lib/webapp-operator/agent.socket"
	defaultPebbleSocket = "/charm/containers/app/pebble.socket"

	supervisorWaitAttempts = 30
	supervisorWaitDelay    = time.Second
)

type operatorCommand struct {
	cmd.CommandBase

	unitName     string
	agentSocket  string
	pebbleSocket string
	logLevel     string

	clock clock.Clock
}

// NewOperatorCommand returns the agent command.
func NewOperatorCommand() cmd.Command {
	return &operatorCommand{clock: clock.WallClock}
}

// Info implements cmd.Command.
func (c *operatorCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "webapp-operator",
		Purpose: "run the webapp charm agent for a unit",
		Doc: `
The agent connects to the workload container's Pebble socket and serves
charm lifecycle dispatches on its control socket until stopped.
`,
	}
}

// SetFlags implements cmd.Command.
func (c *operatorCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.unitName, "unit-name", "", "name of the unit to operate")
	f.StringVar(&c.agentSocket, "agent-socket", defaultAgentSocket, "path of the agent control socket")
	f.StringVar(&c.pebbleSocket, "pebble-socket", defaultPebbleSocket, "path of the workload supervisor socket")
	f.StringVar(&c.logLevel, "log-level", "INFO", "initial agent logging level")
}

// Init implements cmd.Command.
func (c *operatorCommand) Init(args []string) error {
	if err := cmd.CheckEmpty(args); err != nil {
		return err
	}
	if c.unitName == "" {
		return errors.New("--unit-name is required")
	}
	if !names.IsValidUnit(c.unitName) {
		return errors.NotValidf("unit name %q", c.unitName)
	}
	return nil
}

// Run implements cmd.Command.
func (c *operatorCommand) Run(ctx *cmd.Context) error {
	if err := loggo.ConfigureLoggers(fmt.Sprintf("<root>=%s", c.logLevel)); err != nil {
		return errors.Annotate(err, "configuring loggers")
	}
	tag := names.NewUnitTag(c.unitName)
	logger.Infof("starting agent for %s", tag)

	if err := c.waitForSupervisorSocket(); err != nil {
		return errors.Annotate(err, "waiting for supervisor socket")
	}
	supervisor, err := pebble.NewClient(c.pebbleSocket)
	if err != nil {
		return errors.Annotate(err, "connecting to supervisor")
	}

	w, err := dispatcher.NewWorker(dispatcher.Config{
		Supervisor: supervisor,
		Socket: sockets.Socket{
			Network: "unix",
			Address: c.agentSocket,
		},
		Clock: c.clock,
	})
	if err != nil {
		return errors.Annotate(err, "starting dispatcher")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("caught %v, stopping agent", sig)
		w.Kill()
	}()

	return errors.Trace(w.Wait())
}

// waitForSupervisorSocket blocks until the supervisor's socket appears.
// The agent typically races the supervisor at container start.
func (c *operatorCommand) waitForSupervisorSocket() error {
	return retry.Call(retry.CallArgs{
		Func: func() error {
			_, err := os.Stat(c.pebbleSocket)
			return err
		},
		NotifyFunc: func(lastError error, attempt int) {
			logger.Debugf("supervisor socket not ready (attempt %d): %v", attempt, lastError)
		},
		Attempts: supervisorWaitAttempts,
		Delay:    supervisorWaitDelay,
		Clock:    c.clock,
	})
}

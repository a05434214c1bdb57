// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pebble wraps the Pebble client for the charm's use. Every
// transport or API fault is annotated with SupervisorUnavailable so
// handlers can treat the supervisor being away as a recoverable,
// retried-on-next-event condition.
package pebble

import (
	"bytes"
	"fmt"
	"time"

	"github.com/canonical/pebble/client"
	"github.com/juju/errors"

	charmerrors "github.com/juju/webapp-operator/internal/charm/errors"
)

// changeTimeout bounds how long we wait for a replan or restart change
// to complete before reporting the supervisor as unavailable.
const changeTimeout = 30 * time.Second

// Client talks to the Pebble daemon in the workload container.
type Client struct {
	pebble *client.Client
}

// NewClient returns a Client for the Pebble daemon listening on the given
// unix socket path.
func NewClient(socketPath string) (*Client, error) {
	pebble, err := client.New(&client.Config{Socket: socketPath})
	if err != nil {
		return nil, errors.Annotate(err, "creating pebble client")
	}
	return &Client{pebble: pebble}, nil
}

func unavailable(err error, doing string) error {
	return fmt.Errorf("%s: %v%w", doing, err, errors.Hide(charmerrors.SupervisorUnavailable))
}

// CurrentPlan returns the supervisor's currently applied plan, as layer
// data. An empty plan is returned as empty bytes.
func (c *Client) CurrentPlan() ([]byte, error) {
	data, err := c.pebble.PlanBytes(&client.PlanOptions{})
	if err != nil {
		return nil, unavailable(err, "fetching current plan")
	}
	return data, nil
}

// AddLayer adds (combining by label) the given layer data to the plan.
func (c *Client) AddLayer(label string, layerData []byte) error {
	err := c.pebble.AddLayer(&client.AddLayerOptions{
		Combine:   true,
		Label:     label,
		LayerData: layerData,
	})
	if err != nil {
		return unavailable(err, "adding layer")
	}
	return nil
}

// Replan starts or restarts whatever services have changed since the plan
// was last executed, and waits for the change to complete.
func (c *Client) Replan() error {
	changeID, err := c.pebble.Replan(&client.ServiceOptions{})
	if err != nil {
		return unavailable(err, "replanning")
	}
	return c.waitChange(changeID, "replan")
}

// Restart restarts the named service and waits for the change to complete.
func (c *Client) Restart(name string) error {
	changeID, err := c.pebble.Restart(&client.ServiceOptions{Names: []string{name}})
	if err != nil {
		return unavailable(err, "restarting "+name)
	}
	return c.waitChange(changeID, "restart")
}

func (c *Client) waitChange(changeID, what string) error {
	change, err := c.pebble.WaitChange(changeID, &client.WaitChangeOptions{
		Timeout: changeTimeout,
	})
	if err != nil {
		return unavailable(err, "waiting for "+what)
	}
	if change.Err != "" {
		return unavailable(errors.New(change.Err), what)
	}
	return nil
}

// ServiceRunning reports whether the named service exists and is active.
func (c *Client) ServiceRunning(name string) (bool, error) {
	services, err := c.pebble.Services(&client.ServicesOptions{Names: []string{name}})
	if err != nil {
		return false, unavailable(err, "querying services")
	}
	for _, service := range services {
		if service.Name == name {
			return service.Current == client.StatusActive, nil
		}
	}
	return false, nil
}

// Exec runs the command in the workload container and returns its captured
// stdout and stderr. Both are returned even when the command fails, so
// callers can surface partial output.
func (c *Client) Exec(command []string, env map[string]string, workingDir string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	process, err := c.pebble.Exec(&client.ExecOptions{
		Command:     command,
		Environment: env,
		WorkingDir:  workingDir,
		Stdout:      &stdout,
		Stderr:      &stderr,
	})
	if err != nil {
		return "", "", errors.Annotatef(err, "executing %q", command[0])
	}
	if err := process.Wait(); err != nil {
		return stdout.String(), stderr.String(), errors.Annotatef(err, "running %q", command[0])
	}
	return stdout.String(), stderr.String(), nil
}

// Pull reads the named file out of the workload container.
func (c *Client) Pull(path string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.pebble.Pull(&client.PullOptions{Path: path, Target: &buf})
	if err != nil {
		return nil, errors.Annotatef(err, "pulling %q", path)
	}
	return buf.Bytes(), nil
}

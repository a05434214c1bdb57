// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package dispatcher runs the charm's event loop. Lifecycle events
// arrive over an rpc control socket, are applied one at a time against
// the supervisor, and their results are returned to the caller on the
// same connection.
package dispatcher

import (
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	corestatus "github.com/juju/webapp-operator/core/status"
	"github.com/juju/webapp-operator/internal/charm"
	"github.com/juju/webapp-operator/internal/sockets"
)

var logger = loggo.GetLogger("webapp-operator.worker.dispatcher")

// Config holds everything the dispatcher needs.
type Config struct {
	// Supervisor drives the workload container's supervisor.
	Supervisor charm.Supervisor

	// Socket is where the control endpoint listens.
	Socket sockets.Socket

	// Clock timestamps status changes.
	Clock clock.Clock
}

// Validate ensures that the config values are valid.
func (config Config) Validate() error {
	if config.Supervisor == nil {
		return errors.NotValidf("missing Supervisor")
	}
	if err := config.Socket.Validate(); err != nil {
		return errors.Annotate(err, "control socket")
	}
	if config.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	return nil
}

// Worker is the charm event loop.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config

	charm    *charm.Charm
	state    *unitState
	requests chan dispatchRequest
}

// NewWorker starts the event loop and its control socket listener.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{
		config:   config,
		state:    &unitState{},
		requests: make(chan dispatchRequest),
	}
	var err error
	w.charm, err = charm.New(charm.Config{
		Supervisor: config.Supervisor,
		Unit:       w.state,
		Clock:      config.Clock,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	listener, err := newRunListener(config.Socket, &CharmServer{
		requests: w.requests,
		abort:    w.catacomb.Dying(),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
		Init: []worker.Worker{newListenerWorker(listener)},
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

// loop applies dispatch requests strictly in order. Any state the charm
// declares during an event is collected and handed back with the result.
func (w *Worker) loop() error {
	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case req := <-w.requests:
			w.state.reset()
			result, err := w.charm.Dispatch(req.args.State, req.args.Hook)
			if err != nil {
				logger.Errorf("dispatching %q: %v", req.args.Hook.Kind, err)
				req.response <- dispatchResponse{err: err}
				continue
			}
			req.response <- dispatchResponse{result: w.state.collect(result)}
		}
	}
}

// unitState accumulates what the charm reports during a single event.
// The loop resets it before each dispatch; nothing else touches it.
type unitState struct {
	status *corestatus.StatusInfo
	ports  []int
}

func (u *unitState) reset() {
	u.status = nil
	u.ports = nil
}

func (u *unitState) collect(result charm.Result) DispatchResult {
	out := DispatchResult{
		Status: u.status,
		Ports:  u.ports,
	}
	if result.Status != nil {
		out.Status = result.Status
	}
	if result.Action != nil {
		out.ActionResults = result.Action.Results
		out.ActionFailure = result.Action.Failure
	}
	return out
}

// SetUnitStatus implements charm.UnitStateSetter.
func (u *unitState) SetUnitStatus(info corestatus.StatusInfo) error {
	u.status = &info
	return nil
}

// SetUnitPorts implements charm.UnitStateSetter.
func (u *unitState) SetUnitPorts(ports ...int) error {
	u.ports = append([]int(nil), ports...)
	return nil
}

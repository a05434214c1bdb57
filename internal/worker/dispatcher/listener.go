// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatcher

import (
	"net"
	"net/rpc"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	corestatus "github.com/juju/webapp-operator/core/status"
	"github.com/juju/webapp-operator/internal/charm"
	"github.com/juju/webapp-operator/internal/charm/hook"
	"github.com/juju/webapp-operator/internal/sockets"
)

// DispatchEndpoint is the rpc method the orchestrator's hook tool calls.
const DispatchEndpoint = "CharmServer.Dispatch"

// DispatchArgs carries one lifecycle event and the state snapshot it is
// to be handled against.
type DispatchArgs struct {
	Hook  hook.Info
	State charm.Snapshot
}

// DispatchResult is the synchronous response to a dispatch: everything
// the charm reported back during the event.
type DispatchResult struct {
	// Status is the unit status declared during the event, if any.
	Status *corestatus.StatusInfo

	// Ports are the unit ports declared during the event, if any.
	Ports []int

	// ActionResults holds the action's result mapping for action events.
	ActionResults map[string]string

	// ActionFailure is the action's failure message, empty on success.
	ActionFailure string
}

// runListener accepts connections on the agent control socket and serves
// rpc on them. Close blocks until in-flight connections finish.
type runListener struct {
	listener net.Listener
	server   *rpc.Server
	closed   chan struct{}
	closing  chan struct{}
	wg       sync.WaitGroup
}

func newRunListener(socket sockets.Socket, server *CharmServer) (*runListener, error) {
	listener, err := sockets.Listen(socket)
	if err != nil {
		return nil, errors.Annotate(err, "listening on control socket")
	}
	l := &runListener{
		listener: listener,
		server:   rpc.NewServer(),
		closed:   make(chan struct{}),
		closing:  make(chan struct{}),
	}
	if err := l.server.Register(server); err != nil {
		_ = listener.Close()
		return nil, errors.Trace(err)
	}
	go func() { _ = l.run() }()
	return l, nil
}

// run accepts new connections until Close is called, then blocks until
// all existing connections have been served.
func (l *runListener) run() (err error) {
	logger.Debugf("dispatch listener running")
	var conn net.Conn
	for {
		conn, err = l.listener.Accept()
		if err != nil {
			break
		}
		l.wg.Add(1)
		go func(conn net.Conn) {
			l.server.ServeConn(conn)
			l.wg.Done()
		}(conn)
	}
	logger.Debugf("dispatch listener stopping")
	select {
	case <-l.closing:
		// The Accept error is a direct result of the listener being
		// closed and carries no information.
		err = nil
	default:
	}
	l.wg.Wait()
	close(l.closed)
	return
}

// Close immediately stops accepting connections, and blocks until all
// existing connections have been closed.
func (l *runListener) Close() error {
	defer func() {
		<-l.closed
		logger.Debugf("dispatch listener stopped")
	}()
	close(l.closing)
	return l.listener.Close()
}

// newListenerWorker wraps the listener in a worker so the catacomb can
// tear it down with everything else.
func newListenerWorker(l *runListener) worker.Worker {
	w := &listenerWorker{listener: l}
	w.tomb.Go(func() error {
		<-w.tomb.Dying()
		if err := w.listener.Close(); err != nil {
			logger.Warningf("error closing dispatch listener: %v", err)
		}
		return nil
	})
	return w
}

type listenerWorker struct {
	tomb     tomb.Tomb
	listener *runListener
}

// Kill is part of the worker.Worker interface.
func (w *listenerWorker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *listenerWorker) Wait() error {
	return w.tomb.Wait()
}

// CharmServer is the rpc receiver served on the control socket. Calls
// are handed off to the worker's event loop and answered synchronously,
// so events are applied strictly one at a time in arrival order.
type CharmServer struct {
	requests chan<- dispatchRequest
	abort    <-chan struct{}
}

type dispatchRequest struct {
	args     DispatchArgs
	response chan<- dispatchResponse
}

type dispatchResponse struct {
	result DispatchResult
	err    error
}

// Dispatch queues the event for the event loop and waits for its result.
func (s *CharmServer) Dispatch(args DispatchArgs, result *DispatchResult) error {
	response := make(chan dispatchResponse, 1)
	select {
	case <-s.abort:
		return errors.New("dispatcher stopping")
	case s.requests <- dispatchRequest{args: args, response: response}:
	}
	select {
	case <-s.abort:
		return errors.New("dispatcher stopping")
	case r := <-response:
		if r.err != nil {
			return r.err
		}
		*result = r.result
		return nil
	}
}

// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sockets provides listen and dial helpers for the agent's
// net/rpc control endpoints, over unix sockets or TCP.
package sockets

import (
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("webapp-operator.sockets")

// Socket is a location an rpc endpoint lives at.
type Socket struct {
	// Network is one of "unix" or "tcp".
	Network string

	// Address is the socket path for unix networks, or host:port for tcp.
	Address string
}

// Validate ensures the socket describes somewhere we can listen or dial.
func (s Socket) Validate() error {
	switch s.Network {
	case "unix", "tcp":
	default:
		return errors.NotValidf("network %q", s.Network)
	}
	if s.Address == "" {
		return errors.NotValidf("empty address")
	}
	return nil
}

// Dial connects to the socket and returns an rpc client on it.
func Dial(soc Socket) (*rpc.Client, error) {
	if err := soc.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	conn, err := net.Dial(soc.Network, soc.Address)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return rpc.NewClient(conn), nil
}

// Listen creates a listener on the socket. For unix sockets any stale
// socket file left by a previous process is removed first, and the new
// file is restricted to the owning user.
func Listen(soc Socket) (net.Listener, error) {
	if err := soc.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if soc.Network != "unix" {
		listener, err := net.Listen(soc.Network, soc.Address)
		return listener, errors.Trace(err)
	}

	// Abstract sockets (a leading @ on Linux) have no filesystem presence.
	if strings.HasPrefix(soc.Address, "@") {
		listener, err := net.Listen(soc.Network, soc.Address)
		return listener, errors.Trace(err)
	}

	if err := os.MkdirAll(filepath.Dir(soc.Address), 0755); err != nil {
		return nil, errors.Trace(err)
	}
	if err := os.Remove(soc.Address); err != nil && !os.IsNotExist(err) {
		logger.Errorf("cannot remove stale socket file: %v", err)
		return nil, errors.Trace(err)
	}
	listener, err := net.Listen(soc.Network, soc.Address)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := os.Chmod(soc.Address, 0700); err != nil {
		_ = listener.Close()
		return nil, errors.Annotate(err, "setting socket permissions")
	}
	return listener, nil
}

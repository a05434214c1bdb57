// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// The webapp-operator agent runs the webapp charm against a Pebble
// supervised workload container, serving lifecycle dispatches on a
// control socket.
package main

import (
	"os"

	"github.com/juju/cmd/v4"
)

func main() {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		panic(err)
	}
	os.Exit(cmd.Main(NewOperatorCommand(), ctx, os.Args[1:]))
}

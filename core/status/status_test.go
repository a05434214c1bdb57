// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status_test

import (
	gc "gopkg.in/check.v1"

	"github.com/juju/webapp-operator/core/status"
)

type StatusSuite struct{}

var _ = gc.Suite(&StatusSuite{})

func (s *StatusSuite) TestKnownWorkloadStatus(c *gc.C) {
	for _, v := range []status.Status{
		status.Error,
		status.Blocked,
		status.Maintenance,
		status.Waiting,
		status.Active,
		status.Unknown,
	} {
		c.Check(v.KnownWorkloadStatus(), gc.Equals, true, gc.Commentf("%s", v))
	}
	c.Check(status.Status("running").KnownWorkloadStatus(), gc.Equals, false)
	c.Check(status.Status("").KnownWorkloadStatus(), gc.Equals, false)
}

func (s *StatusSuite) TestString(c *gc.C) {
	c.Assert(status.Blocked.String(), gc.Equals, "blocked")
}

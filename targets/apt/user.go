package apt

import (
	"github.com/moby/buildkit/client/llb"
	"github.com/project-devrig/devrig"
)

// CreateUser creates the account described by u.
// useradd exits non-zero when the account already exists, which fails the
// build.
func CreateUser(u *devrig.User, opts ...llb.ConstraintsOpt) llb.StateOption {
	return func(st llb.State) llb.State {
		if u == nil {
			return st
		}
		return st.Run(
			devrig.WithConstraints(append(opts, devrig.ProgressGroup("create user "+u.Name))...),
			llb.Args(u.UseraddArgs()),
		).Root()
	}
}

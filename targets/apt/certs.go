package apt

import (
	"github.com/moby/buildkit/client/llb"
	"github.com/project-devrig/devrig"
)

// UpdateCACertificates refreshes the system trust store.
// It must run after package installation so the certificate bundles it
// scans actually exist.
func UpdateCACertificates(opts ...llb.ConstraintsOpt) llb.StateOption {
	return func(st llb.State) llb.State {
		return st.Run(
			devrig.WithConstraints(append(opts, devrig.ProgressGroup("refresh ca trust"))...),
			llb.Args([]string{"update-ca-certificates"}),
		).Root()
	}
}

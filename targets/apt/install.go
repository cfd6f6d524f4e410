package apt

import (
	"github.com/moby/buildkit/client/llb"
	"github.com/project-devrig/devrig"
)

const aptInstallScript = `#!/usr/bin/env sh
set -ex

# Make sure any cached data from local repos is purged since this should not
# be shared between builds.
rm -f /var/lib/apt/lists/_*
apt autoclean -y

apt update
apt install -y --no-install-recommends "$@"
`

// AptInstall installs the given packages into the exec's rootfs.
// Combine with [devrig.WithMountedAptCache] to persist the package cache
// across builds.
func AptInstall(packages ...string) llb.RunOption {
	return devrig.RunOptFunc(func(ei *llb.ExecInfo) {
		script := llb.Scratch().File(
			llb.Mkfile("install.sh", 0o755, []byte(aptInstallScript)),
			devrig.WithConstraint(&ei.Constraints),
		)

		p := "/tmp/devrig/internal/apt/install.sh"
		llb.AddMount(p, script, llb.SourcePath("install.sh")).SetRunOption(ei)
		llb.AddEnv("DEBIAN_FRONTEND", "noninteractive").SetRunOption(ei)
		llb.Args(append([]string{p}, packages...)).SetRunOption(ei)
	})
}

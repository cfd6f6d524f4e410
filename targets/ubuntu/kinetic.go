package ubuntu

import (
	"github.com/project-devrig/devrig/targets/apt"
)

const (
	KineticTargetKey      = "kinetic"
	KineticAptCachePrefix = "kinetic"

	// 22.10 is past end of life but images stay published, and specs in the
	// wild still pin it.
	kineticRef       = "docker.io/library/ubuntu:kinetic"
	KineticVersionID = "22.10"
)

var KineticConfig = &apt.Config{
	ImageRef:       kineticRef,
	VersionID:      KineticVersionID,
	AptCachePrefix: KineticAptCachePrefix,
	BasePackages:   basePackages,
}

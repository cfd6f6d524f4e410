package debian

import (
	"github.com/project-devrig/devrig/targets/apt"
)

const (
	TrixieTargetKey      = "trixie"
	TrixieAptCachePrefix = "trixie"

	trixieRef       = "docker.io/library/debian:trixie"
	TrixieVersionID = "13"
)

var TrixieConfig = &apt.Config{
	ImageRef:       trixieRef,
	VersionID:      TrixieVersionID,
	AptCachePrefix: TrixieAptCachePrefix,
	BasePackages:   basePackages,
}

package ubuntu

import (
	"github.com/project-devrig/devrig/targets/apt"
)

const (
	NobleTargetKey      = "noble"
	NobleAptCachePrefix = "noble"

	nobleRef       = "docker.io/library/ubuntu:noble"
	NobleVersionID = "24.04"
)

var NobleConfig = &apt.Config{
	ImageRef:       nobleRef,
	VersionID:      NobleVersionID,
	AptCachePrefix: NobleAptCachePrefix,
	BasePackages:   basePackages,
}

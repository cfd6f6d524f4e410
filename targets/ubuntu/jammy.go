package ubuntu

import (
	"github.com/project-devrig/devrig/targets/apt"
)

const (
	JammyTargetKey      = "jammy"
	JammyAptCachePrefix = "jammy"

	jammyRef       = "docker.io/library/ubuntu:jammy"
	JammyVersionID = "22.04"
)

var JammyConfig = &apt.Config{
	ImageRef:       jammyRef,
	VersionID:      JammyVersionID,
	AptCachePrefix: JammyAptCachePrefix,
	BasePackages:   basePackages,
}

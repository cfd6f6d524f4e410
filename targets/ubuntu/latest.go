package ubuntu

import (
	"github.com/project-devrig/devrig/targets/apt"
)

const (
	// LatestTargetKey is the default build target. It tracks the rolling
	// ubuntu tag, so the distro version is whatever upstream publishes and
	// no version label is recorded on the output image.
	LatestTargetKey      = "ubuntu"
	LatestAptCachePrefix = "ubuntu"

	latestRef = "docker.io/library/ubuntu:latest"
)

var LatestConfig = &apt.Config{
	ImageRef:       latestRef,
	AptCachePrefix: LatestAptCachePrefix,
	BasePackages:   basePackages,
}

package debian

import (
	"github.com/project-devrig/devrig/targets/apt"
)

const (
	BookwormTargetKey      = "bookworm"
	BookwormAptCachePrefix = "bookworm"

	bookwormRef       = "docker.io/library/debian:bookworm"
	BookwormVersionID = "12"
)

var BookwormConfig = &apt.Config{
	ImageRef:       bookwormRef,
	VersionID:      BookwormVersionID,
	AptCachePrefix: BookwormAptCachePrefix,
	BasePackages:   basePackages,
}

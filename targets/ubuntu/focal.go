package ubuntu

import (
	"github.com/project-devrig/devrig/targets/apt"
)

const (
	FocalTargetKey      = "focal"
	FocalAptCachePrefix = "focal"

	focalRef       = "docker.io/library/ubuntu:focal"
	FocalVersionID = "20.04"
)

var FocalConfig = &apt.Config{
	ImageRef:       focalRef,
	VersionID:      FocalVersionID,
	AptCachePrefix: FocalAptCachePrefix,
	BasePackages:   basePackages,
}

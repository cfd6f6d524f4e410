// Package apt provisions development environment images for apt based
// distros. Each distro variant supplies a [Config]; the build targets it
// exposes are "container" (the provisioned image, default) and "worker"
// (the bare base image).
package apt

import (
	"context"

	"github.com/moby/buildkit/client/llb"
	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	bktargets "github.com/moby/buildkit/frontend/subrequests/targets"
	"github.com/project-devrig/devrig"
	"github.com/project-devrig/devrig/frontend"
)

// Config holds the wiring for one apt based distro variant.
type Config struct {
	// ImageRef is the base image environments are provisioned onto.
	ImageRef string

	// VersionID is the distro's VERSION_ID as found in /etc/os-release,
	// recorded on the output image as a label.
	VersionID string

	// AptCachePrefix keys the persistent apt cache mounts so distro
	// versions never share package caches.
	AptCachePrefix string

	// BasePackages are merged into every environment's package set.
	// This always includes ca-certificates so that the trust store can be
	// refreshed and https fetches work in the provisioned image.
	BasePackages []string
}

// Handle routes the variant's build targets.
func (cfg *Config) Handle(ctx context.Context, client gwclient.Client) (*gwclient.Result, error) {
	var mux frontend.BuildMux

	mux.Add("container", cfg.HandleContainer, &bktargets.Target{
		Name:        "container",
		Description: "Builds the provisioned development environment image.",
		Default:     true,
	})

	mux.Add("worker", cfg.HandleWorker, &bktargets.Target{
		Name:        "worker",
		Description: "Builds the bare base image without any provisioning applied.",
	})

	return mux.Handle(ctx, client)
}

// BaseImage returns the state for the variant's base image.
func (cfg *Config) BaseImage(resolver llb.ImageMetaResolver, opts ...llb.ConstraintsOpt) llb.State {
	return llb.Image(cfg.ImageRef, llb.WithMetaResolver(resolver), devrig.WithConstraints(opts...))
}

// BuildImage returns the state of the provisioned environment: the base
// image with the merged package set installed, the trust store refreshed
// and the spec's user created. Steps are chained so each exec runs on the
// filesystem produced by the one before it; the first failing step fails
// the solve and nothing after it runs.
func (cfg *Config) BuildImage(resolver llb.ImageMetaResolver, spec *devrig.Spec, targetKey string, opts ...llb.ConstraintsOpt) llb.State {
	packages := devrig.MergePackages(cfg.BasePackages, spec.GetPackages(targetKey))

	baseRef := frontend.GetBaseOutputImage(spec, targetKey, cfg.ImageRef)
	st := llb.Image(baseRef, llb.WithMetaResolver(resolver), devrig.WithConstraints(opts...))

	if len(packages) > 0 {
		st = st.Run(
			devrig.WithConstraints(opts...),
			devrig.ProgressGroup("install packages"),
			AptInstall(packages...),
			devrig.WithMountedAptCache(cfg.AptCachePrefix),
		).Root()
	}

	if devrig.HasPackage(packages, "ca-certificates") {
		st = st.With(UpdateCACertificates(opts...))
	}

	if u := spec.GetUser(targetKey); u != nil {
		st = st.With(CreateUser(u, opts...))
	}

	return st
}

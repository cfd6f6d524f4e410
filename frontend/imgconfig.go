package frontend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/containerd/containerd/platforms"
	"github.com/moby/buildkit/client/llb/sourceresolver"
	"github.com/moby/buildkit/frontend/dockerui"
	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	ocispecs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/project-devrig/devrig"
)

type imageBuilderConfig struct {
	platform *ocispecs.Platform
}

type ConfigOpt func(*imageBuilderConfig)

func WithPlatform(p ocispecs.Platform) ConfigOpt {
	return func(c *imageBuilderConfig) {
		c.platform = &p
	}
}

// BuildImageConfig resolves the base image's config and merges the spec's
// image configuration for the given target on top of it.
func BuildImageConfig(ctx context.Context, client gwclient.Client, spec *devrig.Spec, targetKey string, baseImgRef string, opts ...ConfigOpt) (*devrig.DockerImageSpec, error) {
	dc, err := dockerui.NewClient(client)
	if err != nil {
		return nil, err
	}

	builderCfg := imageBuilderConfig{}
	for _, optFunc := range opts {
		optFunc(&builderCfg)
	}

	platform := platforms.DefaultSpec()
	if builderCfg.platform != nil {
		platform = *builderCfg.platform
	}

	_, _, dt, err := client.ResolveImageConfig(ctx, baseImgRef, sourceresolver.Opt{
		Platform: &platform,
		ImageOpt: &sourceresolver.ResolveImageOpt{
			ResolveMode: dc.ImageResolveMode.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error resolving image config: %w", err)
	}

	var img devrig.DockerImageSpec
	if err := json.Unmarshal(dt, &img); err != nil {
		return nil, fmt.Errorf("error unmarshalling image config: %w", err)
	}

	cfg := img.Config
	if err := devrig.MergeImageConfig(&cfg, spec.GetImage(targetKey)); err != nil {
		return nil, err
	}

	img.Config = cfg
	return &img, nil
}

// GetBaseOutputImage returns the base image ref for the output image.
// The spec's image config may override the distro default.
func GetBaseOutputImage(spec *devrig.Spec, targetKey, defaultBase string) string {
	i := spec.GetImage(targetKey)
	if i == nil || i.Base == "" {
		return defaultBase
	}
	return i.Base
}

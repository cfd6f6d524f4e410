package apt

import (
	"context"

	"github.com/moby/buildkit/client/llb"
	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	ocispecs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"github.com/project-devrig/devrig"
	"github.com/project-devrig/devrig/frontend"
	"github.com/project-devrig/devrig/targets"
)

// VersionIDLabel is the label on output images recording the distro's
// VERSION_ID as found in /etc/os-release.
const VersionIDLabel = "com.devrig.distro.version-id"

// HandleContainer builds the provisioned environment image for the variant.
func (cfg *Config) HandleContainer(ctx context.Context, client gwclient.Client) (*gwclient.Result, error) {
	return frontend.BuildWithPlatform(ctx, client, func(ctx context.Context, client gwclient.Client, platform *ocispecs.Platform, spec *devrig.Spec, targetKey string) (gwclient.Reference, *devrig.DockerImageSpec, error) {
		opts := []llb.ConstraintsOpt{
			devrig.Platform(platform),
			devrig.ProgressGroup("Provision environment: " + spec.Name),
			frontend.IgnoreCache(client, targets.IgnoreCacheKeyContainer),
		}

		st := cfg.BuildImage(client, spec, targetKey, opts...)

		def, err := st.Marshal(ctx, opts...)
		if err != nil {
			return nil, nil, errors.Wrap(err, "error marshalling environment to LLB")
		}

		res, err := client.Solve(ctx, gwclient.SolveRequest{
			Definition: def.ToPB(),
		})
		if err != nil {
			return nil, nil, err
		}

		ref, err := res.SingleRef()
		if err != nil {
			return nil, nil, err
		}

		img, err := cfg.buildImageConfig(ctx, client, spec, targetKey, platform)
		if err != nil {
			return nil, nil, err
		}

		if err := frontend.RunTests(ctx, client, spec, ref, targetKey, platform); err != nil {
			return nil, nil, err
		}

		return ref, img, nil
	})
}

func (cfg *Config) buildImageConfig(ctx context.Context, client gwclient.Client, spec *devrig.Spec, targetKey string, platform *ocispecs.Platform) (*devrig.DockerImageSpec, error) {
	baseRef := frontend.GetBaseOutputImage(spec, targetKey, cfg.ImageRef)

	var cfgOpts []frontend.ConfigOpt
	if platform != nil {
		cfgOpts = append(cfgOpts, frontend.WithPlatform(*platform))
	}

	img, err := frontend.BuildImageConfig(ctx, client, spec, targetKey, baseRef, cfgOpts...)
	if err != nil {
		return nil, err
	}

	if img.Config.Labels == nil {
		img.Config.Labels = make(map[string]string)
	}
	// Rolling-tag variants don't know the distro version ahead of time.
	if cfg.VersionID != "" {
		img.Config.Labels[VersionIDLabel] = cfg.VersionID
	}
	if spec.Name != "" {
		img.Config.Labels["org.opencontainers.image.title"] = spec.Name
	}
	if spec.Description != "" {
		img.Config.Labels["org.opencontainers.image.description"] = spec.Description
	}
	if spec.Website != "" {
		img.Config.Labels["org.opencontainers.image.url"] = spec.Website
	}

	// When the spec creates a user and does not set an explicit image user,
	// the created account is what the environment should run as.
	if u := spec.GetUser(targetKey); u != nil && img.Config.User == "" {
		img.Config.User = u.Name
	}

	return img, nil
}

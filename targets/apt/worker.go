package apt

import (
	"context"
	"encoding/json"

	"github.com/moby/buildkit/client/llb"
	"github.com/moby/buildkit/client/llb/sourceresolver"
	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	ocispecs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/project-devrig/devrig"
	"github.com/project-devrig/devrig/frontend"
	"github.com/project-devrig/devrig/targets"
)

// HandleWorker builds the variant's bare base image without any
// provisioning applied. It is mostly useful for inspecting what a variant
// starts from and for pre-pulling base images into the build cache.
func (cfg *Config) HandleWorker(ctx context.Context, client gwclient.Client) (*gwclient.Result, error) {
	return frontend.BuildWithPlatform(ctx, client, func(ctx context.Context, client gwclient.Client, platform *ocispecs.Platform, spec *devrig.Spec, targetKey string) (gwclient.Reference, *devrig.DockerImageSpec, error) {
		opts := []llb.ConstraintsOpt{
			devrig.Platform(platform),
			devrig.ProgressGroup("Base image: " + cfg.ImageRef),
			frontend.IgnoreCache(client, targets.IgnoreCacheKeyWorker),
		}

		st := cfg.BaseImage(client, opts...)

		def, err := st.Marshal(ctx, opts...)
		if err != nil {
			return nil, nil, err
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

		// The worker is the unmodified base, so its config is the base
		// image's own config with nothing merged in.
		_, _, dt, err := client.ResolveImageConfig(ctx, cfg.ImageRef, sourceresolver.Opt{
			Platform: platform,
		})
		if err != nil {
			return nil, nil, err
		}

		var img devrig.DockerImageSpec
		if err := json.Unmarshal(dt, &img); err != nil {
			return nil, nil, err
		}
		return ref, &img, nil
	})
}

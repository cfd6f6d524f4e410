package ubuntu

import (
	"context"

	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	"github.com/project-devrig/devrig/frontend"
)

var (
	// We want ca-certificates in every environment
	// to ensure that certain operations (such as cloning repos over https)
	// can be completed without the spec having to ask for it, and so the
	// trust refresh step always has a store to refresh.
	basePackages = []string{
		"ca-certificates",
	}

	targets = map[string]gwclient.BuildFunc{
		LatestTargetKey:  LatestConfig.Handle,  // rolling
		FocalTargetKey:   FocalConfig.Handle,   // 20.04
		JammyTargetKey:   JammyConfig.Handle,   // 22.04
		KineticTargetKey: KineticConfig.Handle, // 22.10
		NobleTargetKey:   NobleConfig.Handle,   // 24.04
	}
)

func Handlers(ctx context.Context, client gwclient.Client, m *frontend.BuildMux) error {
	return frontend.LoadBuiltinTargets(targets)(ctx, client, m)
}

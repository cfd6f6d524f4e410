package debian

import (
	"context"

	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	"github.com/project-devrig/devrig/frontend"
)

var (
	// Same reasoning as the ubuntu variants: every environment gets a
	// working trust store without asking for it.
	basePackages = []string{
		"ca-certificates",
	}

	targets = map[string]gwclient.BuildFunc{
		BookwormTargetKey: BookwormConfig.Handle, // 12
		TrixieTargetKey:   TrixieConfig.Handle,   // 13
	}
)

func Handlers(ctx context.Context, client gwclient.Client, m *frontend.BuildMux) error {
	return frontend.LoadBuiltinTargets(targets)(ctx, client, m)
}

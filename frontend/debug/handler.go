package debug

import (
	"context"

	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	bktargets "github.com/moby/buildkit/frontend/subrequests/targets"
	"github.com/project-devrig/devrig/frontend"
)

// DebugRoute is the target prefix for debugging helpers.
const DebugRoute = "debug"

// Handle routes the debug targets.
func Handle(ctx context.Context, client gwclient.Client) (*gwclient.Result, error) {
	var mux frontend.BuildMux

	mux.Add("resolve", HandleResolve, &bktargets.Target{
		Name:        "resolve",
		Description: "Outputs the resolved environment spec with build args applied.",
		Default:     true,
	})

	return mux.Handle(ctx, client)
}

package frontend

import (
	"context"
	"slices"
	"strings"

	"github.com/moby/buildkit/client/llb"
	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	"github.com/moby/buildkit/util/bklog"
	"github.com/project-devrig/devrig"
)

const (
	requestIDKey = "requestid"

	// keyTopLevelTarget stores the target key the router resolved for the
	// original request. Nested handlers read it back to know which target
	// they are building even after the mux has trimmed the target opt.
	keyTopLevelTarget = "devrig.target"
)

// GetBuildArg returns the value of a build arg from the client options.
func GetBuildArg(client gwclient.Client, k string) (string, bool) {
	opts := client.BuildOpts().Opts
	if opts != nil {
		if v, ok := opts["build-arg:"+k]; ok {
			return v, true
		}
	}
	return "", false
}

// GetTargetKey returns the target key for the current build request.
func GetTargetKey(client gwclient.Client) string {
	return client.BuildOpts().Opts[keyTopLevelTarget]
}

// Warn emits a build warning attached to the head of the given state.
// Errors emitting the warning are logged rather than returned so that a
// failed warning never fails a build.
func Warn(ctx context.Context, client gwclient.Client, st llb.State, msg string) {
	warnLog := func(err error) {
		bklog.G(ctx).WithError(err).Warn("Could not emit build warning: " + msg)
	}

	def, err := st.Marshal(ctx)
	if err != nil {
		warnLog(err)
		return
	}

	dgst, err := def.Head()
	if err != nil {
		warnLog(err)
		return
	}

	if err := client.Warn(ctx, dgst, msg, gwclient.WarnOpts{}); err != nil {
		warnLog(err)
	}
}

// IgnoreCache returns an [llb.ConstraintsOpt] that invalidates the buildkit
// cache for an operation when the request carries the no-cache option.
//
// With no keys the cache is invalidated whenever no-cache is present at all.
// With keys the no-cache value must either be empty, which invalidates
// everything, or be a comma separated list naming one of the keys.
func IgnoreCache(client gwclient.Client, keys ...string) llb.ConstraintsOpt {
	v, ok := client.BuildOpts().Opts["no-cache"]
	if !ok {
		return devrig.WithConstraints()
	}

	if len(keys) == 0 || v == "" {
		return llb.IgnoreCache
	}

	ls := strings.Split(v, ",")
	for _, k := range keys {
		if slices.Contains(ls, k) {
			return llb.IgnoreCache
		}
	}
	return devrig.WithConstraints()
}

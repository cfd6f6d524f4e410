package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/containerd/containerd/platforms"
	"github.com/goccy/go-yaml"
	"github.com/moby/buildkit/client/llb"
	"github.com/moby/buildkit/exporter/containerimage/exptypes"
	"github.com/moby/buildkit/frontend/dockerui"
	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	"github.com/moby/buildkit/frontend/subrequests/targets"
	"github.com/moby/buildkit/solver/pb"
	ocispecs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/project-devrig/devrig"
	"github.com/tonistiigi/fsutil/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

func startTestSpan(ctx context.Context, t *testing.T) context.Context {
	ctx, span := otel.Tracer("").Start(ctx, t.Name())
	t.Cleanup(func() {
		if t.Failed() {
			span.SetStatus(codes.Error, "test failed")
		}
		span.End()
	})
	return ctx
}

// specToSolveRequest injects the spec as the build context into the solve request.
func specToSolveRequest(ctx context.Context, t *testing.T, spec *devrig.Spec, sr *gwclient.SolveRequest) {
	t.Helper()

	dt, err := yaml.Marshal(spec)
	if err != nil {
		t.Fatal(err)
	}

	def, err := llb.Scratch().File(llb.Mkfile("Dockerfile", 0o644, dt)).Marshal(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if sr.FrontendInputs == nil {
		sr.FrontendInputs = make(map[string]*pb.Definition)
	}

	sr.FrontendInputs[dockerui.DefaultLocalNameContext] = def.ToPB()
	sr.FrontendInputs[dockerui.DefaultLocalNameDockerfile] = def.ToPB()
}

func readFile(ctx context.Context, t *testing.T, name string, res *gwclient.Result) []byte {
	t.Helper()

	ref, err := res.SingleRef()
	if err != nil {
		t.Fatal(err)
	}

	dt, err := ref.ReadFile(ctx, gwclient.ReadRequest{
		Filename: name,
	})
	if err != nil {
		stat, _ := ref.ReadDir(ctx, gwclient.ReadDirRequest{
			Path: filepath.Dir(name),
		})
		t.Fatalf("error reading file %q: %v, dir contents: \n%s", name, err, dirStatAsStringer(stat))
	}

	return dt
}

func statFile(ctx context.Context, t *testing.T, name string, res *gwclient.Result) {
	t.Helper()

	ref, err := res.SingleRef()
	if err != nil {
		t.Fatal(err)
	}

	_, err = ref.StatFile(ctx, gwclient.StatRequest{
		Path: name,
	})
	if err != nil {
		t.Fatalf("expected %q to exist, got error: %v", name, err)
	}
}

func checkFile(ctx context.Context, t *testing.T, name string, res *gwclient.Result, expect []byte) {
	t.Helper()

	dt := readFile(ctx, t, name, res)
	if !bytes.Equal(dt, expect) {
		t.Fatalf("expected %q, got %q", string(expect), string(dt))
	}
}

// readImageConfig unpacks the image config metadata attached to a solve result.
func readImageConfig(t *testing.T, res *gwclient.Result) *devrig.DockerImageSpec {
	t.Helper()

	dt, ok := res.Metadata[exptypes.ExporterImageConfigKey]
	if !ok {
		t.Fatal("missing image config in result metadata")
	}

	var img devrig.DockerImageSpec
	if err := json.Unmarshal(dt, &img); err != nil {
		t.Fatalf("could not unmarshal image config: %v", err)
	}
	return &img
}

func listTargets(ctx context.Context, t *testing.T, gwc gwclient.Client, spec *devrig.Spec) targets.List {
	t.Helper()

	sr := newSolveRequest(withListTargetsOnly, withSpec(ctx, t, spec))
	res := solveT(ctx, t, gwc, sr)

	dt, ok := res.Metadata["result.json"]
	if !ok {
		t.Fatal("missing result.json from list targets")
	}

	var ls targets.List
	if err := json.Unmarshal(dt, &ls); err != nil {
		t.Fatalf("could not unmarshal list targets result: %v", err)
	}
	return ls
}

func containsTarget(ls targets.List, name string) bool {
	return slices.ContainsFunc(ls.Targets, func(tgt targets.Target) bool {
		return tgt.Name == name
	})
}

func checkTargetExists(t *testing.T, ls targets.List, name string) {
	t.Helper()

	if !containsTarget(ls, name) {
		names := make([]string, 0, len(ls.Targets))
		for _, tgt := range ls.Targets {
			names = append(names, tgt.Name)
		}

		t.Fatalf("did not find target %q:\n%v", name, names)
	}
}

type dirStatAsStringer []*types.Stat

func (d dirStatAsStringer) String() string {
	var buf bytes.Buffer
	buf.WriteString("\n")
	for _, s := range d {
		fmt.Fprintf(&buf, "%s %s %d %d\n", s.GetPath(), fs.FileMode(s.Mode), s.Uid, s.Gid)
	}
	return buf.String()
}

type newSolveRequestConfig struct {
	req              *gwclient.SolveRequest
	noFillSpecFields bool
}

// srOpt is used by [newSolveRequest] to apply changes to a [gwclient.SolveRequest].
type srOpt func(*newSolveRequestConfig)

func newSolveRequest(opts ...srOpt) gwclient.SolveRequest {
	cfg := newSolveRequestConfig{
		req: &gwclient.SolveRequest{Evaluate: true},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return *cfg.req
}

func withPlatforms(pls ...ocispecs.Platform) srOpt {
	return func(cfg *newSolveRequestConfig) {
		if cfg.req.FrontendOpt == nil {
			cfg.req.FrontendOpt = make(map[string]string)
		}
		formatted := make([]string, 0, len(pls))
		for _, p := range pls {
			formatted = append(formatted, platforms.Format(p))
		}
		cfg.req.FrontendOpt["platform"] = strings.Join(formatted, ",")
	}
}

func withBuildArg(k, v string) srOpt {
	return func(cfg *newSolveRequestConfig) {
		if cfg.req.FrontendOpt == nil {
			cfg.req.FrontendOpt = make(map[string]string)
		}
		cfg.req.FrontendOpt["build-arg:"+k] = v
	}
}

func withSpec(ctx context.Context, t *testing.T, spec *devrig.Spec) srOpt {
	return func(cfg *newSolveRequestConfig) {
		if spec != nil && !cfg.noFillSpecFields {
			if spec.Name == "" {
				spec.Name = "test"
			}
		}
		specToSolveRequest(ctx, t, spec, cfg.req)
	}
}

func withBuildTarget(target string) srOpt {
	return func(cfg *newSolveRequestConfig) {
		if cfg.req.FrontendOpt == nil {
			cfg.req.FrontendOpt = make(map[string]string)
		}
		cfg.req.FrontendOpt["target"] = target
	}
}

func withSubrequest(id string) srOpt {
	return func(cfg *newSolveRequestConfig) {
		if cfg.req.FrontendOpt == nil {
			cfg.req.FrontendOpt = make(map[string]string)
		}
		cfg.req.FrontendOpt["requestid"] = id
	}
}

// withListTargetsOnly sets up the request so that we do a subrequest to just list targets
// None of the targets will be run with this set.
func withListTargetsOnly(cfg *newSolveRequestConfig) {
	withSubrequest(targets.RequestTargets)(cfg)
}

func solveT(ctx context.Context, t *testing.T, gwc gwclient.Client, req gwclient.SolveRequest) *gwclient.Result {
	t.Helper()
	res, err := gwc.Solve(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

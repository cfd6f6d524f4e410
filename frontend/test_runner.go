package frontend

import (
	"context"
	stderrors "errors"
	"io/fs"
	"path"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/shlex"
	"github.com/moby/buildkit/client/llb"
	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	"github.com/moby/buildkit/identity"
	ocispecs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"github.com/project-devrig/devrig"
)

// skipTestsBuildArg disables running spec tests when set to a truthy value.
const skipTestsBuildArg = "DEVRIG_SKIP_TESTS"

// RunTests runs the tests defined in the spec against the given built container.
func RunTests(ctx context.Context, client gwclient.Client, spec *devrig.Spec, ref gwclient.Reference, targetKey string, platform *ocispecs.Platform) error {
	if skipVar, ok := GetBuildArg(client, skipTestsBuildArg); ok && skipVar != "" {
		skip, err := strconv.ParseBool(skipVar)
		if err != nil {
			return errors.Wrapf(err, "could not parse build-arg %s", skipTestsBuildArg)
		}
		if skip {
			Warn(ctx, client, llb.Scratch(), "Tests skipped due to build-arg "+skipTestsBuildArg+"="+skipVar)
			return nil
		}
	}

	tests := spec.GetTests(targetKey)
	if len(tests) == 0 {
		return nil
	}

	if err := ref.Evaluate(ctx); err != nil {
		// Force evaluation here so that any errors for the build itself can surface
		// more cleanly.
		// Otherwise an error for something wrong in the build (e.g. a failed install)
		// will look like an error in a test (or all tests).
		return err
	}

	ctr, err := ref.ToState()
	if err != nil {
		return err
	}

	type testPair struct {
		st     llb.State
		t      *devrig.TestSpec
		stdios map[int]llb.State
		opts   []llb.ConstraintsOpt
	}

	runs := make([]testPair, 0, len(tests))
	for _, test := range tests {
		worker := ctr
		for k, v := range test.Env {
			worker = worker.AddEnv(k, v)
		}
		if test.Dir != "" {
			worker = worker.Dir(test.Dir)
		}

		pg := llb.ProgressGroup(identity.NewID(), "Test: "+path.Join(targetKey, test.Name), false)
		opts := []llb.RunOption{pg}

		if len(test.Steps) == 0 {
			runs = append(runs, testPair{st: worker, t: test, opts: []llb.ConstraintsOpt{pg, devrig.Platform(platform)}})
			continue
		}

		ios := map[int]llb.State{}
		for i, step := range test.Steps {
			var stepOpts []llb.RunOption
			var needsStdioMount bool

			id := identity.NewID()
			ioSt := llb.Scratch()
			if step.Stdin != "" {
				needsStdioMount = true
				stepOpts = append(stepOpts, llb.AddEnv("STDIN_FILE", filepath.Join("/tmp", id, "stdin")))
				ioSt = ioSt.File(llb.Mkfile("stdin", 0444, []byte(step.Stdin)), pg)
			}
			if !step.Stdout.IsEmpty() {
				needsStdioMount = true
				stepOpts = append(stepOpts, llb.AddEnv("STDOUT_FILE", filepath.Join("/tmp", id, "stdout")))
				ioSt = ioSt.File(llb.Mkfile("stdout", 0664, nil), pg)
			}
			if !step.Stderr.IsEmpty() {
				needsStdioMount = true
				stepOpts = append(stepOpts, llb.AddEnv("STDERR_FILE", filepath.Join("/tmp", id, "stderr")))
				ioSt = ioSt.File(llb.Mkfile("stderr", 0664, nil), pg)
			}

			cmd, err := shlex.Split(step.Command)
			if err != nil {
				return errors.Wrapf(err, "test %s: step %d", test.Name, i)
			}
			if needsStdioMount {
				fc, ok := client.(CurrentFrontend)
				if !ok {
					return errors.New("client does not expose the frontend rootfs, cannot capture stdio")
				}
				fSt, err := fc.CurrentFrontend()
				if err != nil {
					return err
				}
				p := filepath.Join("/tmp", id+"-2", "devrig-redirectio")
				stepOpts = append(stepOpts, llb.AddMount(p, *fSt, llb.SourcePath("/devrig-redirectio")))
				cmd = append([]string{p}, cmd...)
			}

			stepOpts = append(stepOpts, llb.Args(cmd))
			stepOpts = append(stepOpts, llb.With(func(s llb.State) llb.State {
				for k, v := range step.Env {
					s = s.AddEnv(k, v)
				}
				return s
			}))
			stepOpts = append(opts, stepOpts...)

			est := worker.Run(stepOpts...)
			if needsStdioMount {
				ioSt = est.AddMount(filepath.Join("/tmp", id), ioSt)
				ios[i] = ioSt
			}
			worker = est.Root()
		}

		runs = append(runs, testPair{st: worker, t: test, stdios: ios, opts: []llb.ConstraintsOpt{pg, devrig.Platform(platform)}})
	}

	var errs errorList
	var wg sync.WaitGroup
	for _, pair := range runs {
		pair := pair
		wg.Add(1)
		go func() {
			if err := runTest(ctx, client, pair.t, pair.st, pair.stdios, pair.opts...); err != nil {
				errs.Append(errors.Wrap(err, "FAILED: "+path.Join(targetKey, pair.t.Name)))
			}
			wg.Done()
		}()
	}

	wg.Wait()

	return errs.Join()
}

func runTest(ctx context.Context, client gwclient.Client, t *devrig.TestSpec, st llb.State, ios map[int]llb.State, opts ...llb.ConstraintsOpt) error {
	ref, err := solveRef(ctx, client, st, opts...)
	if err != nil {
		return err
	}

	var outErr error
	for p, check := range t.Files {
		stat, err := ref.StatFile(ctx, gwclient.StatRequest{
			Path: p,
		})
		if err != nil {
			if check.NotExist {
				// TODO: buildkit just gives a generic error here (with grpc code `Unknown`)
				// There's not really a good way to determine if the error is because the file is missing or something else.
				continue
			}
			return errors.Wrapf(err, "stat failed: %s", p)
		}

		if check.NotExist {
			outErr = stderrors.Join(outErr, errors.Errorf("file %s exists but should not", p))
			continue
		}

		var dt []byte
		if !check.CheckOutput.IsEmpty() {
			dt, err = ref.ReadFile(ctx, gwclient.ReadRequest{
				Filename: p,
			})
			if err != nil {
				outErr = stderrors.Join(outErr, errors.Wrapf(err, "read failed: %s", p))
			}
		}
		if err := check.Check(string(dt), fs.FileMode(stat.Mode), stat.IsDir(), p); err != nil {
			outErr = stderrors.Join(outErr, errors.WithStack(err))
		}
	}

	for i, ioSt := range ios {
		fsys := devrig.NewStateRefFS(ctx, client, ioSt, opts...)

		checkFile := func(c devrig.CheckOutput, name string) error {
			if c.IsEmpty() {
				return nil
			}
			dt, err := fs.ReadFile(fsys, name)
			if err != nil {
				return errors.Wrapf(err, "%s: read failed", name)
			}
			if err := c.Check(string(dt), name); err != nil {
				return errors.Wrap(err, name)
			}
			return nil
		}

		step := t.Steps[i]
		if err := checkFile(step.Stdout, "stdout"); err != nil {
			outErr = stderrors.Join(outErr, errors.Wrapf(err, "step %d", i))
		}
		if err := checkFile(step.Stderr, "stderr"); err != nil {
			outErr = stderrors.Join(outErr, errors.Wrapf(err, "step %d", i))
		}
	}

	return outErr
}

type errorList struct {
	mu sync.Mutex
	ls []error
}

func (e *errorList) Append(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	e.ls = append(e.ls, err)
	e.mu.Unlock()
}

func (e *errorList) Join() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.ls) == 0 {
		return nil
	}

	return stderrors.Join(e.ls...)
}

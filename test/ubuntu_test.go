package test

import (
	"context"
	"strings"
	"testing"

	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	"github.com/project-devrig/devrig"
	"github.com/project-devrig/devrig/targets/ubuntu"
)

func TestUbuntuRolling(t *testing.T) {
	t.Parallel()

	ctx := startTestSpan(baseCtx, t)
	testAptDistro(ctx, t, aptDistroConfig{
		target:      ubuntu.LatestTargetKey,
		osReleaseID: "ubuntu",
	})
}

func TestUbuntuFocal(t *testing.T) {
	t.Parallel()

	ctx := startTestSpan(baseCtx, t)
	testAptDistro(ctx, t, aptDistroConfig{
		target:      ubuntu.FocalTargetKey,
		versionID:   ubuntu.FocalVersionID,
		osReleaseID: "ubuntu",
	})
}

func TestUbuntuJammy(t *testing.T) {
	t.Parallel()

	ctx := startTestSpan(baseCtx, t)
	testAptDistro(ctx, t, aptDistroConfig{
		target:      ubuntu.JammyTargetKey,
		versionID:   ubuntu.JammyVersionID,
		osReleaseID: "ubuntu",
	})
}

func TestUbuntuNoble(t *testing.T) {
	t.Parallel()

	ctx := startTestSpan(baseCtx, t)
	testAptDistro(ctx, t, aptDistroConfig{
		target:      ubuntu.NobleTargetKey,
		versionID:   ubuntu.NobleVersionID,
		osReleaseID: "ubuntu",
	})
}

// Note: kinetic has no provisioning battery. Its package archives moved to
// old-releases.ubuntu.com after end of life so installs against the stock
// image fail. The target itself is still registered, which
// TestListTargets covers.

// TestBaseImageOverride checks that the spec's image base replaces the
// distro's default base image.
func TestBaseImageOverride(t *testing.T) {
	t.Parallel()

	spec := &devrig.Spec{
		Name: "base-override-test",
		Image: &devrig.ImageConfig{
			Base: "docker.io/library/ubuntu:noble",
		},
	}

	runTest(t, func(ctx context.Context, gwc gwclient.Client) (*gwclient.Result, error) {
		sr := newSolveRequest(withSpec(ctx, t, spec), withBuildTarget(ubuntu.JammyTargetKey+"/container"))
		res := solveT(ctx, t, gwc, sr)

		osRelease := readFile(ctx, t, "/etc/os-release", res)
		if !strings.Contains(string(osRelease), `VERSION_ID="24.04"`) {
			t.Errorf("expected the noble base to be used, got:\n%s", osRelease)
		}

		return gwclient.NewResult(), nil
	})
}

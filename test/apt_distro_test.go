package test

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"

	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	"github.com/project-devrig/devrig"
	"github.com/project-devrig/devrig/targets/apt"
)

type aptDistroConfig struct {
	// target is the route prefix the distro's build targets are registered under.
	target string
	// versionID is the distro version recorded on output images.
	// Empty for rolling tags which don't pin a version.
	versionID string
	// osReleaseID is the expected ID field in the image's /etc/os-release.
	osReleaseID string
}

// testAptDistro runs the provisioning battery against one distro variant.
func testAptDistro(ctx context.Context, t *testing.T, cfg aptDistroConfig) {
	skipIfNoBuildkit(t)

	containerTarget := cfg.target + "/container"
	workerTarget := cfg.target + "/worker"

	t.Run("provision", func(t *testing.T) {
		t.Parallel()
		ctx := startTestSpan(ctx, t)

		spec := &devrig.Spec{
			Name:        "devrig-test-" + cfg.target,
			Description: "Integration test environment",
			Website:     "https://github.com/project-devrig/devrig",
			Packages:    []string{"curl", "git", "ca-certificates"},
			User: &devrig.User{
				Name:   "vscode",
				Groups: []string{"adm", "users"},
				Shell:  "/bin/bash",
			},
			Image: &devrig.ImageConfig{
				Env:        []string{"DEVCONTAINER=1"},
				Entrypoint: "/bin/bash -l",
			},
			Tests: []*devrig.TestSpec{
				{
					Name: "installed binaries work",
					Steps: []devrig.TestStep{
						{Command: "curl --version"},
						{Command: "git --version", Stdout: devrig.CheckOutput{StartsWith: "git version"}},
					},
				},
			},
		}

		testEnv.RunTest(ctx, t, func(ctx context.Context, gwc gwclient.Client) (*gwclient.Result, error) {
			sr := newSolveRequest(withSpec(ctx, t, spec), withBuildTarget(containerTarget))
			res := solveT(ctx, t, gwc, sr)

			osRelease := readFile(ctx, t, "/etc/os-release", res)
			if !strings.Contains(string(osRelease), "ID="+cfg.osReleaseID) {
				t.Errorf("expected os-release ID %q, got:\n%s", cfg.osReleaseID, osRelease)
			}
			if cfg.versionID != "" && !strings.Contains(string(osRelease), fmt.Sprintf("VERSION_ID=%q", cfg.versionID)) {
				t.Errorf("expected os-release VERSION_ID %q, got:\n%s", cfg.versionID, osRelease)
			}

			passwd := readFile(ctx, t, "/etc/passwd", res)
			entry := passwdEntry(passwd, "vscode")
			if entry == nil {
				t.Fatalf("user vscode not in /etc/passwd:\n%s", passwd)
			}
			if home := entry[5]; home != "/home/vscode" {
				t.Errorf("expected home /home/vscode, got %q", home)
			}
			if shell := entry[6]; shell != "/bin/bash" {
				t.Errorf("expected shell /bin/bash, got %q", shell)
			}
			statFile(ctx, t, "/home/vscode", res)

			group := readFile(ctx, t, "/etc/group", res)
			for _, g := range spec.User.Groups {
				if !groupHasMember(group, g, "vscode") {
					t.Errorf("vscode not a member of group %q:\n%s", g, group)
				}
			}

			// Refreshed by update-ca-certificates after the install step.
			statFile(ctx, t, "/etc/ssl/certs/ca-certificates.crt", res)

			img := readImageConfig(t, res)
			if img.Config.User != "vscode" {
				t.Errorf("expected image user vscode, got %q", img.Config.User)
			}
			if expect := []string{"/bin/bash", "-l"}; !slices.Equal(img.Config.Entrypoint, expect) {
				t.Errorf("expected entrypoint %v, got %v", expect, img.Config.Entrypoint)
			}
			if !slices.Contains(img.Config.Env, "DEVCONTAINER=1") {
				t.Errorf("expected env DEVCONTAINER=1, got %v", img.Config.Env)
			}

			labels := img.Config.Labels
			if cfg.versionID == "" {
				if v, ok := labels[apt.VersionIDLabel]; ok {
					t.Errorf("rolling tag should not have a version label, got %q", v)
				}
			} else if labels[apt.VersionIDLabel] != cfg.versionID {
				t.Errorf("expected version label %q, got %q", cfg.versionID, labels[apt.VersionIDLabel])
			}
			if labels["org.opencontainers.image.title"] != spec.Name {
				t.Errorf("expected title label %q, got %q", spec.Name, labels["org.opencontainers.image.title"])
			}
			if labels["org.opencontainers.image.url"] != spec.Website {
				t.Errorf("expected url label %q, got %q", spec.Website, labels["org.opencontainers.image.url"])
			}

			return gwclient.NewResult(), nil
		})
	})

	t.Run("worker", func(t *testing.T) {
		t.Parallel()
		ctx := startTestSpan(ctx, t)

		spec := &devrig.Spec{
			Name:     "devrig-test-" + cfg.target + "-worker",
			Packages: []string{"curl"},
			User:     &devrig.User{Name: "vscode"},
		}

		testEnv.RunTest(ctx, t, func(ctx context.Context, gwc gwclient.Client) (*gwclient.Result, error) {
			sr := newSolveRequest(withSpec(ctx, t, spec), withBuildTarget(workerTarget))
			res := solveT(ctx, t, gwc, sr)

			osRelease := readFile(ctx, t, "/etc/os-release", res)
			if !strings.Contains(string(osRelease), "ID="+cfg.osReleaseID) {
				t.Errorf("expected os-release ID %q, got:\n%s", cfg.osReleaseID, osRelease)
			}

			// The worker is the unprovisioned base, the spec's user must not exist in it.
			passwd := readFile(ctx, t, "/etc/passwd", res)
			if passwdEntry(passwd, "vscode") != nil {
				t.Errorf("worker target should not create users:\n%s", passwd)
			}

			return gwclient.NewResult(), nil
		})
	})
}

// passwdEntry returns the colon-separated fields for name's /etc/passwd line,
// or nil when the account does not exist.
func passwdEntry(passwd []byte, name string) []string {
	for _, line := range strings.Split(string(passwd), "\n") {
		fields := strings.Split(line, ":")
		if len(fields) == 7 && fields[0] == name {
			return fields
		}
	}
	return nil
}

func groupHasMember(group []byte, groupName, member string) bool {
	for _, line := range strings.Split(string(group), "\n") {
		fields := strings.Split(line, ":")
		if len(fields) == 4 && fields[0] == groupName {
			return slices.Contains(strings.Split(fields[3], ","), member)
		}
	}
	return false
}

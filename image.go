package devrig

import (
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/google/shlex"
	"github.com/moby/buildkit/frontend/dockerfile/shell"
	dockerspec "github.com/moby/docker-image-spec/specs-go/v1"
	"github.com/pkg/errors"
)

type DockerImageSpec = dockerspec.DockerOCIImage
type DockerImageConfig = dockerspec.DockerOCIImageConfig

// ImageConfig is the configuration for the output image.
type ImageConfig struct {
	// Entrypoint sets the image's "entrypoint" field.
	// This is used to control the default command to run when the image is run.
	Entrypoint string `yaml:"entrypoint,omitempty" json:"entrypoint,omitempty"`
	// Cmd sets the image's "cmd" field.
	// When entrypoint is set, this is used as the default arguments to the entrypoint.
	// When entrypoint is not set, this is used as the default command to run.
	Cmd string `yaml:"cmd,omitempty" json:"cmd,omitempty"`
	// Env is the list of environment variables to set in the image.
	Env []string `yaml:"env,omitempty" json:"env,omitempty"`
	// Labels is the list of labels to set in the image metadata.
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	// Volumes is the list of volumes for the image.
	// Volumes instruct the runtime to bypass the any copy-on-write filesystems and mount the volume directly to the container.
	Volumes map[string]struct{} `yaml:"volumes,omitempty" json:"volumes,omitempty"`
	// WorkingDir is the working directory to set in the image.
	// This sets the directory the container will start in.
	WorkingDir string `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	// StopSignal is the signal to send to the container to stop it.
	// This is used to stop the container gracefully.
	StopSignal string `yaml:"stop_signal,omitempty" json:"stop_signal,omitempty" jsonschema:"example=SIGTERM"`
	// Base overrides the base image the target would otherwise provision.
	Base string `yaml:"base,omitempty" json:"base,omitempty"`
	// User is the user the image should run as.
	// When unset and the spec creates a user, the created user is used.
	User string `yaml:"user,omitempty" json:"user,omitempty"`
}

func (i *ImageConfig) validate() error {
	if i == nil {
		return nil
	}

	var errs []error

	if _, err := shlex.Split(i.Entrypoint); err != nil {
		errs = append(errs, errors.Wrap(err, "entrypoint"))
	}
	if _, err := shlex.Split(i.Cmd); err != nil {
		errs = append(errs, errors.Wrap(err, "cmd"))
	}

	for _, env := range i.Env {
		if !strings.Contains(env, "=") {
			errs = append(errs, fmt.Errorf("env %q is not in key=value form", env))
		}
	}

	return goerrors.Join(errs...)
}

func (i *ImageConfig) processBuildArgs(lex *shell.Lex, args map[string]string, allowArg func(string) bool) error {
	if i == nil {
		return nil
	}

	var errs []error
	appendErr := func(err error) {
		errs = append(errs, err)
	}

	updated, err := expandArgs(lex, i.Entrypoint, args, allowArg)
	if err != nil {
		appendErr(errors.Wrap(err, "entrypoint"))
	} else {
		i.Entrypoint = updated
	}

	updated, err = expandArgs(lex, i.Cmd, args, allowArg)
	if err != nil {
		appendErr(errors.Wrap(err, "cmd"))
	} else {
		i.Cmd = updated
	}

	for idx, env := range i.Env {
		updated, err := expandArgs(lex, env, args, allowArg)
		if err != nil {
			appendErr(errors.Wrapf(err, "env %s", env))
			continue
		}
		i.Env[idx] = updated
	}

	for k, v := range i.Labels {
		updated, err := expandArgs(lex, v, args, allowArg)
		if err != nil {
			appendErr(errors.Wrapf(err, "label %s=%s", k, v))
			continue
		}
		i.Labels[k] = updated
	}

	updated, err = expandArgs(lex, i.WorkingDir, args, allowArg)
	if err != nil {
		appendErr(errors.Wrap(err, "working dir"))
	} else {
		i.WorkingDir = updated
	}

	updated, err = expandArgs(lex, i.Base, args, allowArg)
	if err != nil {
		appendErr(errors.Wrap(err, "base"))
	} else {
		i.Base = updated
	}

	updated, err = expandArgs(lex, i.User, args, allowArg)
	if err != nil {
		appendErr(errors.Wrap(err, "user"))
	} else {
		i.User = updated
	}

	return goerrors.Join(errs...)
}

// MergeImageConfig copies the fields from the source [ImageConfig] into the destination [DockerImageConfig].
// If a field is not set in the source, it is not modified in the destination.
// Envs from [ImageConfig] are merged into the destination and take precedence.
func MergeImageConfig(dst *DockerImageConfig, src *ImageConfig) error {
	if src == nil {
		return nil
	}

	if src.Entrypoint != "" {
		split, err := shlex.Split(src.Entrypoint)
		if err != nil {
			return errors.Wrap(err, "error splitting entrypoint into args")
		}
		dst.Entrypoint = split
		// Reset cmd as this may be totally invalid now
		// This is the same behavior as the Dockerfile frontend
		dst.Cmd = nil
	}
	if src.Cmd != "" {
		split, err := shlex.Split(src.Cmd)
		if err != nil {
			return errors.Wrap(err, "error splitting cmd into args")
		}
		dst.Cmd = split
	}

	if len(src.Env) > 0 {
		// Env is append only
		// If the env var already exists, replace it
		envIdx := make(map[string]int)
		for i, env := range dst.Env {
			k, _, _ := strings.Cut(env, "=")
			envIdx[k] = i
		}

		for _, env := range src.Env {
			k, _, _ := strings.Cut(env, "=")
			if idx, ok := envIdx[k]; ok {
				dst.Env[idx] = env
			} else {
				dst.Env = append(dst.Env, env)
			}
		}
	}

	if len(src.Labels) > 0 {
		if dst.Labels == nil {
			dst.Labels = make(map[string]string, len(src.Labels))
		}
		for k, v := range src.Labels {
			dst.Labels[k] = v
		}
	}

	if len(src.Volumes) > 0 {
		if dst.Volumes == nil {
			dst.Volumes = make(map[string]struct{}, len(src.Volumes))
		}
		for k, v := range src.Volumes {
			dst.Volumes[k] = v
		}
	}

	if src.WorkingDir != "" {
		dst.WorkingDir = src.WorkingDir
	}
	if src.StopSignal != "" {
		dst.StopSignal = src.StopSignal
	}

	if src.User != "" {
		dst.User = src.User
	}

	return nil
}

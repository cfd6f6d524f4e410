//go:generate go run ./cmd/gen-jsonschema docs/spec.schema.json

package devrig

// Spec is the specification for a development environment image.
// It declares what gets layered onto a base image: a set of packages
// installed in a single package manager invocation, an optional
// non-root user, and the output image configuration.
type Spec struct {
	// Name is the name of the environment.
	Name string `yaml:"name" json:"name" jsonschema:"required"`
	// Description is a short description of the environment.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Website is the URL to store in the metadata of the image.
	Website string `yaml:"website,omitempty" json:"website,omitempty"`

	// Args is the list of arguments that can be used for shell-style expansion in (certain fields of) the spec.
	// Any arg supplied in the build request which does not appear in this list will cause an error.
	// Attempts to use an arg in the spec which is not specified here will assume to be a literal string.
	// The map value is the default value to use if the arg is not supplied in the build request.
	//
	// An arg may be declared and never referenced. Such an arg has no effect
	// on the build whatsoever, it is carried as declared-but-unused.
	Args map[string]string `yaml:"args,omitempty" json:"args,omitempty"`

	// Packages is the list of packages to install into the environment.
	// All packages are installed with a single package manager invocation
	// with recommended packages disabled.
	// A package may pin a version with the `name=version` form.
	Packages []string `yaml:"packages,omitempty" json:"packages,omitempty"`

	// User is the account to create in the environment after packages are
	// installed.
	// Creation is not idempotent: if the account already exists in the base
	// image the build fails.
	User *User `yaml:"user,omitempty" json:"user,omitempty"`

	// Image is the image configuration for the output image.
	// This is overwritten if specified in the target map for the requested distro.
	Image *ImageConfig `yaml:"image,omitempty" json:"image,omitempty"`

	// Targets is the list of distro-specific configuration overrides.
	// The map key is the build target (e.g. "jammy" or "bookworm").
	Targets map[string]Target `yaml:"targets,omitempty" json:"targets,omitempty"`

	// Tests are the list of tests to run against the built environment.
	// Each [TestSpec] is run with a separate rootfs, asynchronously from other [TestSpec].
	Tests []*TestSpec `yaml:"tests,omitempty" json:"tests,omitempty"`
}

// Target is a distro-specific override of the root spec configuration.
type Target struct {
	// Packages is the list of extra packages to install for this target only.
	// These are merged with the root package list into the same single
	// package manager invocation.
	Packages []string `yaml:"packages,omitempty" json:"packages,omitempty"`

	// User overrides the root user configuration for this target.
	User *User `yaml:"user,omitempty" json:"user,omitempty"`

	// Image overrides the root image configuration for this target.
	Image *ImageConfig `yaml:"image,omitempty" json:"image,omitempty"`

	// Tests are extra tests to run for this target only.
	Tests []*TestSpec `yaml:"tests,omitempty" json:"tests,omitempty"`
}

// GetPackages returns the full package list for the given target: the root
// package list plus any target-specific additions, deduplicated while
// preserving first-occurrence order.
func (s *Spec) GetPackages(targetKey string) []string {
	return dedupePackages(append(append([]string{}, s.Packages...), s.Targets[targetKey].Packages...))
}

// GetUser returns the user configuration for the given target.
// A target-level user replaces the root user entirely.
func (s *Spec) GetUser(targetKey string) *User {
	if u := s.Targets[targetKey].User; u != nil {
		return u
	}
	return s.User
}

// GetImage returns the image configuration for the given target.
// A target-level image replaces the root image configuration entirely.
func (s *Spec) GetImage(targetKey string) *ImageConfig {
	if img := s.Targets[targetKey].Image; img != nil {
		return img
	}
	return s.Image
}

// GetTests returns the tests for the given target, root tests first.
func (s *Spec) GetTests(targetKey string) []*TestSpec {
	ls := make([]*TestSpec, 0, len(s.Tests)+len(s.Targets[targetKey].Tests))
	ls = append(ls, s.Tests...)
	ls = append(ls, s.Targets[targetKey].Tests...)
	return ls
}

package devrig

import (
	goerrors "errors"
	"fmt"
	"regexp"
	"strings"
)

// packageNameRegexp matches valid apt package names per Debian policy:
// lowercase alphanumerics plus "+", "-", ".", at least two characters,
// starting with an alphanumeric.
var packageNameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]+$`)

// SplitPackagePin splits a package entry into its name and optional pinned
// version ("name=version" form).
func SplitPackagePin(pkg string) (name, version string) {
	name, version, _ = strings.Cut(pkg, "=")
	return name, version
}

func validatePackages(pkgs []string) error {
	var errs []error

	for _, pkg := range pkgs {
		name, version := SplitPackagePin(pkg)
		// Entries referencing a build arg are checked after substitution by
		// the package manager itself.
		if !strings.Contains(name, "$") && !packageNameRegexp.MatchString(name) {
			errs = append(errs, fmt.Errorf("invalid package name %q", name))
			continue
		}
		if strings.Contains(pkg, "=") && version == "" {
			errs = append(errs, fmt.Errorf("package %q pins an empty version", pkg))
		}
	}

	return goerrors.Join(errs...)
}

// dedupePackages removes duplicate entries while preserving the order of
// first occurrence. Two entries are duplicates when their package names
// match, regardless of version pin.
func dedupePackages(pkgs []string) []string {
	seen := make(map[string]struct{}, len(pkgs))
	out := make([]string, 0, len(pkgs))

	for _, pkg := range pkgs {
		name, _ := SplitPackagePin(pkg)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, pkg)
	}

	return out
}

// MergePackages merges multiple package lists into a single deduplicated
// list, preserving first-occurrence order across all inputs. This is used to
// combine distro base packages with the spec's package list so the install
// happens in one package manager invocation.
func MergePackages(lists ...[]string) []string {
	var merged []string
	for _, ls := range lists {
		merged = append(merged, ls...)
	}
	return dedupePackages(merged)
}

// HasPackage reports whether the list contains the named package, ignoring
// version pins.
func HasPackage(pkgs []string, name string) bool {
	for _, pkg := range pkgs {
		n, _ := SplitPackagePin(pkg)
		if n == name {
			return true
		}
	}
	return false
}

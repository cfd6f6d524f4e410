package devrig

import (
	goerrors "errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/shell"
	"github.com/pkg/errors"
)

const (
	// DefaultUserShell is the login shell assigned to created users when the
	// spec does not set one.
	DefaultUserShell = "/bin/bash"

	// maxUserNameLen is the useradd limit for account names.
	maxUserNameLen = 32
)

// userNameRegexp matches the account names useradd accepts on Debian-based
// distros.
var userNameRegexp = regexp.MustCompile(`^[a-z_][a-z0-9_-]*\$?$`)

// User describes an account to create in the environment.
//
// The account is created with useradd, which exits non-zero when the account
// already exists. There is deliberately no existence check before creation:
// re-running a provision against a rootfs that already has the account is a
// build failure.
type User struct {
	// Name is the account name.
	Name string `yaml:"name" json:"name" jsonschema:"required"`
	// Groups is the list of supplementary groups for the account.
	// The groups must already exist in the base image.
	Groups []string `yaml:"groups,omitempty" json:"groups,omitempty"`
	// Shell is the login shell for the account.
	// Defaults to /bin/bash.
	Shell string `yaml:"shell,omitempty" json:"shell,omitempty"`
	// UID is the numeric id to assign to the account.
	// When unset the id is chosen by useradd.
	UID *uint32 `yaml:"uid,omitempty" json:"uid,omitempty"`
	// NoCreateHome disables creation of the account's home directory.
	// By default the home directory is created.
	NoCreateHome bool `yaml:"no_create_home,omitempty" json:"no_create_home,omitempty"`
	// System marks the account as a system account.
	System bool `yaml:"system,omitempty" json:"system,omitempty"`
}

func (u *User) fillDefaults() {
	if u == nil {
		return
	}
	if u.Shell == "" {
		u.Shell = DefaultUserShell
	}
}

func (u *User) validate() error {
	if u == nil {
		return nil
	}

	var errs []error

	if u.Name == "" {
		errs = append(errs, fmt.Errorf("user name is required"))
	} else if !strings.Contains(u.Name, "$") {
		// Names referencing a build arg are checked by useradd after
		// substitution.
		if len(u.Name) > maxUserNameLen {
			errs = append(errs, fmt.Errorf("user name %q is longer than %d characters", u.Name, maxUserNameLen))
		}
		if !userNameRegexp.MatchString(u.Name) {
			errs = append(errs, fmt.Errorf("invalid user name %q", u.Name))
		}
	}

	for _, g := range u.Groups {
		if !strings.Contains(g, "$") && !userNameRegexp.MatchString(g) {
			errs = append(errs, fmt.Errorf("invalid group name %q for user %q", g, u.Name))
		}
	}

	if u.Shell != "" && !strings.HasPrefix(u.Shell, "/") {
		errs = append(errs, fmt.Errorf("user %q shell %q is not an absolute path", u.Name, u.Shell))
	}

	return goerrors.Join(errs...)
}

func (u *User) processBuildArgs(lex *shell.Lex, args map[string]string, allowArg func(string) bool) error {
	if u == nil {
		return nil
	}

	var errs []error

	updated, err := expandArgs(lex, u.Name, args, allowArg)
	if err != nil {
		errs = append(errs, errors.Wrap(err, "name"))
	} else {
		u.Name = updated
	}

	for i, g := range u.Groups {
		updated, err := expandArgs(lex, g, args, allowArg)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "group %s", g))
			continue
		}
		u.Groups[i] = updated
	}

	updated, err = expandArgs(lex, u.Shell, args, allowArg)
	if err != nil {
		errs = append(errs, errors.Wrap(err, "shell"))
	} else {
		u.Shell = updated
	}

	return goerrors.Join(errs...)
}

// UseraddArgs returns the useradd invocation that creates the account.
// The home directory is created unless NoCreateHome is set.
func (u *User) UseraddArgs() []string {
	args := []string{"useradd"}

	if !u.NoCreateHome {
		args = append(args, "-m")
	}
	if u.System {
		args = append(args, "-r")
	}
	if u.UID != nil {
		args = append(args, "-u", strconv.FormatUint(uint64(*u.UID), 10))
	}
	if u.Shell != "" {
		args = append(args, "-s", u.Shell)
	}
	if len(u.Groups) > 0 {
		args = append(args, "-G", strings.Join(u.Groups, ","))
	}

	return append(args, u.Name)
}

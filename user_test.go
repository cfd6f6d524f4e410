package devrig

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestUserValidate(t *testing.T) {
	uid := uint32(1000)

	cases := []struct {
		title     string
		user      *User
		expectErr bool
	}{
		{
			title: "nil user is valid",
			user:  nil,
		},
		{
			title: "name only",
			user:  &User{Name: "dev"},
		},
		{
			title:     "name is required",
			user:      &User{Groups: []string{"adm"}},
			expectErr: true,
		},
		{
			title: "full user",
			user: &User{
				Name:   "dev",
				Groups: []string{"adm", "users"},
				Shell:  "/bin/bash",
				UID:    &uid,
			},
		},
		{
			title:     "uppercase name is rejected",
			user:      &User{Name: "Dev"},
			expectErr: true,
		},
		{
			title:     "name with spaces is rejected",
			user:      &User{Name: "some user"},
			expectErr: true,
		},
		{
			title:     "name must not start with a digit",
			user:      &User{Name: "1dev"},
			expectErr: true,
		},
		{
			title: "underscore prefix is allowed",
			user:  &User{Name: "_dev"},
		},
		{
			title: "trailing dollar is allowed",
			user:  &User{Name: "dev$"},
		},
		{
			title:     "name longer than 32 chars is rejected",
			user:      &User{Name: strings.Repeat("a", 33)},
			expectErr: true,
		},
		{
			title:     "invalid group name",
			user:      &User{Name: "dev", Groups: []string{"ADMIN"}},
			expectErr: true,
		},
		{
			title:     "relative shell is rejected",
			user:      &User{Name: "dev", Shell: "bash"},
			expectErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.title, func(t *testing.T) {
			err := tc.user.validate()
			if tc.expectErr && err != nil {
				return
			}

			if err != nil {
				t.Fatal(err)
			}

			if tc.expectErr {
				t.Fatal("expected error, but received none")
			}
		})
	}
}

func TestUserFillDefaults(t *testing.T) {
	u := &User{Name: "dev"}
	u.fillDefaults()
	assert.Check(t, cmp.Equal(u.Shell, DefaultUserShell))

	u = &User{Name: "dev", Shell: "/bin/zsh"}
	u.fillDefaults()
	assert.Check(t, cmp.Equal(u.Shell, "/bin/zsh"))

	// must not panic
	var nilUser *User
	nilUser.fillDefaults()
}

func TestUseraddArgs(t *testing.T) {
	uid := uint32(1000)

	cases := []struct {
		title    string
		user     User
		expected []string
	}{
		{
			title:    "default has home creation",
			user:     User{Name: "dev"},
			expected: []string{"useradd", "-m", "dev"},
		},
		{
			title:    "no home creation",
			user:     User{Name: "dev", NoCreateHome: true},
			expected: []string{"useradd", "dev"},
		},
		{
			title:    "shell",
			user:     User{Name: "dev", Shell: "/bin/bash"},
			expected: []string{"useradd", "-m", "-s", "/bin/bash", "dev"},
		},
		{
			title:    "groups are a single comma separated flag",
			user:     User{Name: "dev", Groups: []string{"adm", "users"}},
			expected: []string{"useradd", "-m", "-G", "adm,users", "dev"},
		},
		{
			title:    "uid",
			user:     User{Name: "dev", UID: &uid},
			expected: []string{"useradd", "-m", "-u", "1000", "dev"},
		},
		{
			title:    "system account",
			user:     User{Name: "svc", System: true, NoCreateHome: true},
			expected: []string{"useradd", "-r", "svc"},
		},
		{
			title: "everything",
			user: User{
				Name:   "dev",
				Groups: []string{"adm", "users"},
				Shell:  "/bin/bash",
				UID:    &uid,
			},
			expected: []string{"useradd", "-m", "-u", "1000", "-s", "/bin/bash", "-G", "adm,users", "dev"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.title, func(t *testing.T) {
			assert.Check(t, cmp.DeepEqual(tc.user.UseraddArgs(), tc.expected))
		})
	}
}

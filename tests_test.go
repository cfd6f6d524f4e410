package devrig

import (
	"io/fs"
	"testing"

	"gotest.tools/v3/assert"
)

func TestCheckOutput(t *testing.T) {
	cases := []struct {
		title     string
		check     CheckOutput
		dt        string
		expectErr bool
	}{
		{
			title: "no checks always pass",
			dt:    "anything",
		},
		{
			title: "equals matches",
			check: CheckOutput{Equals: "hello\n"},
			dt:    "hello\n",
		},
		{
			title:     "equals mismatch",
			check:     CheckOutput{Equals: "hello\n"},
			dt:        "goodbye\n",
			expectErr: true,
		},
		{
			title: "contains all entries",
			check: CheckOutput{Contains: []string{"adm", "users"}},
			dt:    "dev adm users\n",
		},
		{
			title:     "contains missing entry",
			check:     CheckOutput{Contains: []string{"adm", "wheel"}},
			dt:        "dev adm users\n",
			expectErr: true,
		},
		{
			title: "matches regexp",
			check: CheckOutput{Matches: []string{`Status: install ok installed`}},
			dt:    "Package: curl\nStatus: install ok installed\n",
		},
		{
			title:     "matches failure",
			check:     CheckOutput{Matches: []string{`^nope$`}},
			dt:        "something else",
			expectErr: true,
		},
		{
			title: "starts with",
			check: CheckOutput{StartsWith: "Package:"},
			dt:    "Package: curl\n",
		},
		{
			title:     "starts with failure",
			check:     CheckOutput{StartsWith: "Status:"},
			dt:        "Package: curl\n",
			expectErr: true,
		},
		{
			title: "ends with",
			check: CheckOutput{EndsWith: "/bin/bash\n"},
			dt:    "dev:x:1000:1000::/home/dev:/bin/bash\n",
		},
		{
			title: "empty passes on empty output",
			check: CheckOutput{Empty: true},
			dt:    "",
		},
		{
			title:     "empty fails on output",
			check:     CheckOutput{Empty: true},
			dt:        "oops",
			expectErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.title, func(t *testing.T) {
			err := tc.check.Check(tc.dt, "stdout")
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

func TestCheckOutputIsEmpty(t *testing.T) {
	assert.Check(t, CheckOutput{}.IsEmpty())
	assert.Check(t, !CheckOutput{Equals: "x"}.IsEmpty())
	assert.Check(t, !CheckOutput{Contains: []string{"x"}}.IsEmpty())
	assert.Check(t, !CheckOutput{Matches: []string{"x"}}.IsEmpty())
	assert.Check(t, !CheckOutput{StartsWith: "x"}.IsEmpty())
	assert.Check(t, !CheckOutput{EndsWith: "x"}.IsEmpty())
	assert.Check(t, !CheckOutput{Empty: true}.IsEmpty())
}

func TestFileCheckOutput(t *testing.T) {
	t.Run("mode checks", func(t *testing.T) {
		check := FileCheckOutput{Permissions: 0o644}
		assert.NilError(t, check.Check("", fs.FileMode(0o644), false, "/etc/foo"))

		err := check.Check("", fs.FileMode(0o600), false, "/etc/foo")
		assert.Assert(t, err != nil, "expected permissions mismatch to error")
	})

	t.Run("dir checks", func(t *testing.T) {
		check := FileCheckOutput{IsDir: true}
		assert.NilError(t, check.Check("", fs.ModeDir|0o755, true, "/etc"))

		err := check.Check("", fs.FileMode(0o644), false, "/etc")
		assert.Assert(t, err != nil, "expected file to fail dir check")

		check = FileCheckOutput{}
		err = check.Check("", fs.ModeDir|0o755, true, "/etc")
		assert.Assert(t, err != nil, "expected dir to fail file check")
	})

	t.Run("contents are checked through the embedded check", func(t *testing.T) {
		check := FileCheckOutput{CheckOutput: CheckOutput{Contains: []string{"BEGIN CERTIFICATE"}}}
		assert.NilError(t, check.Check("-----BEGIN CERTIFICATE-----", fs.FileMode(0o644), false, "/etc/ssl/certs/ca-certificates.crt"))

		err := check.Check("", fs.FileMode(0o644), false, "/etc/ssl/certs/ca-certificates.crt")
		assert.Assert(t, err != nil, "expected missing contents to error")
	})
}

func TestTestSpecValidate(t *testing.T) {
	cases := []struct {
		title     string
		test      *TestSpec
		expectErr bool
	}{
		{
			title: "steps and files",
			test: &TestSpec{
				Name: "basic",
				Steps: []TestStep{
					{Command: "id -nG dev"},
				},
				Files: map[string]FileCheckOutput{
					"/etc/passwd": {CheckOutput: CheckOutput{Contains: []string{"dev"}}},
				},
			},
		},
		{
			title:     "name is required",
			test:      &TestSpec{Steps: []TestStep{{Command: ":"}}},
			expectErr: true,
		},
		{
			title:     "step command is required",
			test:      &TestSpec{Name: "basic", Steps: []TestStep{{}}},
			expectErr: true,
		},
		{
			title: "invalid stdout regexp",
			test: &TestSpec{
				Name: "basic",
				Steps: []TestStep{
					{Command: ":", Stdout: CheckOutput{Matches: []string{"[unclosed"}}},
				},
			},
			expectErr: true,
		},
		{
			title: "not_exist with content checks",
			test: &TestSpec{
				Name: "basic",
				Files: map[string]FileCheckOutput{
					"/etc/foo": {NotExist: true, CheckOutput: CheckOutput{Equals: "x"}},
				},
			},
			expectErr: true,
		},
		{
			title: "not_exist alone",
			test: &TestSpec{
				Name: "basic",
				Files: map[string]FileCheckOutput{
					"/etc/foo": {NotExist: true},
				},
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.title, func(t *testing.T) {
			err := tc.test.validate()
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

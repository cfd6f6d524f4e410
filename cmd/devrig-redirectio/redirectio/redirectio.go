// Package redirectio redirects stdio to the files named by the STDIN_FILE,
// STDOUT_FILE and STDERR_FILE environment variables, then execs the given
// command. The helper is shipped at /devrig-redirectio in the frontend image
// and mounted into test containers so step output can be captured as regular
// files without requiring a shell in the image.
package redirectio

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Main never returns: it either execs the command or exits non-zero.
func Main(args []string) {
	if len(args) < 1 {
		fatal(fmt.Errorf("usage: %s command [args...]", os.Args[0]))
	}

	if err := redirect("STDIN_FILE", 0, os.O_RDONLY); err != nil {
		fatal(err)
	}
	if err := redirect("STDOUT_FILE", 1, os.O_WRONLY); err != nil {
		fatal(err)
	}
	if err := redirect("STDERR_FILE", 2, os.O_WRONLY); err != nil {
		fatal(err)
	}

	cmd, err := exec.LookPath(args[0])
	if err != nil {
		fatal(err)
	}

	if err := unix.Exec(cmd, args, os.Environ()); err != nil {
		fatal(fmt.Errorf("%q: %w", strings.Join(args, " "), err))
	}
}

func redirect(envKey string, fd int, flag int) error {
	p := os.Getenv(envKey)
	if p == "" {
		return nil
	}

	f, err := os.OpenFile(p, flag, 0)
	if err != nil {
		return fmt.Errorf("%q: %w", p, err)
	}
	os.Unsetenv(envKey)

	return unix.Dup2(int(f.Fd()), fd)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

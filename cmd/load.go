package cmd

import (
	"os"
	"path/filepath"

	"github.com/moby/buildkit/client/llb"
)

// CurrentFrontendKey is the local input that carries the running frontend
// binary when builds are driven in-process (see cmd/localbuild).
const CurrentFrontendKey = "devrig-current-frontend"

// CurrentFrontend returns a state with the running binary at
// /devrig-redirectio, the same place the frontend image ships the stdio
// helper.
func CurrentFrontend() (*llb.State, error) {
	filename := filepath.Base(os.Args[0])
	base := llb.Local(CurrentFrontendKey, llb.IncludePatterns([]string{filename}))

	st := llb.Scratch().File(llb.Copy(base, filename, "/devrig-redirectio"))
	return &st, nil
}

package devrig

import (
	"context"
	"io"
	"io/fs"
	"path"
	"sync"

	"github.com/moby/buildkit/client/llb"
	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	"github.com/tonistiigi/fsutil"
	"github.com/tonistiigi/fsutil/types"
)

var (
	_ fs.DirEntry  = (*stateRefDirEntry)(nil)
	_ fs.ReadDirFS = (*StateRefFS)(nil)
)

// StateRefFS exposes a solved [llb.State] as an [fs.FS].
// The state is solved lazily on first use and the resulting ref is cached
// for the lifetime of the FS.
type StateRefFS struct {
	st     llb.State
	ctx    context.Context
	opts   []llb.ConstraintsOpt
	client gwclient.Client

	o       sync.Once
	ref     gwclient.Reference
	initErr error
}

func NewStateRefFS(ctx context.Context, client gwclient.Client, st llb.State, opts ...llb.ConstraintsOpt) *StateRefFS {
	return &StateRefFS{
		st:     st,
		ctx:    ctx,
		opts:   opts,
		client: client,
	}
}

func (s *StateRefFS) fetchRef() (gwclient.Reference, error) {
	def, err := s.st.Marshal(s.ctx, s.opts...)
	if err != nil {
		return nil, err
	}

	// Evaluate so that errors in the state surface here rather than from
	// whichever read happens to come first.
	res, err := s.client.Solve(s.ctx, gwclient.SolveRequest{
		Definition: def.ToPB(),
		Evaluate:   true,
	})
	if err != nil {
		return nil, err
	}

	return res.SingleRef()
}

// Ref returns the solved ref backing the FS.
func (s *StateRefFS) Ref() (gwclient.Reference, error) {
	s.o.Do(func() {
		s.ref, s.initErr = s.fetchRef()
	})

	return s.ref, s.initErr
}

type stateRefDirEntry struct {
	stat *types.Stat
}

func (s *stateRefDirEntry) Name() string {
	return path.Base(s.stat.Path)
}

func (s *stateRefDirEntry) IsDir() bool {
	return s.stat.IsDir()
}

func (s *stateRefDirEntry) Type() fs.FileMode {
	return fs.FileMode(s.stat.Mode)
}

func (s *stateRefDirEntry) Info() (fs.FileInfo, error) {
	return &fsutil.StatInfo{Stat: s.stat}, nil
}

func (s *StateRefFS) ReadDir(name string) ([]fs.DirEntry, error) {
	ref, err := s.Ref()
	if err != nil {
		return nil, err
	}

	contents, err := ref.ReadDir(s.ctx, gwclient.ReadDirRequest{
		Path: name,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]fs.DirEntry, 0, len(contents))
	for _, stat := range contents {
		entries = append(entries, &stateRefDirEntry{stat: stat})
	}

	return entries, nil
}

type stateRefFile struct {
	path   string
	ref    gwclient.Reference
	ctx    context.Context
	stat   *types.Stat
	offset int64
	eof    bool
}

// Close is a no-op, there is nothing to release.
func (f *stateRefFile) Close() error {
	return nil
}

func (f *stateRefFile) Read(b []byte) (int, error) {
	if f.eof {
		return 0, io.EOF
	}

	segment, err := f.ref.ReadFile(f.ctx, gwclient.ReadRequest{
		Filename: f.path,
		Range:    &gwclient.FileRange{Offset: int(f.offset), Length: len(b)},
	})
	if err != nil {
		return 0, err
	}

	f.offset += int64(len(segment))
	if f.offset >= f.stat.Size_ {
		f.eof = true
		err = io.EOF
	}

	n := copy(b, segment)
	return n, err
}

func (f *stateRefFile) Stat() (fs.FileInfo, error) {
	return &fsutil.StatInfo{Stat: f.stat}, nil
}

func (s *StateRefFS) Open(name string) (fs.File, error) {
	ref, err := s.Ref()
	if err != nil {
		return nil, err
	}

	stat, err := ref.StatFile(s.ctx, gwclient.StatRequest{
		Path: name,
	})
	if err != nil {
		return nil, err
	}

	return &stateRefFile{
		path: name,
		ref:  ref,
		stat: stat,
		ctx:  s.ctx,
	}, nil
}

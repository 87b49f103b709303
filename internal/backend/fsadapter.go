package backend

import (
	"context"

	"github.com/agentfs/workspaced/internal/transport"
)

// AsFilesystem adapts a Backend to transport.Filesystem, so the daemon's
// /ssh route can route exec and SFTP requests through the same
// containment, classification, and isolation rules every other entry
// point uses instead of touching the OS filesystem directly.
func AsFilesystem(b Backend) transport.Filesystem {
	return filesystemAdapter{b}
}

type filesystemAdapter struct {
	backend Backend
}

func (a filesystemAdapter) RootDir() string {
	return a.backend.RootDir()
}

func (a filesystemAdapter) Read(ctx context.Context, path string) ([]byte, error) {
	return a.backend.Read(ctx, path)
}

func (a filesystemAdapter) Write(ctx context.Context, path string, data []byte) error {
	return a.backend.Write(ctx, path, data)
}

func (a filesystemAdapter) ReaddirStat(ctx context.Context, path string) ([]transport.FileStat, error) {
	entries, err := a.backend.ReaddirWithStats(ctx, path)
	if err != nil {
		return nil, err
	}
	out := make([]transport.FileStat, len(entries))
	for i, e := range entries {
		out[i] = transport.FileStat{
			Name:    e.Name,
			Size:    e.Stat.Size,
			Mode:    e.Stat.Mode,
			IsDir:   e.Stat.IsDir,
			ModTime: e.Stat.ModTime,
		}
	}
	return out, nil
}

func (a filesystemAdapter) Mkdir(ctx context.Context, path string, recursive bool) error {
	return a.backend.Mkdir(ctx, path, recursive)
}

func (a filesystemAdapter) Rename(ctx context.Context, oldPath, newPath string) error {
	return a.backend.Rename(ctx, oldPath, newPath)
}

func (a filesystemAdapter) Remove(ctx context.Context, path string, recursive bool) error {
	return a.backend.Rm(ctx, path, RmOptions{Recursive: recursive, Force: recursive})
}

func (a filesystemAdapter) Stat(ctx context.Context, path string) (transport.FileStat, error) {
	st, err := a.backend.Stat(ctx, path)
	if err != nil {
		return transport.FileStat{}, err
	}
	return transport.FileStat{
		Size:    st.Size,
		Mode:    st.Mode,
		IsDir:   st.IsDir,
		ModTime: st.ModTime,
	}, nil
}

func (a filesystemAdapter) Exec(ctx context.Context, command string, opts transport.FSExecOptions) (transport.FSExecResult, error) {
	result, err := a.backend.Exec(ctx, command, ExecOptions{
		Cwd:              opts.Cwd,
		Env:              opts.Env,
		Timeout:          opts.Timeout,
		PreventDangerous: opts.PreventDangerous,
	})
	if err != nil {
		return transport.FSExecResult{}, err
	}
	return transport.FSExecResult{
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
	}, nil
}

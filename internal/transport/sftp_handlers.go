package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
)

// newSFTPHandlers builds an sftp.Handlers that serves requests against fs
// instead of the OS filesystem, so an /ssh SFTP session is bound by the
// same containment and classification rules as every other backend caller.
func newSFTPHandlers(ctx context.Context, fs Filesystem) sftp.Handlers {
	h := &fsHandlers{ctx: ctx, fs: fs}
	return sftp.Handlers{
		FileGet:  h,
		FilePut:  h,
		FileCmd:  h,
		FileList: h,
	}
}

// newSFTPRequestServer builds a request-level sftp.RequestServer bound to
// fs, in place of pkg/sftp's high-level NewServer which serves the OS
// filesystem directly and has no chroot.
func newSFTPRequestServer(ctx context.Context, rwc io.ReadWriteCloser, fs Filesystem) *sftp.RequestServer {
	return sftp.NewRequestServer(rwc, newSFTPHandlers(ctx, fs))
}

type fsHandlers struct {
	ctx context.Context
	fs  Filesystem
}

func (h *fsHandlers) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	data, err := h.fs.Read(h.ctx, r.Filepath)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (h *fsHandlers) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	return &bufferedWriterAt{ctx: h.ctx, fs: h.fs, path: r.Filepath}, nil
}

func (h *fsHandlers) Filecmd(r *sftp.Request) error {
	switch r.Method {
	case "Rename":
		return h.fs.Rename(h.ctx, r.Filepath, r.Target)
	case "Rmdir":
		return h.fs.Remove(h.ctx, r.Filepath, true)
	case "Remove":
		return h.fs.Remove(h.ctx, r.Filepath, false)
	case "Mkdir":
		return h.fs.Mkdir(h.ctx, r.Filepath, true)
	case "Setstat":
		// No chmod/chtimes surface on Filesystem; accept and no-op.
		return nil
	default:
		return fmt.Errorf("unsupported sftp command %q", r.Method)
	}
}

func (h *fsHandlers) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	switch r.Method {
	case "List":
		entries, err := h.fs.ReaddirStat(h.ctx, r.Filepath)
		if err != nil {
			return nil, err
		}
		infos := make([]os.FileInfo, len(entries))
		for i, e := range entries {
			infos[i] = fileStatInfo(e)
		}
		return listerAt(infos), nil
	case "Stat", "Lstat":
		st, err := h.fs.Stat(h.ctx, r.Filepath)
		if err != nil {
			return nil, err
		}
		st.Name = path.Base(r.Filepath)
		return listerAt([]os.FileInfo{fileStatInfo(st)}), nil
	default:
		return nil, fmt.Errorf("unsupported sftp list method %q", r.Method)
	}
}

// bufferedWriterAt accumulates WriteAt calls into memory and commits the
// whole file with one Filesystem.Write on Close, since Filesystem has no
// streaming write (matching Backend.Write's whole-file contract).
type bufferedWriterAt struct {
	ctx  context.Context
	fs   Filesystem
	path string

	mu  sync.Mutex
	buf []byte
}

func (w *bufferedWriterAt) WriteAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	end := int(off) + len(p)
	if end > len(w.buf) {
		grown := make([]byte, end)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[off:], p)
	return len(p), nil
}

func (w *bufferedWriterAt) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fs.Write(w.ctx, w.path, w.buf)
}

type listerAt []os.FileInfo

func (l listerAt) ListAt(dst []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(dst, l[offset:])
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}

// fsFileInfo adapts a FileStat to os.FileInfo for pkg/sftp's directory
// listing and stat replies.
type fsFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func fileStatInfo(s FileStat) os.FileInfo {
	mode := os.FileMode(s.Mode)
	if s.IsDir {
		mode |= os.ModeDir
	}
	return fsFileInfo{name: s.Name, size: s.Size, mode: mode, modTime: s.ModTime, isDir: s.IsDir}
}

func (f fsFileInfo) Name() string       { return f.name }
func (f fsFileInfo) Size() int64        { return f.size }
func (f fsFileInfo) Mode() os.FileMode  { return f.mode }
func (f fsFileInfo) ModTime() time.Time { return f.modTime }
func (f fsFileInfo) IsDir() bool        { return f.isDir }
func (f fsFileInfo) Sys() any           { return nil }

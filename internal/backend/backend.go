// Package backend implements the three concrete workspace backends — local
// filesystem, remote filesystem over the SSH/WebSocket transport, and an
// in-memory key/value store — behind one shared interface (spec.md §3,
// §4.4, §4.5, §4.7).
package backend

import (
	"context"
	"time"
)

// Kind identifies which concrete backend an instance is.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
	KindMemory Kind = "memory"
)

// Status mirrors the states a backend's connection can be in.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
	StatusDestroyed    Status = "destroyed"
)

// Stat is the metadata record returned by Stat calls.
type Stat struct {
	Size    int64
	Mode    uint32
	IsDir   bool
	ModTime time.Time
	ATime   time.Time
	CTime   time.Time
}

// DirEntry is one entry returned by Readdir-with-stats.
type DirEntry struct {
	Name string
	Stat Stat
}

// ExecOptions carries the optional inputs to Exec.
type ExecOptions struct {
	Cwd              string
	Env              map[string]string
	Timeout          time.Duration
	Sudo             bool
	SudoPassword     string
	Encoding         string // "utf8" (default) or "buffer"
	MaxOutputLength  int    // 0 = backend default
	PreventDangerous bool
	OnDangerous      func(command string)
}

// ExecResult is the outcome of Exec.
type ExecResult struct {
	Stdout     string
	StdoutData []byte
	Stderr     string
	ExitCode   int
	DurationMs int64
	Truncated  bool
}

// RmOptions carries the optional inputs to Rm.
type RmOptions struct {
	Recursive bool
	Force     bool
}

// Backend is the filesystem-plus-exec contract shared by every concrete
// implementation, and by the scoped decorator in package scope.
type Backend interface {
	Kind() Kind
	RootDir() string
	Status() Status

	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Readdir(ctx context.Context, path string) ([]string, error)
	ReaddirWithStats(ctx context.Context, path string) ([]DirEntry, error)
	Mkdir(ctx context.Context, path string, recursive bool) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Rm(ctx context.Context, path string, opts RmOptions) error
	Stat(ctx context.Context, path string) (Stat, error)
	Exists(ctx context.Context, path string) (bool, error)
	Touch(ctx context.Context, path string) error

	Exec(ctx context.Context, command string, opts ExecOptions) (ExecResult, error)

	Destroy(ctx context.Context) error
}

// ExecCapable is implemented by backends that genuinely support Exec,
// per spec.md §9's guidance to model capability detection as a trait bound
// rather than a runtime method-presence check. MemoryBackend deliberately
// does not implement this even though it has an Exec method (which always
// fails not-implemented), so the MCP adapter's capability detection sees
// it as non-executable.
type ExecCapable interface {
	Backend
	CanExec() bool
}

package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"

	"github.com/agentfs/workspaced/internal/errtag"
	"github.com/agentfs/workspaced/internal/pathutil"
	"github.com/agentfs/workspaced/internal/security"
	"github.com/agentfs/workspaced/internal/status"
	"github.com/agentfs/workspaced/internal/transport"
)

// ReconnectPolicy governs RemoteBackend's backoff behavior, per spec.md
// §4.7.
type ReconnectPolicy struct {
	Initial          time.Duration
	Multiplier       float64
	Max              time.Duration
	MaxRetries       int // 0 = infinite
	OperationTimeout time.Duration
	Enabled          bool
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.Initial == 0 {
		p.Initial = 500 * time.Millisecond
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2
	}
	if p.Max == 0 {
		p.Max = 30 * time.Second
	}
	if p.OperationTimeout == 0 {
		p.OperationTimeout = 10 * time.Second
	}
	return p
}

// RemoteOptions configures a RemoteBackend.
type RemoteOptions struct {
	RootDir          string
	Transport        transport.ClientConfig
	Reconnect        ReconnectPolicy
	PreventDangerous bool
	AllowSudo        bool
	Filter           *security.Filter
}

// RemoteBackend turns a client-side SSH/SFTP session into the Backend
// interface, per spec.md §4.7. Connection is lazy: the first method call
// triggers transport.Connect.
type RemoteBackend struct {
	rootDir string
	policy  ReconnectPolicy

	client *transport.Client

	prevent   bool
	allowSudo bool
	filter    *security.Filter

	mu          sync.Mutex
	connectOnce sync.Once
	connectErr  error
	destroyed   bool
}

// NewRemoteBackend constructs a RemoteBackend. No network I/O happens until
// the first operation.
func NewRemoteBackend(opts RemoteOptions) *RemoteBackend {
	return &RemoteBackend{
		rootDir:   opts.RootDir,
		policy:    opts.Reconnect.withDefaults(),
		client:    transport.NewClient(opts.Transport),
		prevent:   opts.PreventDangerous,
		allowSudo: opts.AllowSudo,
		filter:    opts.Filter,
	}
}

func (b *RemoteBackend) Kind() Kind      { return KindRemote }
func (b *RemoteBackend) RootDir() string { return b.rootDir }

func (b *RemoteBackend) Status() Status {
	switch b.client.Status().Current() {
	case status.Connecting:
		return StatusConnecting
	case status.Connected:
		return StatusConnected
	case status.Reconnecting:
		return StatusReconnecting
	case status.Destroyed:
		return StatusDestroyed
	default:
		return StatusDisconnected
	}
}

func (b *RemoteBackend) CanExec() bool { return true }

// ensureConnected lazily dials on first use, then reconnects with backoff on
// subsequent failures per the state machine in spec.md §4.7.
func (b *RemoteBackend) ensureConnected(ctx context.Context) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return errtag.New(errtag.InvalidState, "backend destroyed")
	}
	b.mu.Unlock()

	if b.client.Connected() {
		return nil
	}

	return b.reconnect(ctx)
}

func (b *RemoteBackend) reconnect(ctx context.Context) error {
	if !b.policy.Enabled {
		return b.client.Connect(ctx)
	}

	b.client.Status().SetStatus(status.Reconnecting, nil)

	delay := b.policy.Initial
	attempt := 0
	deadline := time.Now().Add(b.policy.OperationTimeout)

	for {
		attempt++
		err := b.client.Connect(ctx)
		if err == nil {
			return nil
		}

		if b.policy.MaxRetries > 0 && attempt >= b.policy.MaxRetries {
			return errtag.Wrap(errtag.Timeout, "reconnection attempts exhausted", err)
		}
		if time.Now().After(deadline) {
			return errtag.Wrap(errtag.Timeout, "reconnection deadline exceeded", err)
		}

		select {
		case <-ctx.Done():
			return errtag.Wrap(errtag.Timeout, "reconnection cancelled", ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * b.policy.Multiplier)
		if delay > b.policy.Max {
			delay = b.policy.Max
		}
	}
}

func (b *RemoteBackend) sftpClient(ctx context.Context) (*sftp.Client, error) {
	if err := b.ensureConnected(ctx); err != nil {
		return nil, err
	}
	c, err := b.client.SFTP()
	if err != nil {
		// The cached session may be stale after a silent drop; invalidate
		// and retry once via reconnection. Disconnect drops the SSH client
		// too, so the reconnect below really dials again.
		_ = b.client.Disconnect()
		if rerr := b.reconnect(ctx); rerr != nil {
			return nil, rerr
		}
		return b.client.SFTP()
	}
	return c, nil
}

func (b *RemoteBackend) resolve(p string) (string, error) {
	return pathutil.ResolveWithin(b.rootDir, p)
}

func (b *RemoteBackend) Read(ctx context.Context, p string) ([]byte, error) {
	abs, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	sc, err := b.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	f, err := sc.Open(abs)
	if err != nil {
		return nil, errtag.Wrap(errtag.ReadFailed, abs, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errtag.Wrap(errtag.ReadFailed, abs, err)
	}
	return data, nil
}

func (b *RemoteBackend) Write(ctx context.Context, p string, data []byte) error {
	abs, err := b.resolve(p)
	if err != nil {
		return err
	}
	sc, err := b.sftpClient(ctx)
	if err != nil {
		return err
	}
	if err := sc.MkdirAll(path.Dir(abs)); err != nil {
		return errtag.Wrap(errtag.WriteFailed, abs, err)
	}
	f, err := sc.Create(abs)
	if err != nil {
		return errtag.Wrap(errtag.WriteFailed, abs, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return errtag.Wrap(errtag.WriteFailed, abs, err)
	}
	return nil
}

func (b *RemoteBackend) Readdir(ctx context.Context, p string) ([]string, error) {
	abs, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	sc, err := b.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := sc.ReadDir(abs)
	if err != nil {
		return nil, errtag.Wrap(errtag.LsFailed, abs, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (b *RemoteBackend) ReaddirWithStats(ctx context.Context, p string) ([]DirEntry, error) {
	abs, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	sc, err := b.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := sc.ReadDir(abs)
	if err != nil {
		return nil, errtag.Wrap(errtag.LsFailed, abs, err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), Stat: toStat(e)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *RemoteBackend) Mkdir(ctx context.Context, p string, recursive bool) error {
	abs, err := b.resolve(p)
	if err != nil {
		return err
	}
	sc, err := b.sftpClient(ctx)
	if err != nil {
		return err
	}
	if recursive {
		err = sc.MkdirAll(abs)
	} else {
		err = sc.Mkdir(abs)
	}
	if err != nil {
		return errtag.Wrap(errtag.WriteFailed, abs, err)
	}
	return nil
}

func (b *RemoteBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	absOld, err := b.resolve(oldPath)
	if err != nil {
		return err
	}
	absNew, err := b.resolve(newPath)
	if err != nil {
		return err
	}
	sc, err := b.sftpClient(ctx)
	if err != nil {
		return err
	}
	if err := sc.Rename(absOld, absNew); err != nil {
		return errtag.Wrap(errtag.WriteFailed, absOld, err)
	}
	return nil
}

func (b *RemoteBackend) Rm(ctx context.Context, p string, opts RmOptions) error {
	abs, err := b.resolve(p)
	if err != nil {
		return err
	}
	sc, err := b.sftpClient(ctx)
	if err != nil {
		return err
	}

	if opts.Recursive {
		err = sc.RemoveAll(abs)
	} else {
		err = sc.Remove(abs)
	}
	if err != nil {
		if os.IsNotExist(err) && opts.Force {
			return nil
		}
		return errtag.Wrap(errtag.WriteFailed, abs, err)
	}
	return nil
}

func (b *RemoteBackend) Stat(ctx context.Context, p string) (Stat, error) {
	abs, err := b.resolve(p)
	if err != nil {
		return Stat{}, err
	}
	sc, err := b.sftpClient(ctx)
	if err != nil {
		return Stat{}, err
	}
	info, err := sc.Stat(abs)
	if err != nil {
		return Stat{}, errtag.Wrap(errtag.ReadFailed, abs, err)
	}
	return toStat(info), nil
}

func (b *RemoteBackend) Exists(ctx context.Context, p string) (bool, error) {
	abs, err := b.resolve(p)
	if err != nil {
		return false, err
	}
	sc, err := b.sftpClient(ctx)
	if err != nil {
		return false, err
	}
	_, err = sc.Stat(abs)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errtag.Wrap(errtag.ReadFailed, abs, err)
}

func (b *RemoteBackend) Touch(ctx context.Context, p string) error {
	abs, err := b.resolve(p)
	if err != nil {
		return err
	}
	sc, err := b.sftpClient(ctx)
	if err != nil {
		return err
	}
	if err := sc.MkdirAll(path.Dir(abs)); err != nil {
		return errtag.Wrap(errtag.WriteFailed, abs, err)
	}
	if _, err := sc.Stat(abs); err == nil {
		now := time.Now()
		return sc.Chtimes(abs, now, now)
	}
	f, err := sc.Create(abs)
	if err != nil {
		return errtag.Wrap(errtag.WriteFailed, abs, err)
	}
	return f.Close()
}

// Exec wraps the command so env and cwd are enforced without relying on
// SFTP-level cwd, per spec.md §4.7: HOME='<cwd>' [VAR='val'...] cd '<cwd>'
// && <command>.
func (b *RemoteBackend) Exec(ctx context.Context, command string, opts ExecOptions) (ExecResult, error) {
	if strings.TrimSpace(command) == "" {
		return ExecResult{}, errtag.New(errtag.EmptyCommand, "command is empty")
	}

	cwd := b.rootDir
	if opts.Cwd != "" {
		resolved, err := b.resolve(opts.Cwd)
		if err != nil {
			return ExecResult{}, err
		}
		cwd = resolved
	}

	preventDangerous := opts.PreventDangerous || b.prevent
	class := security.Classify(command)
	switch class {
	case security.ClassUnsafe:
		return ExecResult{}, errtag.New(errtag.UnsafeCommand, "command failed safety parsing")
	case security.ClassDangerous:
		if preventDangerous {
			if opts.OnDangerous != nil {
				opts.OnDangerous(command)
				return ExecResult{}, nil
			}
			return ExecResult{}, errtag.New(errtag.DangerousOperation, "command classified as dangerous")
		}
	}

	if b.filter != nil {
		if err := b.filter.AllowCommand(command); err != nil {
			return ExecResult{}, errtag.Wrap(errtag.DangerousOperation, "command denied by policy", err)
		}
	}

	if err := security.ValidateEnv(opts.Env); err != nil {
		return ExecResult{}, errtag.Wrap(errtag.UnsafeCommand, "invalid env", err)
	}

	if opts.Sudo && !b.allowSudo {
		return ExecResult{}, errtag.New(errtag.DangerousOperation, "sudo execution is disabled (start with --enable-sudo to allow it)")
	}

	if err := b.ensureConnected(ctx); err != nil {
		return ExecResult{}, err
	}

	execCmd := command
	if opts.Sudo {
		execCmd = fmt.Sprintf("sudo -S sh -c %s", shellQuote(command))
	}

	wrapped := wrapRemoteCommand(cwd, opts.Env, execCmd)

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	start := time.Now()
	result, err := b.client.Exec(ctx, wrapped, timeout)
	if err != nil {
		return ExecResult{}, err
	}

	if result.Code != 0 {
		return ExecResult{}, errtag.New(errtag.ExecFailed,
			fmt.Sprintf("command exited %d: %s", result.Code, truncateTail(result.Stderr, 4096)))
	}

	return ExecResult{
		Stdout:     strings.TrimSpace(result.Stdout),
		Stderr:     strings.TrimSpace(result.Stderr),
		ExitCode:   result.Code,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func wrapRemoteCommand(cwd string, env map[string]string, command string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "HOME=%s ", shellQuote(cwd))
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if isProtectedVar(k) {
			continue
		}
		fmt.Fprintf(&b, "%s=%s ", k, shellQuote(env[k]))
	}
	fmt.Fprintf(&b, "cd %s && %s", shellQuote(cwd), command)
	return b.String()
}

func (b *RemoteBackend) Destroy(ctx context.Context) error {
	b.mu.Lock()
	b.destroyed = true
	b.mu.Unlock()
	err := b.client.Disconnect()
	b.client.Status().SetStatus(status.Destroyed, nil)
	return err
}

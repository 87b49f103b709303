// Package scope implements the scoped-backend decorator (spec.md §4.8): a
// wrapper that restricts any backend.Backend to a sub-path, overlays env and
// a cwd, supports nesting, and tracks its children on the parent.
package scope

import (
	"context"
	"path"
	"sync"

	"github.com/agentfs/workspaced/internal/backend"
	"github.com/agentfs/workspaced/internal/errtag"
	"github.com/agentfs/workspaced/internal/pathutil"
)

// parent is the subset of backend.Backend plus child-tracking that a Scope
// needs from whatever it wraps — either a concrete backend.Backend or
// another *Scope.
type parent interface {
	backend.Backend
	registerChild(child *Scope)
	unregisterChild(child *Scope)
}

// Scope wraps a backend (or another Scope) with a sub-path and optional
// env/cwd overlays. Public surface mirrors backend.Backend.
type Scope struct {
	parentBackend parent
	scopePath     string // relative to parentBackend.RootDir(), validated at construction
	rootDir       string
	env           map[string]string

	mu       sync.Mutex
	children map[*Scope]struct{}
	status   backend.Status
}

// New wraps root with a sub-path, validated against root's own root dir.
func New(root backend.Backend, subPath string, env map[string]string) (*Scope, error) {
	p, err := asParent(root)
	if err != nil {
		return nil, err
	}
	resolved, err := pathutil.ResolveWithin(p.RootDir(), subPath)
	if err != nil {
		return nil, err
	}
	rel := pathutil.Rel(p.RootDir(), resolved)

	s := &Scope{
		parentBackend: p,
		scopePath:     rel,
		rootDir:       resolved,
		env:           cloneEnv(env),
		children:      make(map[*Scope]struct{}),
		status:        backend.StatusConnected,
	}
	p.registerChild(s)
	return s, nil
}

// asParent adapts a backend.Backend into the parent interface this package
// needs, wrapping it in a lightweight child-tracker the first time a Scope
// is created on top of it.
func asParent(b backend.Backend) (parent, error) {
	if p, ok := b.(parent); ok {
		return p, nil
	}
	return newRootAdapter(b), nil
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

func (s *Scope) Kind() backend.Kind  { return s.parentBackend.Kind() }
func (s *Scope) RootDir() string     { return s.rootDir }

// Status is read dynamically from the parent, per spec.md §3, except once
// this scope itself has been destroyed.
func (s *Scope) Status() backend.Status {
	s.mu.Lock()
	destroyed := s.status == backend.StatusDestroyed
	s.mu.Unlock()
	if destroyed {
		return backend.StatusDestroyed
	}
	return s.parentBackend.Status()
}

func (s *Scope) checkAlive() error {
	if s.Status() == backend.StatusDestroyed {
		return errtag.New(errtag.InvalidState, "scope destroyed")
	}
	return nil
}

// rewrite lexically prefixes a caller path with scopePath and validates the
// result against the parent's root before it reaches the parent; a parent
// that is itself a Scope validates again on its own way up.
func (s *Scope) rewrite(userPath string) (string, error) {
	joined := path.Join(s.scopePath, userPath)
	if _, err := pathutil.ResolveWithin(s.parentBackend.RootDir(), joined); err != nil {
		return "", err
	}
	return joined, nil
}

func (s *Scope) Read(ctx context.Context, p string) ([]byte, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	rp, err := s.rewrite(p)
	if err != nil {
		return nil, err
	}
	return s.parentBackend.Read(ctx, rp)
}

func (s *Scope) Write(ctx context.Context, p string, data []byte) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	rp, err := s.rewrite(p)
	if err != nil {
		return err
	}
	return s.parentBackend.Write(ctx, rp, data)
}

func (s *Scope) Readdir(ctx context.Context, p string) ([]string, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	rp, err := s.rewrite(p)
	if err != nil {
		return nil, err
	}
	return s.parentBackend.Readdir(ctx, rp)
}

func (s *Scope) ReaddirWithStats(ctx context.Context, p string) ([]backend.DirEntry, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	rp, err := s.rewrite(p)
	if err != nil {
		return nil, err
	}
	return s.parentBackend.ReaddirWithStats(ctx, rp)
}

func (s *Scope) Mkdir(ctx context.Context, p string, recursive bool) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	rp, err := s.rewrite(p)
	if err != nil {
		return err
	}
	return s.parentBackend.Mkdir(ctx, rp, recursive)
}

func (s *Scope) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	oldRP, err := s.rewrite(oldPath)
	if err != nil {
		return err
	}
	newRP, err := s.rewrite(newPath)
	if err != nil {
		return err
	}
	return s.parentBackend.Rename(ctx, oldRP, newRP)
}

func (s *Scope) Rm(ctx context.Context, p string, opts backend.RmOptions) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	rp, err := s.rewrite(p)
	if err != nil {
		return err
	}
	return s.parentBackend.Rm(ctx, rp, opts)
}

func (s *Scope) Stat(ctx context.Context, p string) (backend.Stat, error) {
	if err := s.checkAlive(); err != nil {
		return backend.Stat{}, err
	}
	rp, err := s.rewrite(p)
	if err != nil {
		return backend.Stat{}, err
	}
	return s.parentBackend.Stat(ctx, rp)
}

func (s *Scope) Exists(ctx context.Context, p string) (bool, error) {
	if err := s.checkAlive(); err != nil {
		return false, err
	}
	rp, err := s.rewrite(p)
	if err != nil {
		return false, err
	}
	return s.parentBackend.Exists(ctx, rp)
}

func (s *Scope) Touch(ctx context.Context, p string) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	rp, err := s.rewrite(p)
	if err != nil {
		return err
	}
	return s.parentBackend.Touch(ctx, rp)
}

// Exec forwards with cwd forced to this scope's root (unless the caller's
// cwd also resolves within the scope) and env merged scope-then-call, per
// spec.md §4.8.
func (s *Scope) Exec(ctx context.Context, command string, opts backend.ExecOptions) (backend.ExecResult, error) {
	if err := s.checkAlive(); err != nil {
		return backend.ExecResult{}, err
	}

	cwd := s.scopePath
	if opts.Cwd != "" {
		if rp, err := s.rewrite(opts.Cwd); err == nil {
			cwd = rp
		}
	}

	merged := make(map[string]string, len(s.env)+len(opts.Env))
	for k, v := range s.env {
		merged[k] = v
	}
	for k, v := range opts.Env {
		merged[k] = v
	}

	callOpts := opts
	callOpts.Cwd = cwd
	callOpts.Env = merged

	return s.parentBackend.Exec(ctx, command, callOpts)
}

// CanExec reports the underlying backend's capability, when detectable.
func (s *Scope) CanExec() bool {
	if ec, ok := s.parentBackend.(backend.ExecCapable); ok {
		return ec.CanExec()
	}
	return true
}

// SubScope produces a nested scope whose paths combine this scope's path
// with sub. sub is validated against this scope's own root, not the
// ultimate root: a sub path that leaves this scope is rejected even when it
// would stay under the ultimate root.
func (s *Scope) SubScope(sub string, env map[string]string) (*Scope, error) {
	return New(s, sub, env)
}

// ListActiveScopes returns the sub-path keys the parent has registered
// under this scope.
func (s *Scope) ListActiveScopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.children))
	for child := range s.children {
		out = append(out, child.scopePath)
	}
	return out
}

func (s *Scope) registerChild(child *Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[child] = struct{}{}
}

func (s *Scope) unregisterChild(child *Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.children, child)
}

// Destroy notifies the parent via unregisterChild and is idempotent. It
// never destroys the parent.
func (s *Scope) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.status == backend.StatusDestroyed {
		s.mu.Unlock()
		return nil
	}
	s.status = backend.StatusDestroyed
	s.mu.Unlock()

	s.parentBackend.unregisterChild(s)
	return nil
}

package scope

import (
	"sync"

	"github.com/agentfs/workspaced/internal/backend"
)

// rootAdapter gives a plain backend.Backend the child-tracking surface
// Scope needs, without requiring every concrete backend to implement it
// directly. One rootAdapter is created the first time a Scope is built on
// top of a given backend and is reused for every sibling scope, so the
// tracked child set is shared.
type rootAdapter struct {
	backend.Backend

	mu       sync.Mutex
	children map[*Scope]struct{}
}

var (
	adaptersMu sync.Mutex
	adapters   = make(map[backend.Backend]*rootAdapter)
)

func newRootAdapter(b backend.Backend) *rootAdapter {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	if a, ok := adapters[b]; ok {
		return a
	}
	a := &rootAdapter{Backend: b, children: make(map[*Scope]struct{})}
	adapters[b] = a
	return a
}

func (a *rootAdapter) registerChild(child *Scope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.children[child] = struct{}{}
}

func (a *rootAdapter) unregisterChild(child *Scope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.children, child)
}

// CanExec forwards to the wrapped backend's own capability flag when it
// implements backend.ExecCapable (embedding only promotes backend.Backend's
// method set, not this one, so it must be forwarded explicitly).
func (a *rootAdapter) CanExec() bool {
	if ec, ok := a.Backend.(backend.ExecCapable); ok {
		return ec.CanExec()
	}
	return false
}

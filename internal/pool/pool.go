// Package pool implements the connection-pool manager (spec.md §4.9): a
// key-addressed cache of backends with per-key mutual exclusion, grounded
// on the teacher's reservation-before-dial pattern in
// internal/connection/pool.go. Callers waiting on the same key are not
// guaranteed to run in arrival (FIFO) order.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentfs/workspaced/internal/backend"
)

// Factory constructs a fresh backend from a config. config may be nil, in
// which case Pool.defaultConfig is used unmodified.
type Factory func(ctx context.Context, config any) (backend.Backend, error)

// entry is one pooled backend plus its serialization lock, a sync.Mutex,
// which does not hand the lock to waiters in strict arrival order. The lock's
// lifetime spans the whole callback invocation, per spec.md §9's "mutex
// whose lifetime spans the callback" guidance — reentrancy is prohibited.
type entry struct {
	mu      sync.Mutex
	backend backend.Backend
}

// Pool keys backends by an opaque string and serializes access per key.
type Pool struct {
	factory       Factory
	defaultConfig any

	mu      sync.Mutex
	entries map[string]*entry
	// building tracks keys whose entry is mid-construction, with a channel
	// closed when construction finishes (success or failure), so concurrent
	// callers for the same key wait instead of racing — the same
	// reservation-before-dial shape as the teacher's connection.Pool.Connect.
	building map[string]chan struct{}
}

// New creates a Pool backed by factory, used for every key miss and for
// unkeyed calls.
func New(factory Factory, defaultConfig any) *Pool {
	return &Pool{
		factory:       factory,
		defaultConfig: defaultConfig,
		entries:       make(map[string]*entry),
		building:      make(map[string]chan struct{}),
	}
}

// WithBackend runs cb against the backend for key (constructing and pooling
// it on first use), or against a fresh, one-shot backend when key is empty.
// Per spec.md §4.9, a later config for an already-pooled key is ignored —
// the instance is fixed at pool-in time.
func (p *Pool) WithBackend(ctx context.Context, key string, config any, cb func(backend.Backend) (any, error)) (any, error) {
	if key == "" {
		return p.withEphemeral(ctx, config, cb)
	}

	e, err := p.getOrBuild(ctx, key, config)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return cb(e.backend)
}

func (p *Pool) withEphemeral(ctx context.Context, config any, cb func(backend.Backend) (any, error)) (any, error) {
	b, err := p.factory(ctx, mergeConfig(p.defaultConfig, config))
	if err != nil {
		return nil, err
	}
	result, cbErr := cb(b)
	destroyErr := b.Destroy(ctx)
	if cbErr != nil {
		return nil, cbErr
	}
	return result, destroyErr
}

// getOrBuild returns the pooled entry for key, constructing it if this is
// the first caller to see the key missing. Construction errors never leave
// a half-installed entry.
func (p *Pool) getOrBuild(ctx context.Context, key string, config any) (*entry, error) {
	for {
		p.mu.Lock()
		if e, ok := p.entries[key]; ok {
			p.mu.Unlock()
			return e, nil
		}
		if ready, building := p.building[key]; building {
			p.mu.Unlock()
			select {
			case <-ready:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		ready := make(chan struct{})
		p.building[key] = ready
		p.mu.Unlock()

		b, err := p.factory(ctx, mergeConfig(p.defaultConfig, config))

		p.mu.Lock()
		delete(p.building, key)
		if err != nil {
			p.mu.Unlock()
			close(ready)
			return nil, fmt.Errorf("construct backend for key %q: %w", key, err)
		}
		e := &entry{backend: b}
		p.entries[key] = e
		p.mu.Unlock()
		close(ready)
		return e, nil
	}
}

func mergeConfig(defaultConfig, override any) any {
	if override == nil {
		return defaultConfig
	}
	return override
}

// DestroyAll destroys every pooled entry concurrently, swallowing
// individual errors, then clears the entries map. The pool is reusable
// afterward.
func (p *Pool) DestroyAll(ctx context.Context) {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			e.mu.Lock()
			defer e.mu.Unlock()
			_ = e.backend.Destroy(ctx)
		}(e)
	}
	wg.Wait()
}

// Stats is the result of GetStats.
type Stats struct {
	TotalBackends int
	BackendsByKey map[string]bool
}

// GetStats reports the current pool population.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	byKey := make(map[string]bool, len(p.entries))
	for k := range p.entries {
		byKey[k] = true
	}
	return Stats{TotalBackends: len(p.entries), BackendsByKey: byKey}
}

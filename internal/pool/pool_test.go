package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentfs/workspaced/internal/backend"
)

func memoryFactory(t *testing.T) (Factory, *int32) {
	t.Helper()
	var builds int32
	factory := func(ctx context.Context, config any) (backend.Backend, error) {
		atomic.AddInt32(&builds, 1)
		root, _ := config.(string)
		return backend.NewMemoryBackend(root), nil
	}
	return factory, &builds
}

func TestPool_WithBackend_BuildsOnce(t *testing.T) {
	factory, builds := memoryFactory(t)
	p := New(factory, "")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := p.WithBackend(ctx, "k1", nil, func(b backend.Backend) (any, error) {
			return nil, b.Write(ctx, "x", []byte("v"))
		})
		if err != nil {
			t.Fatalf("WithBackend: %v", err)
		}
	}

	if got := atomic.LoadInt32(builds); got != 1 {
		t.Errorf("expected 1 build for a reused key, got %d", got)
	}
}

func TestPool_WithBackend_DifferentKeysDifferentBackends(t *testing.T) {
	factory, builds := memoryFactory(t)
	p := New(factory, "")
	ctx := context.Background()

	if _, err := p.WithBackend(ctx, "a", nil, func(b backend.Backend) (any, error) {
		return nil, b.Write(ctx, "x", []byte("a-value"))
	}); err != nil {
		t.Fatalf("WithBackend a: %v", err)
	}
	if _, err := p.WithBackend(ctx, "b", nil, func(b backend.Backend) (any, error) {
		return nil, b.Write(ctx, "x", []byte("b-value"))
	}); err != nil {
		t.Fatalf("WithBackend b: %v", err)
	}

	data, err := p.WithBackend(ctx, "a", nil, func(b backend.Backend) (any, error) {
		return b.Read(ctx, "x")
	})
	if err != nil {
		t.Fatalf("read a: %v", err)
	}
	if string(data.([]byte)) != "a-value" {
		t.Errorf("key a leaked into key b's backend: got %q", data)
	}

	if got := atomic.LoadInt32(builds); got != 2 {
		t.Errorf("expected 2 builds for 2 distinct keys, got %d", got)
	}
}

func TestPool_WithBackend_EmptyKeyIsEphemeral(t *testing.T) {
	factory, builds := memoryFactory(t)
	p := New(factory, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.WithBackend(ctx, "", nil, func(b backend.Backend) (any, error) {
			return nil, nil
		}); err != nil {
			t.Fatalf("WithBackend: %v", err)
		}
	}

	if got := atomic.LoadInt32(builds); got != 3 {
		t.Errorf("expected a fresh build per ephemeral call, got %d", got)
	}
	if stats := p.GetStats(); stats.TotalBackends != 0 {
		t.Errorf("ephemeral backends should never be pooled, got %d", stats.TotalBackends)
	}
}

func TestPool_WithBackend_SerializesPerKey(t *testing.T) {
	factory, _ := memoryFactory(t)
	p := New(factory, "")
	ctx := context.Background()

	var active int32
	var maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.WithBackend(ctx, "shared", nil, func(b backend.Backend) (any, error) {
				n := atomic.AddInt32(&active, 1)
				if n > atomic.LoadInt32(&maxActive) {
					atomic.StoreInt32(&maxActive, n)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil, nil
			})
		}()
	}
	wg.Wait()

	if max := atomic.LoadInt32(&maxActive); max != 1 {
		t.Errorf("expected at most 1 concurrent callback per key, saw %d", max)
	}
}

func TestPool_WithBackend_ConcurrentFirstAccessBuildsOnce(t *testing.T) {
	factory, builds := memoryFactory(t)
	p := New(factory, "")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.WithBackend(ctx, "race", nil, func(b backend.Backend) (any, error) {
				return nil, nil
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(builds); got != 1 {
		t.Errorf("expected exactly 1 build despite concurrent first access, got %d", got)
	}
}

func TestPool_WithBackend_ConstructErrorNotCached(t *testing.T) {
	var attempt int32
	factory := func(ctx context.Context, config any) (backend.Backend, error) {
		n := atomic.AddInt32(&attempt, 1)
		if n == 1 {
			return nil, fmt.Errorf("boom")
		}
		return backend.NewMemoryBackend(""), nil
	}
	p := New(factory, nil)
	ctx := context.Background()

	if _, err := p.WithBackend(ctx, "k", nil, func(b backend.Backend) (any, error) {
		return nil, nil
	}); err == nil {
		t.Fatal("expected the first construction to fail")
	}

	if _, err := p.WithBackend(ctx, "k", nil, func(b backend.Backend) (any, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("expected a retry after a failed construction to succeed, got %v", err)
	}
}

func TestPool_DestroyAll(t *testing.T) {
	factory, _ := memoryFactory(t)
	p := New(factory, "")
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if _, err := p.WithBackend(ctx, key, nil, func(b backend.Backend) (any, error) {
			return nil, nil
		}); err != nil {
			t.Fatalf("WithBackend %s: %v", key, err)
		}
	}

	if stats := p.GetStats(); stats.TotalBackends != 3 {
		t.Fatalf("expected 3 pooled backends, got %d", stats.TotalBackends)
	}

	p.DestroyAll(ctx)

	if stats := p.GetStats(); stats.TotalBackends != 0 {
		t.Errorf("expected 0 backends after DestroyAll, got %d", stats.TotalBackends)
	}

	// Pool is reusable after DestroyAll.
	if _, err := p.WithBackend(ctx, "a", nil, func(b backend.Backend) (any, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("WithBackend after DestroyAll: %v", err)
	}
}

func TestPool_GetStats(t *testing.T) {
	factory, _ := memoryFactory(t)
	p := New(factory, "")
	ctx := context.Background()

	if _, err := p.WithBackend(ctx, "x", nil, func(b backend.Backend) (any, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("WithBackend: %v", err)
	}

	stats := p.GetStats()
	if stats.TotalBackends != 1 || !stats.BackendsByKey["x"] {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

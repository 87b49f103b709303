package scope

import (
	"context"
	"testing"

	"github.com/agentfs/workspaced/internal/backend"
)

func newTestRoot(t *testing.T) backend.Backend {
	t.Helper()
	b, err := backend.NewLocalBackend(backend.LocalOptions{
		RootDir:   t.TempDir(),
		Isolation: backend.IsolationSoftware,
		Shell:     "sh",
	})
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	return b
}

func TestScope_Isolation(t *testing.T) {
	root := newTestRoot(t)
	ctx := context.Background()

	u1, err := New(root, "u1", nil)
	if err != nil {
		t.Fatalf("scope u1: %v", err)
	}
	u2, err := New(root, "u2", nil)
	if err != nil {
		t.Fatalf("scope u2: %v", err)
	}

	if err := u1.Write(ctx, "x", []byte("1")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := u2.Read(ctx, "x"); err == nil {
		t.Error("u2 should not see u1's file")
	}

	data, err := u1.Read(ctx, "x")
	if err != nil || string(data) != "1" {
		t.Errorf("u1 read = %q, %v, want 1, nil", data, err)
	}
}

func TestScope_PathEscapeNeverReachesParent(t *testing.T) {
	root := newTestRoot(t)
	ctx := context.Background()

	u1, err := New(root, "u1", nil)
	if err != nil {
		t.Fatalf("scope u1: %v", err)
	}

	if _, err := u1.Read(ctx, "../u2/secret"); err == nil {
		t.Fatal("expected path-escape error")
	}
}

func TestScope_NestedScopeRootDir(t *testing.T) {
	root := newTestRoot(t)

	a, err := New(root, "A", nil)
	if err != nil {
		t.Fatalf("scope A: %v", err)
	}
	b, err := a.SubScope("B", nil)
	if err != nil {
		t.Fatalf("scope A.B: %v", err)
	}

	want := root.RootDir() + "/A/B"
	if b.RootDir() != want {
		t.Errorf("RootDir() = %q, want %q", b.RootDir(), want)
	}
}

func TestScope_NestedScopeEscapePastUltimateRoot(t *testing.T) {
	root := newTestRoot(t)

	a, err := New(root, "A", nil)
	if err != nil {
		t.Fatalf("scope A: %v", err)
	}
	if _, err := a.SubScope("../../../etc", nil); err == nil {
		t.Fatal("expected path-escape error for nested scope traversal")
	}
}

func TestScope_DestroyUnregistersFromParent(t *testing.T) {
	root := newTestRoot(t)
	ctx := context.Background()

	u1, err := New(root, "u1", nil)
	if err != nil {
		t.Fatalf("scope u1: %v", err)
	}

	adaptersMu.Lock()
	adapter := adapters[root]
	adaptersMu.Unlock()
	if len(adapter.children) != 1 {
		t.Fatalf("expected 1 tracked child, got %d", len(adapter.children))
	}

	if err := u1.Destroy(ctx); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if len(adapter.children) != 0 {
		t.Errorf("expected 0 tracked children after destroy, got %d", len(adapter.children))
	}

	// Idempotent.
	if err := u1.Destroy(ctx); err != nil {
		t.Errorf("second destroy should be a no-op, got %v", err)
	}
}

func TestScope_OpsFailAfterDestroy(t *testing.T) {
	root := newTestRoot(t)
	ctx := context.Background()

	u1, err := New(root, "u1", nil)
	if err != nil {
		t.Fatalf("scope u1: %v", err)
	}
	_ = u1.Destroy(ctx)

	if _, err := u1.Read(ctx, "x"); err == nil {
		t.Error("expected invalid-state error after destroy")
	}
}

package backend

import (
	"context"
	"reflect"
	"sort"
	"testing"
)

func TestMemoryBackend_ReaddirCorrectness(t *testing.T) {
	b := NewMemoryBackend("")
	ctx := context.Background()

	for _, k := range []string{"a/b", "a/c/d", "a/c/e", "f"} {
		if err := b.Write(ctx, k, []byte(k)); err != nil {
			t.Fatalf("write %s: %v", k, err)
		}
	}

	cases := []struct {
		prefix string
		want   []string
	}{
		{"a", []string{"b", "c"}},
		{"a/c", []string{"d", "e"}},
		{"", []string{"a", "f"}},
	}
	for _, c := range cases {
		got, err := b.Readdir(ctx, c.prefix)
		if err != nil {
			t.Fatalf("readdir(%q): %v", c.prefix, err)
		}
		sort.Strings(got)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("readdir(%q) = %v, want %v", c.prefix, got, c.want)
		}
	}
}

func TestMemoryBackend_RmWithoutRecursiveKeepsSubkeys(t *testing.T) {
	b := NewMemoryBackend("")
	ctx := context.Background()

	_ = b.Write(ctx, "a", []byte("1"))
	_ = b.Write(ctx, "a/b", []byte("2"))

	if err := b.Rm(ctx, "a", RmOptions{}); err != nil {
		t.Fatalf("rm: %v", err)
	}
	if exists, _ := b.Exists(ctx, "a"); exists {
		t.Error("exact key should be deleted")
	}
	if exists, _ := b.Exists(ctx, "a/b"); !exists {
		t.Error("sub-key should survive a non-recursive rm")
	}
}

func TestMemoryBackend_RmRecursiveDeletesSubtree(t *testing.T) {
	b := NewMemoryBackend("")
	ctx := context.Background()

	_ = b.Write(ctx, "a", []byte("1"))
	_ = b.Write(ctx, "a/b", []byte("2"))
	_ = b.Write(ctx, "a/c/d", []byte("3"))
	_ = b.Write(ctx, "other", []byte("4"))

	if err := b.Rm(ctx, "a", RmOptions{Recursive: true}); err != nil {
		t.Fatalf("rm: %v", err)
	}
	for _, k := range []string{"a", "a/b", "a/c/d"} {
		if exists, _ := b.Exists(ctx, k); exists {
			t.Errorf("%s should have been deleted", k)
		}
	}
	if exists, _ := b.Exists(ctx, "other"); !exists {
		t.Error("other should survive")
	}
}

func TestMemoryBackend_StatMissingKey(t *testing.T) {
	b := NewMemoryBackend("")
	if _, err := b.Stat(context.Background(), "missing"); err == nil {
		t.Fatal("expected key-not-found error")
	}
}

func TestMemoryBackend_ExecNotImplemented(t *testing.T) {
	b := NewMemoryBackend("")
	if _, err := b.Exec(context.Background(), "echo hi", ExecOptions{}); err == nil {
		t.Fatal("expected not-implemented error")
	}
}

func TestMemoryBackend_RenameCopyDelete(t *testing.T) {
	b := NewMemoryBackend("")
	ctx := context.Background()

	_ = b.Write(ctx, "src", []byte("payload"))
	if err := b.Rename(ctx, "src", "dst"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if exists, _ := b.Exists(ctx, "src"); exists {
		t.Error("src should no longer exist")
	}
	data, err := b.Read(ctx, "dst")
	if err != nil || string(data) != "payload" {
		t.Errorf("dst = %q, %v, want payload, nil", data, err)
	}
}

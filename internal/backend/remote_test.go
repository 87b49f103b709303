package backend

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/crypto/ssh"

	"github.com/agentfs/workspaced/internal/security"
	"github.com/agentfs/workspaced/internal/transport"
)

func startTestSSHDaemon(t *testing.T, rootDir, token string) *httptest.Server {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostKey, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	lb, err := NewLocalBackend(LocalOptions{RootDir: rootDir, Isolation: IsolationSoftware, Shell: "sh"})
	if err != nil {
		t.Fatalf("construct local backend: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ssh", func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = transport.ServeWS(r.Context(), ws, transport.ServerConfig{
			HostKey: hostKey,
			FS:      AsFilesystem(lb),
			Authenticate: func(user, presented string) bool {
				return presented == token
			},
		})
	})
	return httptest.NewServer(mux)
}

func hostPort(t *testing.T, httpURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(httpURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return u.Hostname(), p
}

func TestRemoteBackend_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	token := "remote-token"
	srv := startTestSSHDaemon(t, dir, token)
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	b := NewRemoteBackend(RemoteOptions{
		RootDir: dir,
		Transport: transport.ClientConfig{
			Host:      host,
			Port:      port,
			AuthToken: token,
			Timeout:   5 * time.Second,
		},
	})
	defer b.Destroy(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.Write(ctx, "hello.txt", []byte("hi there")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := b.Read(ctx, "hello.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hi there" {
		t.Errorf("data = %q, want %q", data, "hi there")
	}

	diskData, err := os.ReadFile(dir + "/hello.txt")
	if err != nil || string(diskData) != "hi there" {
		t.Errorf("on-disk content = %q, %v", diskData, err)
	}
}

func TestRemoteBackend_ExecRoundTrip(t *testing.T) {
	dir := t.TempDir()
	token := "remote-token"
	srv := startTestSSHDaemon(t, dir, token)
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	b := NewRemoteBackend(RemoteOptions{
		RootDir: dir,
		Transport: transport.ClientConfig{
			Host:      host,
			Port:      port,
			AuthToken: token,
			Timeout:   5 * time.Second,
		},
	})
	defer b.Destroy(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := b.Exec(ctx, "echo remote-hi", ExecOptions{})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if result.Stdout != "remote-hi" {
		t.Errorf("stdout = %q, want %q", result.Stdout, "remote-hi")
	}
}

func TestRemoteBackend_ExecDangerousBlocked(t *testing.T) {
	dir := t.TempDir()
	token := "remote-token"
	srv := startTestSSHDaemon(t, dir, token)
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	b := NewRemoteBackend(RemoteOptions{
		RootDir: dir,
		Transport: transport.ClientConfig{
			Host:      host,
			Port:      port,
			AuthToken: token,
			Timeout:   5 * time.Second,
		},
		PreventDangerous: true,
	})
	defer b.Destroy(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.Exec(ctx, "rm -rf /", ExecOptions{}); err == nil {
		t.Fatal("expected dangerous-operation error")
	}
}

func TestRemoteBackend_ExecFilterDenied(t *testing.T) {
	dir := t.TempDir()
	token := "remote-token"
	srv := startTestSSHDaemon(t, dir, token)
	defer srv.Close()

	filter, err := security.NewFilter(nil, nil, nil, []string{"curl.*"})
	if err != nil {
		t.Fatalf("new filter: %v", err)
	}

	host, port := hostPort(t, srv.URL)
	b := NewRemoteBackend(RemoteOptions{
		RootDir: dir,
		Transport: transport.ClientConfig{
			Host:      host,
			Port:      port,
			AuthToken: token,
			Timeout:   5 * time.Second,
		},
		Filter: filter,
	})
	defer b.Destroy(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.Exec(ctx, "curl http://example.com", ExecOptions{}); err == nil {
		t.Fatal("expected command denied by policy")
	}
}

func TestRemoteBackend_SudoBlockedByDefault(t *testing.T) {
	dir := t.TempDir()
	token := "remote-token"
	srv := startTestSSHDaemon(t, dir, token)
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	b := NewRemoteBackend(RemoteOptions{
		RootDir: dir,
		Transport: transport.ClientConfig{
			Host:      host,
			Port:      port,
			AuthToken: token,
			Timeout:   5 * time.Second,
		},
	})
	defer b.Destroy(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.Exec(ctx, "whoami", ExecOptions{Sudo: true}); err == nil {
		t.Fatal("expected sudo to be rejected when AllowSudo is unset")
	}
}

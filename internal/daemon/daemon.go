// Package daemon wires a backend.Backend to the HTTP/WebSocket/stdio
// surfaces described in spec.md §4.11: /health, /mcp, /ssh, plus an optional
// conventional-ssh convenience listener. Grounded on the teacher's
// internal/server.Server (runHTTP/runStdio, authMiddleware, graceful
// shutdown).
package daemon

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/ssh"

	"github.com/agentfs/workspaced/internal/backend"
	"github.com/agentfs/workspaced/internal/config"
	"github.com/agentfs/workspaced/internal/mcpadapter"
	"github.com/agentfs/workspaced/internal/ratelimit"
	"github.com/agentfs/workspaced/internal/scope"
)

// Daemon is the workspaced process: one backend, one MCP server, and the
// HTTP/WebSocket/stdio surfaces that expose it.
type Daemon struct {
	cfg         *config.Config
	backend     backend.Backend
	mcpServer   *mcp.Server
	rateLimiter *ratelimit.Limiter
	hostKey     ssh.Signer
}

// New constructs the daemon's backend (a LocalBackend rooted at
// cfg.RootDir, optionally narrowed to cfg.ScopePath via internal/scope),
// its shared MCP server, and its SSH host key.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	root, err := backend.NewLocalBackend(backend.LocalOptions{
		RootDir:          cfg.RootDir,
		Isolation:        cfg.Isolation,
		Shell:            normalizeShell(cfg.Shell),
		AllowSudo:        cfg.AllowSudo,
		PreventDangerous: !cfg.AllowDangerous,
	})
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}

	var ws backend.Backend = root
	if cfg.ScopePath != "" {
		scoped, err := scope.New(root, cfg.ScopePath, nil)
		if err != nil {
			return nil, fmt.Errorf("apply scopePath: %w", err)
		}
		ws = scoped
	}

	hostKey, err := loadOrCreateHostKey(cfg.Daemon.SSHHostKey)
	if err != nil {
		return nil, fmt.Errorf("ssh host key: %w", err)
	}

	mcpServer := mcpadapter.New(ws, config.Version)
	rl := ratelimit.New(600)

	d := &Daemon{
		cfg:         cfg,
		backend:     ws,
		mcpServer:   mcpServer,
		rateLimiter: rl,
		hostKey:     hostKey,
	}
	rl.StartCleanup(ctx, 10*time.Minute, 30*time.Minute)
	return d, nil
}

// normalizeShell turns the CLI's "auto" into the empty string, which
// LocalBackend treats as auto-detection between bash and sh.
func normalizeShell(shell string) string {
	if shell == "auto" {
		return ""
	}
	return shell
}

// loadOrCreateHostKey reads an existing PEM-encoded host key, or generates
// and persists a new ed25519 one on first start (spec.md §6's "Persisted
// state" clause).
func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if data, err := os.ReadFile(path); err == nil {
		return ssh.ParsePrivateKey(data)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("wrap host key: %w", err)
	}

	if der, err := x509.MarshalPKCS8PrivateKey(priv); err == nil {
		block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err == nil {
			_ = os.WriteFile(path, pem.EncodeToMemory(block), 0600)
		}
	}
	return signer, nil
}

// Run starts the configured transports and blocks until ctx is cancelled or
// a transport fails.
func (d *Daemon) Run(ctx context.Context) error {
	if d.cfg.Daemon.LocalOnly {
		return d.runStdio(ctx)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- d.runHTTP(ctx) }()
	if d.cfg.SSH.Enabled {
		go func() { errCh <- d.runConventionalSSH(ctx) }()
	}

	select {
	case <-ctx.Done():
		log.Println("shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Printf("transport error: %v", err)
		}
	}
	return nil
}

func (d *Daemon) runStdio(ctx context.Context) error {
	return d.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

func (d *Daemon) runHTTP(ctx context.Context) error {
	addr := fmt.Sprintf("localhost:%d", d.cfg.Daemon.Port)
	log.Printf("workspaced listening on %s (rootDir=%s)", addr, d.cfg.RootDir)

	mux := http.NewServeMux()
	mux.Handle("/health", d.authMiddleware(http.HandlerFunc(d.handleHealth)))
	mux.Handle("/mcp", d.authMiddleware(mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return d.mcpServer },
		nil,
	)))
	if !d.cfg.Daemon.DisableSSHWS {
		mux.Handle("/ssh", d.authMiddleware(http.HandlerFunc(d.handleSSHWebSocket)))
	}

	httpServer := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}

// authMiddleware applies the per-client rate limit (keyed by remote address)
// and enforces the configured bearer token on every HTTP route. Every route
// also accepts a ?token= query parameter, since some WebSocket clients
// cannot set upgrade-request headers.
func (d *Daemon) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.rateLimiter != nil {
			client := r.RemoteAddr
			if host, _, err := net.SplitHostPort(client); err == nil {
				client = host
			}
			if err := d.rateLimiter.Allow(client); err != nil {
				http.Error(w, err.Error(), http.StatusTooManyRequests)
				return
			}
		}

		token := d.cfg.Daemon.AuthToken
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		const prefix = "Bearer "
		if auth := r.Header.Get("Authorization"); auth != "" {
			if len(auth) > len(prefix) && auth[:len(prefix)] == prefix && auth[len(prefix):] == token {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if q := r.URL.Query().Get("token"); q != "" {
			if q == token {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		http.Error(w, "missing Authorization header", http.StatusUnauthorized)
	})
}

// healthResponse is the GET /health payload.
type healthResponse struct {
	Status  string `json:"status"`
	RootDir string `json:"rootDir"`
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", RootDir: d.cfg.RootDir})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

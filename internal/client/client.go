// Package client is the C12 entry point: construct a backend.Backend from
// either a typed configuration or an already-built backend, then hand out
// an MCP client/transport scoped to a sub-path. Grounded on the teacher's
// main.go + internal/server.New wiring sequence (config in, one long-lived
// object out), applied here to backend construction instead of server
// construction.
package client

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentfs/workspaced/internal/backend"
	"github.com/agentfs/workspaced/internal/scope"
	"github.com/agentfs/workspaced/internal/transport"
)

// Config is the typed configuration C12 accepts in lieu of a
// pre-constructed backend.Backend. Kind defaults to backend.KindLocal when
// empty, per spec.md §4.12.
type Config struct {
	Kind      backend.Kind
	RootDir   string
	Isolation backend.Isolation
	Shell     string

	// AllowSudo lets Exec callers set ExecOptions.Sudo on the constructed
	// backend; off by default.
	AllowSudo bool
	// AllowDangerous disables the constructed backend's default
	// PreventDangerous gate, letting commands internal/security classifies
	// as dangerous run.
	AllowDangerous bool

	// Remote carries the dial parameters when Kind == backend.KindRemote.
	Remote transport.ClientConfig

	// DaemonBinary is the workspaced executable spawned for local/memory
	// stdio MCP transports. Defaults to "workspaced" on PATH.
	DaemonBinary string
}

// Client owns one backend and knows how to front it with an MCP transport,
// either by spawning a stdio daemon subprocess (local/memory) or by
// dialing an already-running one over HTTP (remote).
type Client struct {
	cfg     Config
	backend backend.Backend
}

// New constructs the backend described by cfg.
func New(cfg Config) (*Client, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = backend.KindLocal
	}

	switch kind {
	case backend.KindLocal:
		b, err := backend.NewLocalBackend(backend.LocalOptions{
			RootDir:          cfg.RootDir,
			Isolation:        cfg.Isolation,
			Shell:            cfg.Shell,
			AllowSudo:        cfg.AllowSudo,
			PreventDangerous: !cfg.AllowDangerous,
		})
		if err != nil {
			return nil, fmt.Errorf("construct local backend: %w", err)
		}
		return &Client{cfg: cfg, backend: b}, nil

	case backend.KindMemory:
		return &Client{cfg: cfg, backend: backend.NewMemoryBackend(cfg.RootDir)}, nil

	case backend.KindRemote:
		b := backend.NewRemoteBackend(backend.RemoteOptions{
			RootDir:          cfg.RootDir,
			Transport:        cfg.Remote,
			AllowSudo:        cfg.AllowSudo,
			PreventDangerous: !cfg.AllowDangerous,
		})
		return &Client{cfg: cfg, backend: b}, nil

	default:
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}
}

// FromBackend wraps an already-constructed backend, skipping config-driven
// construction entirely.
func FromBackend(b backend.Backend) *Client {
	return &Client{backend: b}
}

// Backend returns the underlying backend.Backend.
func (c *Client) Backend() backend.Backend {
	return c.backend
}

// GetMCPTransport returns the mcp.Transport that would reach this client's
// backend narrowed to scope: a stdio subprocess transport for local/memory
// backends, or an HTTP streamable transport carrying the remote daemon's
// auth token and the scope as a request header.
func (c *Client) GetMCPTransport(scope string) (mcp.Transport, error) {
	if c.backend.Kind() == backend.KindRemote {
		return c.remoteTransport(scope)
	}
	return c.stdioTransport(scope)
}

// GetMCPClient connects an MCP client over GetMCPTransport(scope) and
// returns the resulting session.
func (c *Client) GetMCPClient(ctx context.Context, scope string) (*mcp.ClientSession, error) {
	t, err := c.GetMCPTransport(scope)
	if err != nil {
		return nil, err
	}
	cl := mcp.NewClient(&mcp.Implementation{Name: "workspaced-client", Version: "1.0.0"}, nil)
	session, err := cl.Connect(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("connect mcp client: %w", err)
	}
	return session, nil
}

// stdioTransport spawns a local workspaced daemon in --local-only mode,
// rooted at the backend's own directory and narrowed to scope, and wraps
// its stdin/stdout as the MCP transport.
func (c *Client) stdioTransport(scopePath string) (mcp.Transport, error) {
	binary := c.cfg.DaemonBinary
	if binary == "" {
		binary = "workspaced"
	}

	args := []string{"--rootDir", c.backend.RootDir(), "--local-only"}
	if scopePath != "" {
		args = append(args, "--scopePath", scopePath)
	}

	cmd := exec.Command(binary, args...)
	return &mcp.CommandTransport{Command: cmd}, nil
}

// remoteTransport connects to a running daemon's /mcp endpoint, sending
// the configured auth token as a bearer header and scopePath as a custom
// request header per spec.md §4.12.
func (c *Client) remoteTransport(scopePath string) (mcp.Transport, error) {
	rt := c.cfg.Remote
	if rt.Host == "" {
		return nil, fmt.Errorf("remote transport requires a host")
	}

	endpoint := fmt.Sprintf("http://%s:%d/mcp", rt.Host, rt.Port)
	timeout := rt.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &scopedRoundTripper{authToken: rt.AuthToken, scopePath: scopePath},
	}

	return &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: httpClient,
	}, nil
}

// scopedRoundTripper adds the bearer token and scope header to every
// outbound MCP-over-HTTP request.
type scopedRoundTripper struct {
	authToken string
	scopePath string
}

func (rt *scopedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+rt.authToken)
	}
	if rt.scopePath != "" {
		req.Header.Set("X-Scope", rt.scopePath)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// ApplyScope narrows the client's backend to sub-path p using internal/scope,
// returning the scoped backend without mutating the client itself. Callers
// that want the narrowing to stick should wrap with FromBackend.
func ApplyScope(b backend.Backend, p string, env map[string]string) (backend.Backend, error) {
	if p == "" {
		return b, nil
	}
	return scope.New(b, p, env)
}

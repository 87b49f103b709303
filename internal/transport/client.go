package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/agentfs/workspaced/internal/errtag"
	"github.com/agentfs/workspaced/internal/status"
)

// ClientConfig configures a client-side dial, per spec.md §4.6.
type ClientConfig struct {
	Host              string
	Port              int
	Path              string // default "/ssh"
	AuthToken         string
	Timeout           time.Duration // default 30s
	KeepaliveInterval time.Duration // default 30s
	TLS               bool
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Path == "" {
		c.Path = "/ssh"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	return c
}

// ExecResult is the outcome of a one-shot exec call.
type ExecResult struct {
	Stdout string
	Stderr string
	Code   int
}

// Client is the client side of the WebSocket-SSH transport: it dials a
// daemon's /ssh endpoint and exposes exec/SFTP over the tunneled SSH
// session.
type Client struct {
	cfg ClientConfig

	status *status.Manager

	mu         sync.Mutex
	ws         *wsConn
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// NewClient creates a disconnected Client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		status: status.New(status.Disconnected),
	}
}

// Status returns the connection status manager, for subscribing to
// transitions.
func (c *Client) Status() *status.Manager { return c.status }

// Connect dials the WebSocket, then negotiates SSH over it. Resolves when
// SSH reports ready; fails on timeout or either-layer error.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sshClient != nil {
		return nil
	}

	c.status.SetStatus(status.Connecting, nil)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	scheme := "ws"
	if c.cfg.TLS {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port),
		Path:   c.cfg.Path,
	}
	if c.cfg.AuthToken != "" {
		q := u.Query()
		q.Set("token", c.cfg.AuthToken)
		u.RawQuery = q.Encode()
	}

	ws, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		c.status.SetStatus(status.Disconnected, err)
		return fmt.Errorf("dial websocket: %w", err)
	}
	ws.SetReadLimit(-1)

	// The background context used for the tunnel's lifetime must outlive
	// dialCtx; the connection is torn down explicitly via Disconnect.
	conn := newWSConn(context.Background(), ws)

	sshConfig := &ssh.ClientConfig{
		User:            "workspaced",
		Auth:            []ssh.AuthMethod{ssh.Password(c.cfg.AuthToken)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.cfg.Timeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, u.Host, sshConfig)
	if err != nil {
		conn.Close()
		c.status.SetStatus(status.Disconnected, err)
		return fmt.Errorf("ssh handshake: %w", err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)

	c.ws = conn
	c.sshClient = client
	c.status.SetStatus(status.Connected, nil)

	if c.cfg.KeepaliveInterval > 0 {
		go c.keepalive(client, conn)
	}

	return nil
}

func (c *Client) keepalive(client *ssh.Client, conn *wsConn) {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()
	missed := 0
	for range ticker.C {
		c.mu.Lock()
		stillCurrent := c.sshClient == client
		c.mu.Unlock()
		if !stillCurrent {
			return
		}
		_, _, err := client.SendRequest("keepalive@workspaced", true, nil)
		if err != nil {
			missed++
			if missed >= 3 {
				c.status.SetStatus(status.Disconnected, fmt.Errorf("keepalive missed %d times", missed))
				return
			}
			continue
		}
		missed = 0
	}
}

// Exec runs one command over a new SSH channel, per §4.6.
func (c *Client) Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	c.mu.Lock()
	client := c.sshClient
	c.mu.Unlock()
	if client == nil {
		return ExecResult{}, errtag.New(errtag.ConnectionClosed, "transport not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return ExecResult{}, errtag.Wrap(errtag.ConnectionClosed, "new ssh session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return ExecResult{}, errtag.New(errtag.Timeout, "exec timed out")
	case runErr := <-done:
		code := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				code = exitErr.ExitStatus()
			} else {
				return ExecResult{}, errtag.Wrap(errtag.ExecError, "exec failed", runErr)
			}
		}
		return ExecResult{Stdout: stdout.String(), Stderr: stderr.String(), Code: code}, nil
	}
}

// StreamFunc receives output chunks as they arrive.
type StreamFunc func(chunk []byte)

// ExecStream behaves like Exec but pushes stdout/stderr incrementally.
func (c *Client) ExecStream(ctx context.Context, command string, onStdout, onStderr StreamFunc) (int, error) {
	c.mu.Lock()
	client := c.sshClient
	c.mu.Unlock()
	if client == nil {
		return 0, errtag.New(errtag.ConnectionClosed, "transport not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return 0, errtag.Wrap(errtag.ConnectionClosed, "new ssh session", err)
	}
	defer session.Close()

	session.Stdout = writerFunc(onStdout)
	session.Stderr = writerFunc(onStderr)

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return 0, errtag.New(errtag.Timeout, "exec timed out")
	case runErr := <-done:
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				return exitErr.ExitStatus(), nil
			}
			return 0, errtag.Wrap(errtag.ExecError, "exec failed", runErr)
		}
		return 0, nil
	}
}

type writerFunc func([]byte)

func (w writerFunc) Write(p []byte) (int, error) {
	if w != nil {
		cp := make([]byte, len(p))
		copy(cp, p)
		w(cp)
	}
	return len(p), nil
}

// SFTP returns the shared SFTP session, opening it on first call. The cache
// is cleared when the session closes so the next call re-opens it.
func (c *Client) SFTP() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftpClient != nil {
		return c.sftpClient, nil
	}
	if c.sshClient == nil {
		return nil, errtag.New(errtag.ConnectionClosed, "transport not connected")
	}

	sftpClient, err := sftp.NewClient(c.sshClient)
	if err != nil {
		return nil, errtag.Wrap(errtag.ConnectionClosed, "open sftp session", err)
	}
	c.sftpClient = sftpClient
	go func() {
		_ = sftpClient.Wait()
		c.mu.Lock()
		if c.sftpClient == sftpClient {
			c.sftpClient = nil
		}
		c.mu.Unlock()
	}()
	return sftpClient, nil
}

// InvalidateSFTP clears the cached SFTP session, forcing the next SFTP call
// to reopen it. Used when a caller observes the session is dead.
func (c *Client) InvalidateSFTP() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftpClient != nil {
		c.sftpClient.Close()
		c.sftpClient = nil
	}
}

// Disconnect closes SFTP, SSH, then the WebSocket. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftpClient != nil {
		c.sftpClient.Close()
		c.sftpClient = nil
	}
	var sshErr error
	if c.sshClient != nil {
		sshErr = c.sshClient.Close()
		c.sshClient = nil
	}
	var wsErr error
	if c.ws != nil {
		wsErr = c.ws.Close()
		c.ws = nil
	}
	c.status.SetStatus(status.Disconnected, nil)
	if sshErr != nil {
		return sshErr
	}
	return wsErr
}

// Connected reports whether the SSH layer is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sshClient != nil
}

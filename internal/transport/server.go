package transport

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// ServerConfig configures the daemon-side SSH server that terminates a
// tunneled WebSocket connection, per spec.md §4.11's /ssh route.
type ServerConfig struct {
	HostKey  ssh.Signer
	AuthUser string // expected SSH user (informational; real auth is the token)
	// Authenticate validates the user/password pair presented during the SSH
	// handshake. For the /ssh WebSocket tunnel route the password carries
	// the daemon's bearer token and the username is ignored; conventional-ssh
	// passes both through to check against configured user:password pairs.
	Authenticate func(user, password string) bool
	// AuthorizedKeys, when non-empty, additionally accepts public-key auth
	// against this set (conventional-ssh's --ssh-public-key/--ssh-authorized-keys).
	AuthorizedKeys []ssh.PublicKey
	// FS is the backend every exec/SFTP request in this session is routed
	// through, so path containment, command classification, and isolation
	// apply the same way they do for the MCP surface.
	FS Filesystem
	// PreventDangerous is forwarded to each exec call's FSExecOptions.
	PreventDangerous bool
}

// ServeWS wraps an already-accepted WebSocket as the /ssh route's byte
// stream and runs ServeConn over it. This is the entrypoint the daemon's
// HTTP handler and in-process test servers call after
// websocket.Accept.
func ServeWS(ctx context.Context, ws *websocket.Conn, cfg ServerConfig) error {
	return ServeConn(ctx, newWSConn(ctx, ws), cfg)
}

// ServeConn runs one SSH server session over conn until the session ends or
// ctx is cancelled. One session handles exec requests and an "sftp"
// subsystem request against cfg.FS.
func ServeConn(ctx context.Context, conn io.ReadWriteCloser, cfg ServerConfig) error {
	sessionID := uuid.New().String()
	log.Printf("ssh session %s: starting", sessionID)
	defer log.Printf("ssh session %s: ended", sessionID)

	sshConfig := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if cfg.Authenticate != nil && !cfg.Authenticate(meta.User(), string(password)) {
				return nil, fmt.Errorf("invalid token")
			}
			return &ssh.Permissions{}, nil
		},
	}
	if len(cfg.AuthorizedKeys) > 0 {
		sshConfig.PublicKeyCallback = func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			for _, k := range cfg.AuthorizedKeys {
				if ssh.KeysEqual(k, key) {
					return &ssh.Permissions{}, nil
				}
			}
			return nil, fmt.Errorf("unrecognized public key")
		}
	}
	sshConfig.AddHostKey(cfg.HostKey)

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, sshConfig)
	if err != nil {
		return fmt.Errorf("ssh handshake: %w", err)
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	done := make(chan struct{})
	go func() {
		for newChannel := range chans {
			if newChannel.ChannelType() != "session" {
				_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
				continue
			}
			channel, requests, err := newChannel.Accept()
			if err != nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				handleSession(ctx, channel, requests, cfg)
			}()
		}
		close(done)
	}()

	select {
	case <-ctx.Done():
		sshConn.Close()
		wg.Wait()
		return ctx.Err()
	case <-done:
		wg.Wait()
		return nil
	}
}

func handleSession(ctx context.Context, channel ssh.Channel, requests <-chan *ssh.Request, cfg ServerConfig) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			handleExec(ctx, channel, req, cfg)
			return
		case "subsystem":
			if isSFTPSubsystem(req.Payload) {
				if req.WantReply {
					_ = req.Reply(true, nil)
				}
				handleSFTP(ctx, channel, cfg)
				return
			}
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func isSFTPSubsystem(payload []byte) bool {
	var req struct{ Name string }
	if err := ssh.Unmarshal(payload, &req); err != nil {
		return false
	}
	return req.Name == "sftp"
}

// handleExec runs the requested command through cfg.FS instead of spawning
// a shell directly, so the same containment, classification, and isolation
// rules the MCP surface enforces apply to /ssh exec too.
func handleExec(ctx context.Context, channel ssh.Channel, req *ssh.Request, cfg ServerConfig) {
	var execReq struct{ Command string }
	if err := ssh.Unmarshal(req.Payload, &execReq); err != nil {
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
		return
	}
	if req.WantReply {
		_ = req.Reply(true, nil)
	}

	exitCode := 0
	result, err := cfg.FS.Exec(ctx, execReq.Command, FSExecOptions{PreventDangerous: cfg.PreventDangerous})
	if err != nil {
		fmt.Fprint(channel.Stderr(), err.Error())
		exitCode = 1
	} else {
		io.WriteString(channel, result.Stdout)
		io.WriteString(channel.Stderr(), result.Stderr)
		exitCode = result.ExitCode
	}

	exitStatus := struct{ Status uint32 }{uint32(exitCode)}
	_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(&exitStatus))
}

// handleSFTP serves the sftp subsystem against cfg.FS via a request-level
// sftp.Handlers, rather than pkg/sftp's built-in local-filesystem server,
// so an /ssh SFTP client can never read or write outside the backend's
// rootDir.
func handleSFTP(ctx context.Context, channel ssh.Channel, cfg ServerConfig) {
	srv := newSFTPRequestServer(ctx, channel, cfg.FS)
	defer srv.Close()

	if err := srv.Serve(); err != nil && err != io.EOF {
		log.Printf("sftp server session ended: %v", err)
	}
}

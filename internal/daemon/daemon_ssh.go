package daemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/coder/websocket"
	"golang.org/x/crypto/ssh"

	"github.com/agentfs/workspaced/internal/backend"
	"github.com/agentfs/workspaced/internal/transport"
)

// handleSSHWebSocket upgrades to a binary-frame WebSocket and splices it
// into an in-process SSH server session against the daemon's backend
// (spec.md §4.11's /ssh route).
func (d *Daemon) handleSSHWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	err = transport.ServeWS(r.Context(), ws, transport.ServerConfig{
		HostKey: d.hostKey,
		FS:      backend.AsFilesystem(d.backend),
		// The bearer token is already validated by authMiddleware before the
		// upgrade; the SSH-level password still carries it for clients that
		// tunnel straight through a raw WebSocket library.
		Authenticate: func(user, password string) bool {
			token := d.cfg.Daemon.AuthToken
			return token == "" || password == token
		},
		PreventDangerous: !d.cfg.AllowDangerous,
	})
	if err != nil {
		log.Printf("/ssh session ended: %v", err)
	}
	_ = ws.Close(websocket.StatusNormalClosure, "session ended")
}

// runConventionalSSH binds a plain TCP listener speaking real SSH,
// authenticated against the configured user:password pairs and/or
// authorized keys, per spec.md §4.11's "conventional-ssh" deployment
// convenience.
func (d *Daemon) runConventionalSSH(ctx context.Context) error {
	addr := fmt.Sprintf("localhost:%d", d.cfg.SSH.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("conventional-ssh listen: %w", err)
	}
	log.Printf("conventional-ssh listening on %s", addr)

	authorizedKeys, err := loadAuthorizedKeys(d.cfg.SSH.PublicKey, d.cfg.SSH.AuthorizedKeys)
	if err != nil {
		return fmt.Errorf("conventional-ssh keys: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	cfg := transport.ServerConfig{
		HostKey: d.hostKey,
		FS:      backend.AsFilesystem(d.backend),
		Authenticate: func(user, password string) bool {
			want, ok := d.cfg.SSH.Users[user]
			return ok && want == password
		},
		AuthorizedKeys:   authorizedKeys,
		PreventDangerous: !d.cfg.AllowDangerous,
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("conventional-ssh accept: %w", err)
		}
		go func() {
			if err := transport.ServeConn(ctx, conn, cfg); err != nil {
				log.Printf("conventional-ssh session ended: %v", err)
			}
		}()
	}
}

// loadAuthorizedKeys parses a single configured public key and/or an
// authorized_keys file into the set of keys conventional-ssh accepts for
// public-key auth (ServerConfig.AuthorizedKeys).
func loadAuthorizedKeys(publicKey, authorizedKeysPath string) ([]ssh.PublicKey, error) {
	var keys []ssh.PublicKey
	if publicKey != "" {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(publicKey))
		if err != nil {
			return nil, fmt.Errorf("parse --ssh-public-key: %w", err)
		}
		keys = append(keys, key)
	}
	if authorizedKeysPath != "" {
		data, err := os.ReadFile(authorizedKeysPath)
		if err != nil {
			return nil, fmt.Errorf("read authorized_keys: %w", err)
		}
		for len(data) > 0 {
			key, _, _, rest, err := ssh.ParseAuthorizedKey(data)
			if err != nil {
				break
			}
			keys = append(keys, key)
			data = rest
		}
	}
	return keys, nil
}

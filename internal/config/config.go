// Package config parses the workspaced daemon's CLI flags and environment
// variables into a validated Config tree.
package config

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/alexflint/go-arg"

	"github.com/agentfs/workspaced/internal/backend"
)

// Version is set at build time via ldflags.
var Version = "dev"

// commaSeparated is a custom type for parsing comma-separated lists.
// Supports both repeated flags (--flag val1 --flag val2) and
// comma-separated env vars (VAR="val1,val2,val3").
type commaSeparated []string

func (c *commaSeparated) UnmarshalText(b []byte) error {
	parts := strings.Split(string(b), ",")
	result := make([]string, 0, len(parts))
	for _, s := range parts {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	*c = result
	return nil
}

// Args holds CLI arguments parsed by go-arg, per spec.md §6's daemon flag
// table.
type Args struct {
	RootDir           string         `arg:"--rootDir,required,env:WORKSPACED_ROOT_DIR" placeholder:"PATH" help:"workspace root directory"`
	Port              int            `arg:"--port,env:WORKSPACED_PORT" default:"3001" placeholder:"PORT" help:"daemon HTTP port"`
	AuthToken         string         `arg:"--auth-token,env:WORKSPACED_AUTH_TOKEN" placeholder:"TOKEN" help:"bearer token required on /health, /mcp, /ssh"`
	Isolation         string         `arg:"--isolation,env:WORKSPACED_ISOLATION" default:"auto" placeholder:"auto|bwrap|software|none" help:"exec sandboxing mode"`
	Shell             string         `arg:"--shell,env:WORKSPACED_SHELL" default:"auto" placeholder:"bash|sh|auto" help:"shell used for exec"`
	ScopePath         string         `arg:"--scopePath,env:WORKSPACED_SCOPE_PATH" placeholder:"REL" help:"restrict the local backend to a sub-path of rootDir"`
	LocalOnly         bool           `arg:"--local-only,env:WORKSPACED_LOCAL_ONLY" help:"bind only an stdio MCP transport; no HTTP listener"`
	DisableSSHWS      bool           `arg:"--disable-ssh-ws,env:WORKSPACED_DISABLE_SSH_WS" help:"disable the /ssh WebSocket-SSH endpoint"`
	SSHHostKey        string         `arg:"--ssh-host-key,env:WORKSPACED_SSH_HOST_KEY" placeholder:"PATH" help:"path to the daemon's SSH host key (generated on first start if absent)"`
	ConventionalSSH   bool           `arg:"--conventional-ssh,env:WORKSPACED_CONVENTIONAL_SSH" help:"also bind a real sshd-style listener"`
	SSHPort           int            `arg:"--ssh-port,env:WORKSPACED_SSH_PORT" default:"2222" placeholder:"PORT" help:"port for --conventional-ssh"`
	SSHUsers          commaSeparated `arg:"--ssh-users,separate,env:WORKSPACED_SSH_USERS" placeholder:"u:p" help:"user:password pairs accepted by --conventional-ssh"`
	SSHPublicKey      string         `arg:"--ssh-public-key,env:WORKSPACED_SSH_PUBLIC_KEY" placeholder:"KEY" help:"single authorized public key for --conventional-ssh"`
	SSHAuthorizedKeys string         `arg:"--ssh-authorized-keys,env:WORKSPACED_SSH_AUTHORIZED_KEYS" placeholder:"PATH" help:"authorized_keys file for --conventional-ssh"`
	EnableSudo        bool           `arg:"--enable-sudo,env:WORKSPACED_ENABLE_SUDO" help:"allow sudo execution"`
	AllowDangerous    bool           `arg:"--allow-dangerous,env:WORKSPACED_ALLOW_DANGEROUS" help:"run commands internal/security classifies as dangerous instead of rejecting them"`
}

// Description returns the program description for go-arg.
func (Args) Description() string {
	return "workspaced - exposes a sandboxed workspace over MCP and SSH"
}

// Version returns the version string for go-arg.
func (Args) Version() string {
	return "workspaced " + Version
}

// Config holds all configuration for the workspaced daemon.
type Config struct {
	RootDir   string
	ScopePath string

	Isolation backend.Isolation
	Shell     string

	// AllowSudo lets Exec callers set ExecOptions.Sudo; off by default.
	AllowSudo bool
	// AllowDangerous disables the default PreventDangerous gate on Exec,
	// letting commands internal/security classifies as dangerous run.
	AllowDangerous bool

	Daemon DaemonConfig
	SSH    ConventionalSSHConfig
}

// DaemonConfig holds the core HTTP/WebSocket listener configuration.
type DaemonConfig struct {
	Port         int
	AuthToken    string
	LocalOnly    bool
	DisableSSHWS bool
	SSHHostKey   string
}

// ConventionalSSHConfig holds the opt-in real-sshd convenience listener
// configuration.
type ConventionalSSHConfig struct {
	Enabled        bool
	Port           int
	Users          map[string]string // user -> password
	PublicKey      string
	AuthorizedKeys string
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("rootDir is required")
	}
	if c.Daemon.Port < 1024 || c.Daemon.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1024-65535)", c.Daemon.Port)
	}
	switch c.Isolation {
	case backend.IsolationAuto, backend.IsolationBwrap, backend.IsolationSoftware, backend.IsolationNone:
	default:
		return fmt.Errorf("invalid isolation: %q (must be auto, bwrap, software, or none)", c.Isolation)
	}
	switch c.Shell {
	case "bash", "sh", "auto":
	default:
		return fmt.Errorf("invalid shell: %q (must be bash, sh, or auto)", c.Shell)
	}
	if err := validateScopePath(c.ScopePath); err != nil {
		return err
	}
	if c.SSH.Enabled && c.Daemon.LocalOnly {
		return fmt.Errorf("--conventional-ssh is incompatible with --local-only")
	}
	if c.SSH.Enabled {
		if c.SSH.Port < 1 || c.SSH.Port > 65535 {
			return fmt.Errorf("invalid ssh-port: %d", c.SSH.Port)
		}
		if len(c.SSH.Users) == 0 && c.SSH.PublicKey == "" && c.SSH.AuthorizedKeys == "" {
			return fmt.Errorf("--conventional-ssh requires --ssh-users, --ssh-public-key, or --ssh-authorized-keys")
		}
	}
	return nil
}

// validateScopePath strips leading slashes and rejects traversal, per
// spec.md §6.
func validateScopePath(p string) error {
	if p == "" {
		return nil
	}
	cleaned := strings.TrimLeft(p, "/")
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") || strings.HasSuffix(cleaned, "/..") {
		return fmt.Errorf("scopePath must not contain traversal: %q", p)
	}
	if path.Clean(cleaned) != cleaned && path.Clean("/"+cleaned) != "/"+cleaned {
		return fmt.Errorf("scopePath must be a clean relative path: %q", p)
	}
	return nil
}

// Parse parses CLI arguments and environment variables into Config.
func Parse() (*Config, error) {
	var args Args
	p, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return nil, fmt.Errorf("arg parser: %w", err)
	}

	if err := p.Parse(os.Args[1:]); err != nil {
		if err == arg.ErrHelp {
			p.WriteHelp(os.Stdout)
			os.Exit(0)
		}
		if err == arg.ErrVersion {
			p.WriteUsage(os.Stdout)
			os.Exit(0)
		}
		return nil, err
	}

	cfg := buildConfig(args)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildConfig(args Args) *Config {
	hostKey := args.SSHHostKey
	if hostKey == "" {
		hostKey = path.Join(args.RootDir, ".workspaced", "ssh_host_key")
	}

	return &Config{
		RootDir:        args.RootDir,
		ScopePath:      strings.TrimLeft(args.ScopePath, "/"),
		Isolation:      backend.Isolation(args.Isolation),
		Shell:          args.Shell,
		AllowSudo:      args.EnableSudo,
		AllowDangerous: args.AllowDangerous,
		Daemon: DaemonConfig{
			Port:         args.Port,
			AuthToken:    args.AuthToken,
			LocalOnly:    args.LocalOnly,
			DisableSSHWS: args.DisableSSHWS,
			SSHHostKey:   hostKey,
		},
		SSH: ConventionalSSHConfig{
			Enabled:        args.ConventionalSSH,
			Port:           args.SSHPort,
			Users:          parseUsers([]string(args.SSHUsers)),
			PublicKey:      args.SSHPublicKey,
			AuthorizedKeys: args.SSHAuthorizedKeys,
		},
	}
}

func parseUsers(pairs []string) map[string]string {
	users := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		user, password, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		users[user] = password
	}
	return users
}

package backends

import (
	"context"
	"time"
)

var errNotConnected = &BackendError{
	Message: "SSH backend not connected: configure host credentials",
	Code:    "not_connected",
}

// SSHConfig holds the connection settings for a remote host.
type SSHConfig struct {
	Host     string
	Port     int
	Username string
	KeyPath  string
	Password string
	Timeout  time.Duration
}

// SSHBackend is a skeleton for future SSH connectivity. Every method returns
// a not_connected error until Connect is implemented against a real
// transport.
type SSHBackend struct {
	config    SSHConfig
	connected bool
}

// NewSSHBackend returns a backend for the configured host. Zero values for
// port, username, and timeout select 22, root, and 10 seconds.
func NewSSHBackend(config SSHConfig) *SSHBackend {
	if config.Port == 0 {
		config.Port = 22
	}
	if config.Username == "" {
		config.Username = "root"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &SSHBackend{config: config}
}

// Connect establishes the SSH session. Not yet implemented.
func (b *SSHBackend) Connect(ctx context.Context) error {
	return &BackendError{
		Message: "SSH connect not implemented",
		Code:    "not_implemented",
	}
}

// Disconnect closes the SSH session.
func (b *SSHBackend) Disconnect() {
	b.connected = false
}

func (b *SSHBackend) ResolveTarget(ctx context.Context, target string) (map[string]any, error) {
	return nil, errNotConnected
}

func (b *SSHBackend) ListDiagnostics(ctx context.Context, target string) ([]DiagnosticInfo, error) {
	return nil, errNotConnected
}

func (b *SSHBackend) RunDiagnostic(ctx context.Context, action, target string, args map[string]any) (map[string]any, error) {
	return nil, errNotConnected
}

func (b *SSHBackend) RunShell(ctx context.Context, command, target string, opts ShellOptions) (map[string]any, error) {
	return nil, errNotConnected
}

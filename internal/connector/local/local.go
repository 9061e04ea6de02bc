// Package local provides a session that runs node shell commands on the
// connector host itself, for nodes co-located with the connector.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/eugenetaranov/ledgerlink/internal/connector"
)

// Connector executes commands on the local machine.
type Connector struct {
	shell     string
	shellArgs []string
	sudo      bool
	sudoUser  string

	mu        sync.Mutex
	connected bool
}

// Option configures the local connector.
type Option func(*Connector)

// WithSudo runs every command through sudo, optionally as user.
func WithSudo(user string) Option {
	return func(c *Connector) {
		c.sudo = true
		c.sudoUser = user
	}
}

// WithShell sets a custom shell for command execution.
func WithShell(shell string, args ...string) Option {
	return func(c *Connector) {
		c.shell = shell
		c.shellArgs = args
	}
}

// New creates a new local connector.
func New(opts ...Option) *Connector {
	c := &Connector{
		shell:     "/bin/sh",
		shellArgs: []string{"-c"},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect verifies the platform and the configured shell.
func (c *Connector) Connect(ctx context.Context) error {
	switch runtime.GOOS {
	case "darwin", "linux":
	default:
		return &connector.ConnectionError{Target: c.String(), Err: fmt.Errorf("unsupported platform: %s", runtime.GOOS)}
	}
	if _, err := exec.LookPath(c.shell); err != nil {
		return &connector.ConnectionError{Target: c.String(), Err: err}
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Execute runs a command locally and returns the result.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	return c.run(ctx, cmd, nil)
}

// Upload writes src to dst through the shell so mode handling matches remote sessions.
func (c *Connector) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	cmd := connector.UploadCommand(dst, mode)
	res, err := c.run(ctx, cmd, src)
	if err != nil {
		return err
	}
	if !res.Success() {
		return connector.NewCommandError(cmd, res)
	}
	return nil
}

// run serializes commands on the session, matching an interactive shell.
func (c *Connector) run(ctx context.Context, cmd string, stdin io.Reader) (*connector.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, &connector.ExecutionError{Target: c.String(), Cmd: cmd, Err: connector.ErrNotConnected}
	}

	args := append(append([]string{}, c.shellArgs...), c.buildCommand(cmd))
	execCmd := exec.CommandContext(ctx, c.shell, args...)

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr
	if stdin != nil {
		execCmd.Stdin = stdin
	}
	// do not wait on grandchildren holding the pipes after a kill
	execCmd.WaitDelay = time.Second

	err := execCmd.Run()
	if ctx.Err() != nil {
		return nil, &connector.ExecutionError{Target: c.String(), Cmd: cmd, Err: ctx.Err()}
	}

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &connector.ExecutionError{Target: c.String(), Cmd: cmd, Err: err}
		}
		result.ExitCode = exitErr.ExitCode()
	}

	return result, nil
}

// buildCommand wraps the command with sudo if configured.
func (c *Connector) buildCommand(cmd string) string {
	if !c.sudo {
		return cmd
	}

	if c.sudoUser != "" {
		return fmt.Sprintf("sudo -u %s -- sh -c %s", c.sudoUser, connector.ShellQuote(cmd))
	}
	return fmt.Sprintf("sudo -- sh -c %s", connector.ShellQuote(cmd))
}

// Close marks the session closed.
func (c *Connector) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// String returns a description of the connection.
func (c *Connector) String() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	if c.sudo && c.sudoUser != "" {
		return fmt.Sprintf("local://%s (sudo as %s)", hostname, c.sudoUser)
	}
	if c.sudo {
		return fmt.Sprintf("local://%s (sudo)", hostname)
	}
	return fmt.Sprintf("local://%s", hostname)
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
